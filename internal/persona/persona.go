package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// systemPreamble frames the character block as a chat persona. Short and
// directive; the block itself carries the style.
const systemPreamble = "You are a chat character roleplaying exactly as described below. " +
	"Stay in-character, be helpful, and sound like a real person chatting (natural, not robotic). " +
	"Keep replies concise unless asked for detail.\n\nCHARACTER PROFILE:\n"

// Persona is one named character with its prompt block.
type Persona struct {
	Name        string
	PromptBlock string
}

// SystemPrompt renders the full system instruction for this character.
func (p *Persona) SystemPrompt() string {
	return systemPreamble + strings.TrimSpace(p.PromptBlock) + "\n"
}

type characterEntry struct {
	PromptBlock string `yaml:"prompt_block"`
}

type charactersFile struct {
	Aliases    map[string]string         `yaml:"aliases"`
	Characters map[string]characterEntry `yaml:"characters"`
}

// Load reads one character from the characters file, resolving aliases.
func Load(path, characterName string) (*Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read characters file: %w", err)
	}

	var file charactersFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse characters file: %w", err)
	}

	name := strings.TrimSpace(characterName)
	if alias, ok := file.Aliases[name]; ok {
		name = alias
	} else if alias, ok := file.Aliases[strings.ToLower(name)]; ok {
		name = alias
	}

	entry, ok := file.Characters[name]
	if !ok || strings.TrimSpace(entry.PromptBlock) == "" {
		return nil, fmt.Errorf("character %q not found in %s", name, path)
	}

	return &Persona{Name: name, PromptBlock: entry.PromptBlock}, nil
}
