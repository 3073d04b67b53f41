package voice

import (
	"os"
	"strings"

	"github.com/ent0n29/chorus/internal/provider"
)

// Profile binds a character to a speech voice plus its synthesis settings.
type Profile struct {
	VoiceID  string
	Settings provider.VoiceSettings
}

// characterSettings tunes synthesis per character. Anything not listed
// falls back to the provider defaults.
var characterSettings = map[string]provider.VoiceSettings{
	"ina": {
		Stability:       0.45,
		SimilarityBoost: 0.80,
		Style:           0.35,
		UseSpeakerBoost: true,
	},
	"suma": {
		Stability:       0.60,
		SimilarityBoost: 0.75,
		Style:           0.15,
		UseSpeakerBoost: true,
	},
}

// LoadProfile resolves the voice for one character from the environment:
// ELEVENLABS_VOICE_ID_<CHARACTER> first, then ELEVENLABS_VOICE_ID. An
// empty VoiceID means the character has no voice configured.
func LoadProfile(characterName string) Profile {
	name := normalizeCharacterKey(characterName)

	voiceID := strings.TrimSpace(os.Getenv("ELEVENLABS_VOICE_ID_" + strings.ToUpper(name)))
	if voiceID == "" {
		voiceID = strings.TrimSpace(os.Getenv("ELEVENLABS_VOICE_ID"))
	}

	settings, ok := characterSettings[name]
	if !ok {
		settings = provider.DefaultVoiceSettings()
	}
	return Profile{VoiceID: voiceID, Settings: settings}
}

func normalizeCharacterKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "_")
}
