package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/chorus/internal/keys"
	"github.com/ent0n29/chorus/internal/memory"
	"github.com/ent0n29/chorus/internal/provider"
)

// summaryInstruction is deliberately persona-free: summaries are shared
// factual ground, not character material.
const summaryInstruction = "You maintain a factual running summary of a chat conversation. " +
	"Given the existing summary and new messages, produce an updated summary. " +
	"Be concise and factual: key topics, decisions, facts about the participants, open questions. " +
	"No style or persona commentary, no speculation, no sensitive data (credentials, addresses, phone numbers). " +
	"Plain text, at most 2500 characters."

// Summarizer produces an updated rolling summary from the existing one plus
// a window of new turns.
type Summarizer interface {
	Summarize(ctx context.Context, existingSummary string, turns []memory.Turn) (string, error)
}

// ProviderSummarizer calls the generation provider, fetching keys and the
// model override fresh per call.
type ProviderSummarizer struct {
	chat         *provider.ChatClient
	keys         keys.Store
	defaultModel string
}

func NewProviderSummarizer(chat *provider.ChatClient, keyStore keys.Store, defaultModel string) *ProviderSummarizer {
	return &ProviderSummarizer{chat: chat, keys: keyStore, defaultModel: defaultModel}
}

func (s *ProviderSummarizer) Summarize(ctx context.Context, existingSummary string, turns []memory.Turn) (string, error) {
	apiKeys, err := s.keys.ListKeys(ctx, keys.ProviderGeneration)
	if err != nil {
		return "", fmt.Errorf("list generation keys: %w", err)
	}

	model := s.defaultModel
	if override, err := s.keys.ModelOverride(ctx); err == nil && override != "" {
		model = override
	}

	var b strings.Builder
	if existing := strings.TrimSpace(existingSummary); existing != "" {
		b.WriteString("EXISTING SUMMARY:\n")
		b.WriteString(existing)
		b.WriteString("\n\n")
	}
	b.WriteString("NEW MESSAGES:\n")
	for _, t := range turns {
		speaker := t.Speaker
		if speaker == "" {
			speaker = t.Role
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, t.Content)
	}

	messages := []provider.ChatMessage{
		{Role: provider.RoleSystem, Content: summaryInstruction},
		{Role: provider.RoleUser, Content: b.String()},
	}

	out, err := s.chat.Complete(ctx, model, apiKeys, messages)
	if err != nil {
		return "", err
	}

	return truncateSummary(strings.TrimSpace(out)), nil
}

// truncateSummary enforces the summary length ceiling, cutting on a rune
// boundary so the stored text stays valid UTF-8.
func truncateSummary(s string) string {
	if len(s) <= maxSummaryChars {
		return s
	}
	runes := []rune(s)
	total := 0
	for i, r := range runes {
		total += len(string(r))
		if total > maxSummaryChars {
			return strings.TrimSpace(string(runes[:i]))
		}
	}
	return s
}
