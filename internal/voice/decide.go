package voice

import (
	"context"
	"regexp"
	"strings"
)

// Decision is the delivery choice for one reply.
type Decision struct {
	Mode   string // "text" | "voice"
	Reason string
}

const (
	ModeText  = "text"
	ModeVoice = "voice"
)

// Decider chooses between text and voice delivery. Model-assisted deciders
// live outside this package; StaticDecider is the deterministic default.
type Decider interface {
	Decide(ctx context.Context, userMessage, replyText string) (Decision, error)
}

// StaticDecider honors explicit user requests and otherwise stays on text.
type StaticDecider struct{}

func (StaticDecider) Decide(_ context.Context, userMessage, _ string) (Decision, error) {
	if WantsText(userMessage) {
		return Decision{Mode: ModeText, Reason: "user_requested_text"}, nil
	}
	if WantsVoice(userMessage) {
		return Decision{Mode: ModeVoice, Reason: "user_requested_voice"}, nil
	}
	return Decision{Mode: ModeText, Reason: "default_text"}, nil
}

var voiceTriggers = []string{
	"voice",
	"say it",
	"say this",
	"read this",
	"read it",
	"speak",
	"send a voice",
	"send voice",
	"voice message",
}

var textTriggers = []string{
	"text",
	"type it",
	"write it",
	"no voice",
	"don't use voice",
	"dont use voice",
	"no audio",
}

// WantsVoice reports an explicit user request for spoken delivery.
func WantsVoice(text string) bool {
	return containsAny(text, voiceTriggers)
}

// WantsText reports an explicit user request for written delivery.
func WantsText(text string) bool {
	return containsAny(text, textTriggers)
}

func containsAny(text string, triggers []string) bool {
	t := strings.ToLower(text)
	for _, trigger := range triggers {
		if strings.Contains(t, trigger) {
			return true
		}
	}
	return false
}

var linkRe = regexp.MustCompile(`(?i)https?://\S+`)

// AllowVoice enforces the hard guardrails before any voice delivery,
// independent of what the decider chose. The returned reason names the
// first failing gate.
func AllowVoice(enabled, voiceIDPresent bool, replyText string, maxChars int) (bool, string) {
	if !enabled {
		return false, "voice_disabled"
	}
	if !voiceIDPresent {
		return false, "no_voice_model"
	}
	reply := strings.TrimSpace(replyText)
	if reply == "" {
		return false, "empty_reply"
	}
	if maxChars > 0 && len(reply) > maxChars {
		return false, "too_long"
	}
	if strings.Contains(reply, "```") || linkRe.MatchString(reply) {
		return false, "code_or_link"
	}
	return true, "ok"
}
