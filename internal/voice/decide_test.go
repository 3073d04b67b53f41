package voice

import (
	"context"
	"strings"
	"testing"
)

func TestStaticDeciderHonorsExplicitRequests(t *testing.T) {
	d := StaticDecider{}

	got, err := d.Decide(context.Background(), "can you send a voice message?", "sure")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if got.Mode != ModeVoice {
		t.Fatalf("Mode = %q, want voice", got.Mode)
	}

	got, _ = d.Decide(context.Background(), "no voice please, just type it", "ok")
	if got.Mode != ModeText {
		t.Fatalf("Mode = %q, want text when both appear and text wins", got.Mode)
	}

	got, _ = d.Decide(context.Background(), "how was your day?", "fine")
	if got.Mode != ModeText || got.Reason != "default_text" {
		t.Fatalf("decision = %+v, want default text", got)
	}
}

func TestAllowVoiceGuardrails(t *testing.T) {
	cases := []struct {
		name       string
		enabled    bool
		hasVoiceID bool
		reply      string
		maxChars   int
		allowed    bool
		reason     string
	}{
		{"disabled", false, true, "hi", 600, false, "voice_disabled"},
		{"no voice model", true, false, "hi", 600, false, "no_voice_model"},
		{"empty reply", true, true, "   ", 600, false, "empty_reply"},
		{"too long", true, true, strings.Repeat("a", 700), 600, false, "too_long"},
		{"code block", true, true, "here:\n```go\nfmt.Println(1)\n```", 600, false, "code_or_link"},
		{"link", true, true, "see https://example.com/doc", 600, false, "code_or_link"},
		{"ok", true, true, "sounds good, see you at eight", 600, true, "ok"},
	}
	for _, tc := range cases {
		allowed, reason := AllowVoice(tc.enabled, tc.hasVoiceID, tc.reply, tc.maxChars)
		if allowed != tc.allowed || reason != tc.reason {
			t.Fatalf("%s: AllowVoice = (%v, %q), want (%v, %q)", tc.name, allowed, reason, tc.allowed, tc.reason)
		}
	}
}

func TestLoadProfileEnvResolution(t *testing.T) {
	t.Setenv("ELEVENLABS_VOICE_ID", "shared-voice")
	t.Setenv("ELEVENLABS_VOICE_ID_INA", "ina-voice")

	if got := LoadProfile("Ina").VoiceID; got != "ina-voice" {
		t.Fatalf("Ina VoiceID = %q, want per-character ina-voice", got)
	}
	if got := LoadProfile("Suma").VoiceID; got != "shared-voice" {
		t.Fatalf("Suma VoiceID = %q, want shared fallback", got)
	}
}
