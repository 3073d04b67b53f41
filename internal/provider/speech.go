package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// VoiceSettings tunes synthesis delivery per character.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings matches the provider's neutral delivery.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Style: 0, UseSpeakerBoost: true}
}

// SpeechRequest is one text-to-speech synthesis call.
type SpeechRequest struct {
	VoiceID      string
	Text         string
	ModelID      string
	OutputFormat string
	Settings     *VoiceSettings
}

// SpeechClient calls the speech-synthesis provider with its own key rotation
// list, independent of the generation provider.
type SpeechClient struct {
	apiBase string
	client  *http.Client
}

func NewSpeechClient(apiBase string, timeout time.Duration) *SpeechClient {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://api.elevenlabs.io"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SpeechClient{
		apiBase: strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Synthesize renders text as audio bytes, rotating keys on auth, rate-limit,
// server and transport failures.
func (c *SpeechClient) Synthesize(ctx context.Context, keys []string, req SpeechRequest) ([]byte, error) {
	voiceID := strings.TrimSpace(req.VoiceID)
	if voiceID == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	outputFormat := strings.TrimSpace(req.OutputFormat)
	if outputFormat == "" {
		outputFormat = "mp3_44100_128"
	}

	body := map[string]any{
		"text":          text,
		"model_id":      modelID,
		"output_format": outputFormat,
	}
	if req.Settings != nil {
		body["voice_settings"] = *req.Settings
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	endpoint := c.apiBase + "/v1/text-to-speech/" + url.PathEscape(voiceID)

	return Execute(ctx, keys, func(ctx context.Context, key string) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "audio/mpeg")
		httpReq.Header.Set("xi-api-key", key)

		res, err := c.client.Do(httpReq)
		if err != nil {
			return nil, &CallError{Class: ClassTransport, Err: err}
		}
		defer res.Body.Close()

		if class, ok := classifyStatus(res.StatusCode); ok {
			detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			return nil, &CallError{Class: class, Status: res.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(detail)))}
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			return nil, fmt.Errorf("speech http status %d: %s", res.StatusCode, string(detail))
		}

		audio, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, &CallError{Class: ClassTransport, Err: fmt.Errorf("read audio: %w", err)}
		}
		if len(audio) == 0 {
			return nil, ErrEmptyReply
		}
		return audio, nil
	})
}
