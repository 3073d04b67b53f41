package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one prompt entry sent to the generation provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient calls an Ollama-compatible hosted chat endpoint with bearer-key
// rotation. It holds no per-call state.
type ChatClient struct {
	apiURL string
	client *http.Client
}

func NewChatClient(apiURL string, timeout time.Duration) *ChatClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatClient{
		apiURL: strings.TrimSpace(apiURL),
		client: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Complete issues one chat completion, trying keys in order. A timeout or
// network error counts as a transport failure and rotates; an empty reply
// from a successful call is ErrEmptyReply.
func (c *ChatClient) Complete(ctx context.Context, model string, keys []string, messages []ChatMessage) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	return Execute(ctx, keys, func(ctx context.Context, key string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)

		res, err := c.client.Do(req)
		if err != nil {
			return "", &CallError{Class: ClassTransport, Err: err}
		}
		defer res.Body.Close()

		if class, ok := classifyStatus(res.StatusCode); ok {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			return "", &CallError{Class: class, Status: res.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			return "", fmt.Errorf("chat http status %d: %s", res.StatusCode, string(body))
		}

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return "", &CallError{Class: ClassTransport, Err: fmt.Errorf("read response: %w", err)}
		}

		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err != nil {
			return "", &CallError{Class: ClassTransport, Err: fmt.Errorf("decode response: %w", err)}
		}

		content, ok := extractContent(obj)
		if !ok {
			return "", &CallError{Class: ClassTransport, Err: fmt.Errorf("unexpected response schema")}
		}
		if strings.TrimSpace(content) == "" {
			return "", ErrEmptyReply
		}
		return content, nil
	})
}

// extractContent handles the common Ollama schema {message:{content}} plus
// the OpenAI-style shapes some hosted deployments return.
func extractContent(obj map[string]any) (string, bool) {
	if msg, ok := obj["message"].(map[string]any); ok {
		if s, ok := msg["content"].(string); ok {
			return s, true
		}
	}
	if s, ok := obj["content"].(string); ok {
		return s, true
	}
	if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
		if first, ok := choices[0].(map[string]any); ok {
			if msg, ok := first["message"].(map[string]any); ok {
				if s, ok := msg["content"].(string); ok {
					return s, true
				}
			}
		}
	}
	return "", false
}
