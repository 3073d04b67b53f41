package keys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Provider namespaces credential sets so generation and speech keys are
// never mixed.
type Provider string

const (
	ProviderGeneration Provider = "generation"
	ProviderSpeech     Provider = "speech"
)

// AddStats reports the outcome of an idempotent key addition.
type AddStats struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Store holds provider credential sets and the process-wide runtime model
// override. Both are read fresh on every call so administrative changes take
// effect without restarting the bots. Key deletion is deliberately absent.
type Store interface {
	// ListKeys returns the ordered, de-duplicated key list for a provider.
	ListKeys(ctx context.Context, provider Provider) ([]string, error)

	// AddKeys appends keys idempotently; duplicates (by content hash) are
	// skipped, never rewritten.
	AddKeys(ctx context.Context, provider Provider, newKeys []string, addedBy, source string) (AddStats, error)

	// ModelOverride returns the runtime model override, or "" when unset.
	ModelOverride(ctx context.Context) (string, error)

	SetModelOverride(ctx context.Context, model, updatedBy, source string) error
	ClearModelOverride(ctx context.Context, clearedBy, source string) error

	Close() error
}

// KeyID derives the stable identifier for one credential.
func KeyID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:24]
}

// Mask renders a credential safe for logs.
func Mask(apiKey string) string {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ""
	}
	return "key:" + KeyID(apiKey)[:8]
}

func cleanKeys(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
