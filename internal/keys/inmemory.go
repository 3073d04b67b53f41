package keys

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// InMemoryStore keeps credentials in process memory for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	keys     map[Provider][]string
	ids      map[Provider]map[string]struct{}
	override string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		keys: make(map[Provider][]string),
		ids:  make(map[Provider]map[string]struct{}),
	}
}

func (s *InMemoryStore) ListKeys(_ context.Context, provider Provider) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.keys[provider]))
	copy(out, s.keys[provider])
	return out, nil
}

func (s *InMemoryStore) AddKeys(_ context.Context, provider Provider, newKeys []string, _, _ string) (AddStats, error) {
	cleaned := cleanKeys(newKeys)

	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.ids[provider]
	if !ok {
		ids = make(map[string]struct{})
		s.ids[provider] = ids
	}

	stats := AddStats{}
	for _, k := range cleaned {
		id := KeyID(k)
		if _, dup := ids[id]; dup {
			stats.Skipped++
			continue
		}
		ids[id] = struct{}{}
		s.keys[provider] = append(s.keys[provider], k)
		stats.Added++
	}
	stats.Total = len(s.keys[provider])
	return stats, nil
}

func (s *InMemoryStore) ModelOverride(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.override, nil
}

func (s *InMemoryStore) SetModelOverride(_ context.Context, model, _, _ string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = model
	return nil
}

func (s *InMemoryStore) ClearModelOverride(_ context.Context, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = ""
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
