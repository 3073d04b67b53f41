package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is an in-process store for local/dev use and tests. It keeps
// the same semantics as the postgres store, including the cutoff marker.
type InMemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]*scopeState
}

type scopeState struct {
	scope       Scope
	summary     string
	turns       map[int64]Turn
	recentCount int
	cutoff      int64
	updatedAt   time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{scopes: make(map[string]*scopeState)}
}

func (s *InMemoryStore) state(scope Scope) *scopeState {
	key := scope.Key()
	st, ok := s.scopes[key]
	if !ok {
		st = &scopeState{scope: scope, turns: make(map[int64]Turn)}
		s.scopes[key] = st
	}
	return st
}

func (s *InMemoryStore) Append(_ context.Context, scope Scope, turn Turn) error {
	turn.Content = strings.TrimSpace(turn.Content)
	if turn.Content == "" {
		return nil
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(scope)
	if _, exists := st.turns[turn.ID]; !exists {
		st.recentCount++
	}
	st.turns[turn.ID] = turn
	st.updatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) GetMemory(_ context.Context, scope Scope, limit int) (*ScopeMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.scopes[scope.Key()]
	if !ok {
		return nil, nil
	}

	ids := sortedIDs(st)
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	recent := make([]Turn, 0, len(ids))
	for _, id := range ids {
		recent = append(recent, st.turns[id])
	}

	return &ScopeMemory{
		Summary:      st.summary,
		RecentTurns:  recent,
		RecentCount:  st.recentCount,
		CutoffTurnID: st.cutoff,
		UpdatedAt:    st.updatedAt,
	}, nil
}

func (s *InMemoryStore) ListRecentTurnIDs(_ context.Context, scope Scope, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.scopes[scope.Key()]
	if !ok {
		return nil, nil
	}
	ids := sortedIDs(st)
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	return ids, nil
}

func (s *InMemoryStore) SetSummaryAndCompact(_ context.Context, scope Scope, summary string, keepIDs []int64) error {
	keep := make(map[int64]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(scope)
	st.summary = strings.TrimSpace(summary)
	st.recentCount = len(keepIDs)
	st.updatedAt = time.Now().UTC()
	for id := range st.turns {
		if _, ok := keep[id]; !ok {
			delete(st.turns, id)
		}
	}
	return nil
}

func (s *InMemoryStore) ClearMemory(_ context.Context, scope Scope, cutoffTurnID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(scope)
	st.turns = make(map[int64]Turn)
	st.summary = ""
	st.recentCount = 0
	if cutoffTurnID > st.cutoff {
		st.cutoff = cutoffTurnID
	}
	st.updatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) ClearAllScopesUnderPrefix(ctx context.Context, botKey string, cutoffTurnID int64) (int, error) {
	s.mu.RLock()
	targets := make([]Scope, 0)
	for _, st := range s.scopes {
		if st.scope.BotKey == botKey {
			targets = append(targets, st.scope)
		}
	}
	s.mu.RUnlock()

	for _, scope := range targets {
		_ = s.ClearMemory(ctx, scope, cutoffTurnID)
	}
	return len(targets), nil
}

func (s *InMemoryStore) ListScopes(_ context.Context, botKey string) ([]Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Scope, 0, len(s.scopes))
	for _, st := range s.scopes {
		if botKey == "" || st.scope.BotKey == botKey {
			out = append(out, st.scope)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func sortedIDs(st *scopeState) []int64 {
	ids := make([]int64, 0, len(st.turns))
	for id := range st.turns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
