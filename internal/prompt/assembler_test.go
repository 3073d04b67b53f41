package prompt

import (
	"context"
	"fmt"
	"testing"

	"github.com/ent0n29/chorus/internal/memory"
)

type stubHistory struct {
	turns []memory.Turn
	calls int
}

func (s *stubHistory) FetchHistory(_ context.Context, _ int64, _ int64, _ int) ([]memory.Turn, error) {
	s.calls++
	return s.turns, nil
}

func userTurn(id int64, content string) memory.Turn {
	return memory.Turn{ID: id, Role: memory.RoleUser, Content: content}
}

func TestBuildUsesBufferTailWithoutStore(t *testing.T) {
	a := NewAssembler(nil, nil)
	scope := memory.Scope{BotKey: "ina", ChannelID: 1, UserID: 1}

	buf := NewBuffer(DefaultBufferCapacity)
	for id := int64(1); id <= 25; id++ {
		buf.Append(userTurn(id, fmt.Sprintf("message %d", id)))
	}
	trigger := userTurn(26, "how are you")
	buf.Append(trigger)

	got := a.Build(context.Background(), scope, trigger, buf)
	if got.DeepHistory {
		t.Fatalf("DeepHistory = true, want false")
	}
	if len(got.Turns) != BaseDepth {
		t.Fatalf("turns = %d, want %d", len(got.Turns), BaseDepth)
	}
	if got.Turns[0].ID != 6 || got.Turns[len(got.Turns)-1].ID != 25 {
		t.Fatalf("window = [%d..%d], want [6..25]", got.Turns[0].ID, got.Turns[len(got.Turns)-1].ID)
	}
}

func TestBuildPrefersPersistedWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	scope := memory.Scope{BotKey: "ina", ChannelID: 1, UserID: 1}

	for id := int64(1); id <= 10; id++ {
		_ = store.Append(ctx, scope, userTurn(id, fmt.Sprintf("stored %d", id)))
	}
	_ = store.SetSummaryAndCompact(ctx, scope, "a rolling summary", []int64{6, 7, 8, 9, 10})

	buf := NewBuffer(DefaultBufferCapacity)
	buf.Append(userTurn(99, "volatile only"))
	trigger := userTurn(100, "hello")
	buf.Append(trigger)

	a := NewAssembler(store, nil)
	got := a.Build(ctx, scope, trigger, buf)

	if got.Summary != "a rolling summary" {
		t.Fatalf("Summary = %q", got.Summary)
	}
	if len(got.Turns) != 5 || got.Turns[0].ID != 6 {
		t.Fatalf("turns = %+v, want stored window 6..10", got.Turns)
	}
}

func TestBuildFiltersBufferThroughCutoff(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	scope := memory.Scope{BotKey: "ina", ChannelID: 1, UserID: 1}
	_ = store.ClearMemory(ctx, scope, 50)

	buf := NewBuffer(DefaultBufferCapacity)
	buf.Append(userTurn(40, "before the wipe"))
	buf.Append(userTurn(60, "after the wipe"))
	trigger := userTurn(61, "hello")
	buf.Append(trigger)

	a := NewAssembler(store, nil)
	got := a.Build(ctx, scope, trigger, buf)

	for _, turn := range got.Turns {
		if turn.ID <= 50 {
			t.Fatalf("turn %d survived the cutoff", turn.ID)
		}
	}
	if len(got.Turns) != 1 || got.Turns[0].ID != 60 {
		t.Fatalf("turns = %+v, want only turn 60", got.Turns)
	}
}

func TestBuildDeepHistoryRanksByOverlap(t *testing.T) {
	ctx := context.Background()
	scope := memory.Scope{BotKey: "ina", ChannelID: 1, UserID: 1}

	history := &stubHistory{}
	for id := int64(1); id <= 40; id++ {
		content := fmt.Sprintf("ordinary chatter number %d", id)
		if id == 3 {
			content = "we planned the lisbon trip for june"
		}
		history.turns = append(history.turns, userTurn(id, content))
	}

	buf := NewBuffer(DefaultBufferCapacity)
	for id := int64(41); id <= 45; id++ {
		buf.Append(userTurn(id, fmt.Sprintf("recent %d", id)))
	}
	trigger := userTurn(46, "do you remember the lisbon trip we planned?")
	buf.Append(trigger)

	a := NewAssembler(memory.NewInMemoryStore(), history)
	got := a.Build(ctx, scope, trigger, buf)

	if !got.DeepHistory {
		t.Fatalf("DeepHistory = false, want true")
	}
	if history.calls != 1 {
		t.Fatalf("history calls = %d, want 1", history.calls)
	}
	found := false
	for _, turn := range got.Turns {
		if turn.ID == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("high-overlap turn 3 missing from deep context")
	}
	for i := 1; i < len(got.Turns); i++ {
		if got.Turns[i].ID <= got.Turns[i-1].ID {
			t.Fatalf("context not in ascending order at %d", i)
		}
	}
}

func TestBuildCapsAtMaxContext(t *testing.T) {
	ctx := context.Background()
	scope := memory.Scope{BotKey: "ina", ChannelID: 1, UserID: 1}

	history := &stubHistory{}
	for id := int64(1); id <= 150; id++ {
		history.turns = append(history.turns, userTurn(id, fmt.Sprintf("lisbon trip detail %d", id)))
	}

	buf := NewBuffer(DefaultBufferCapacity)
	trigger := userTurn(151, "remember the lisbon trip?")
	buf.Append(trigger)

	a := NewAssembler(memory.NewInMemoryStore(), history)
	got := a.Build(ctx, scope, trigger, buf)

	if len(got.Turns) > MaxContext {
		t.Fatalf("turns = %d, want <= %d", len(got.Turns), MaxContext)
	}
}

func TestBuildDedupesRoleContentPairs(t *testing.T) {
	a := NewAssembler(nil, nil)
	scope := memory.Scope{BotKey: "ina", ChannelID: 1, UserID: 1}

	buf := NewBuffer(DefaultBufferCapacity)
	buf.Append(userTurn(1, "hello"))
	buf.Append(userTurn(2, "hello"))
	buf.Append(memory.Turn{ID: 3, Role: memory.RoleAssistant, Content: "hello"})
	trigger := userTurn(4, "hi")
	buf.Append(trigger)

	got := a.Build(context.Background(), scope, trigger, buf)
	if len(got.Turns) != 2 {
		t.Fatalf("turns = %d, want 2 (duplicate user hello collapsed)", len(got.Turns))
	}
	if got.Turns[0].ID != 1 {
		t.Fatalf("first kept occurrence = %d, want 1", got.Turns[0].ID)
	}
}
