package prompt

import (
	"context"
	"log"
	"sort"

	"github.com/ent0n29/chorus/internal/memory"
)

const (
	// MaxContext caps the assembled context length.
	MaxContext = 60

	// BaseDepth is the desired context depth for an ordinary reply.
	BaseDepth = 20

	deepStoreLimit   = 160
	normalStoreLimit = 40
	deepFetchLimit   = 200
	minDeepPicks     = 10
)

// HistoryFetcher is the platform-history collaborator: best-effort, ascending
// order, may return less than asked for.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, channelID int64, beforeTurnID int64, limit int) ([]memory.Turn, error)
}

// Context is the assembled prompt material for one reply.
type Context struct {
	Summary     string
	Turns       []memory.Turn
	DeepHistory bool
}

// Assembler merges the rolling buffer, the persisted window and an on-demand
// deep-history retrieval into one bounded, ordered context.
type Assembler struct {
	store   memory.Store
	history HistoryFetcher
}

func NewAssembler(store memory.Store, history HistoryFetcher) *Assembler {
	return &Assembler{store: store, history: history}
}

// Build produces the prior turns to send alongside trigger. Store and
// platform failures degrade to whatever material is available; Build itself
// never fails the reply path.
func (a *Assembler) Build(ctx context.Context, scope memory.Scope, trigger memory.Turn, buf *Buffer) Context {
	deep := WantsDeepHistory(trigger.Content)
	depth := BaseDepth
	storeLimit := normalStoreLimit
	if deep {
		storeLimit = deepStoreLimit
	}

	var turns []memory.Turn
	if buf != nil {
		turns = tail(buf.Snapshot(true), depth)
	}

	var summary string
	var cutoff int64
	if a.store != nil {
		mem, err := a.store.GetMemory(ctx, scope, storeLimit)
		if err != nil {
			log.Printf("prompt: get memory for %s failed: %v", scope.Key(), err)
		} else if mem != nil {
			summary = mem.Summary
			cutoff = mem.CutoffTurnID
			turns = dropThroughCutoff(turns, cutoff)
			persisted := dropThroughCutoff(dropTurn(mem.RecentTurns, trigger.ID), cutoff)
			if len(persisted) > 0 {
				// The persisted window is authoritative whenever it has
				// anything usable.
				turns = persisted
			}
		}
	}

	if a.history != nil && (deep || len(turns) < depth) {
		fetched, err := a.history.FetchHistory(ctx, scope.ChannelID, trigger.ID, deepFetchLimit)
		if err != nil {
			log.Printf("prompt: history fetch for %s failed: %v", scope.Key(), err)
		} else if len(fetched) > 0 {
			fetched = dropThroughCutoff(dropTurn(fetched, trigger.ID), cutoff)
			turns = mergeFetched(turns, fetched, trigger, depth, deep)
		}
	}

	turns = dedupeRoleContent(turns)
	turns = tail(turns, MaxContext)

	return Context{Summary: summary, Turns: turns, DeepHistory: deep}
}

// mergeFetched combines a platform-history window with the current context.
// For deep history, non-recent fetched turns are ranked by lexical overlap
// with the trigger message and the best scorers join the recent window; for a
// merely short context the fetched window simply backfills it.
func mergeFetched(current, fetched []memory.Turn, trigger memory.Turn, depth int, deep bool) []memory.Turn {
	all := unionByID(fetched, current)
	if !deep {
		return tail(all, depth)
	}

	recent := tail(all, depth)
	recentIDs := make(map[int64]struct{}, len(recent))
	for _, t := range recent {
		recentIDs[t.ID] = struct{}{}
	}

	triggerKeywords := make(map[string]struct{})
	for _, w := range ExtractKeywords(trigger.Content) {
		triggerKeywords[w] = struct{}{}
	}

	type scored struct {
		turn  memory.Turn
		score int
		pos   int
	}
	older := make([]scored, 0, len(all))
	for i, t := range all {
		if _, ok := recentIDs[t.ID]; ok {
			continue
		}
		older = append(older, scored{turn: t, score: overlapScore(t.Content, triggerKeywords), pos: i})
	}

	// Highest score first; ties go to the earlier turn.
	sort.SliceStable(older, func(i, j int) bool {
		if older[i].score != older[j].score {
			return older[i].score > older[j].score
		}
		return older[i].pos < older[j].pos
	})

	picks := minDeepPicks
	if depth > picks {
		picks = depth
	}
	if picks > len(older) {
		picks = len(older)
	}

	merged := make([]memory.Turn, 0, picks+len(recent))
	for _, s := range older[:picks] {
		merged = append(merged, s.turn)
	}
	merged = append(merged, recent...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}

func unionByID(a, b []memory.Turn) []memory.Turn {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]memory.Turn, 0, len(a)+len(b))
	for _, t := range append(append([]memory.Turn{}, a...), b...) {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func dropThroughCutoff(turns []memory.Turn, cutoff int64) []memory.Turn {
	if cutoff <= 0 {
		return turns
	}
	out := turns[:0:0]
	for _, t := range turns {
		if t.ID > cutoff {
			out = append(out, t)
		}
	}
	return out
}

func dropTurn(turns []memory.Turn, id int64) []memory.Turn {
	out := turns[:0:0]
	for _, t := range turns {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// dedupeRoleContent keeps the chronologically first occurrence of each
// (role, content) pair.
func dedupeRoleContent(turns []memory.Turn) []memory.Turn {
	type pair struct {
		role    string
		content string
	}
	seen := make(map[pair]struct{}, len(turns))
	out := turns[:0:0]
	for _, t := range turns {
		p := pair{role: t.Role, content: t.Content}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, t)
	}
	return out
}

func tail(turns []memory.Turn, n int) []memory.Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
