package compaction

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ent0n29/chorus/internal/memory"
	"github.com/ent0n29/chorus/internal/observability"
)

const (
	// DefaultDebounce is the minimum gap between evaluation attempts for
	// one scope.
	DefaultDebounce = 75 * time.Second

	// DefaultSummaryTrigger is the persisted-turn count that makes a scope
	// worth compacting.
	DefaultSummaryTrigger = 220

	// DefaultKeepLast is how many newest turns survive a compaction.
	DefaultKeepLast = 60

	evalListLimit   = 500
	maxSummaryChars = 2500
)

// Outcome is the terminal state of one scheduler pass.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCompacted Outcome = "compacted"
	OutcomeFailed    Outcome = "failed"
)

// Submitter hands background work to an owned pool.
type Submitter interface {
	Submit(job func(context.Context)) bool
}

type Config struct {
	Debounce       time.Duration
	SummaryTrigger int
	KeepLast       int
}

// Scheduler watches per-scope window growth and compacts it into a rolling
// summary plus a retained tail. Every failure is absorbed: compaction must
// never block or fail the reply path.
type Scheduler struct {
	cfg        Config
	store      memory.Store
	summarizer Summarizer
	pool       Submitter
	metrics    *observability.Metrics

	now func() time.Time

	mu       sync.Mutex
	lastEval map[string]time.Time
	inflight map[string]bool
}

func NewScheduler(cfg Config, store memory.Store, summarizer Summarizer, pool Submitter, metrics *observability.Metrics) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.SummaryTrigger <= 0 {
		cfg.SummaryTrigger = DefaultSummaryTrigger
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = DefaultKeepLast
	}
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		summarizer: summarizer,
		pool:       pool,
		metrics:    metrics,
		now:        time.Now,
		lastEval:   make(map[string]time.Time),
		inflight:   make(map[string]bool),
	}
}

// TurnAppended is called after every append. It is non-blocking: at most it
// enqueues one evaluation pass, and only when the scope is outside its
// debounce window with no pass already in flight.
func (s *Scheduler) TurnAppended(scope memory.Scope) {
	key := scope.Key()
	now := s.now()

	s.mu.Lock()
	if s.inflight[key] || now.Sub(s.lastEval[key]) < s.cfg.Debounce {
		s.mu.Unlock()
		return
	}
	s.lastEval[key] = now
	s.inflight[key] = true
	s.mu.Unlock()

	submitted := s.pool.Submit(func(ctx context.Context) {
		defer s.clearInflight(key)
		s.Evaluate(ctx, scope)
	})
	if !submitted {
		s.clearInflight(key)
	}
}

func (s *Scheduler) clearInflight(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// Evaluate runs one full pass for a scope and reports how it ended. It is
// exported so shutdown hooks and tests can drive a pass synchronously.
func (s *Scheduler) Evaluate(ctx context.Context, scope memory.Scope) Outcome {
	outcome := s.evaluate(ctx, scope)
	if s.metrics != nil {
		s.metrics.CompactionRuns.WithLabelValues(string(outcome)).Inc()
	}
	return outcome
}

func (s *Scheduler) evaluate(ctx context.Context, scope memory.Scope) Outcome {
	ids, err := s.store.ListRecentTurnIDs(ctx, scope, evalListLimit)
	if err != nil {
		log.Printf("compaction: list turn ids for %s failed: %v", scope.Key(), err)
		return OutcomeFailed
	}
	if len(ids) < s.cfg.SummaryTrigger {
		return OutcomeSkipped
	}

	mem, err := s.store.GetMemory(ctx, scope, s.cfg.SummaryTrigger)
	if err != nil || mem == nil {
		log.Printf("compaction: fetch window for %s failed: %v", scope.Key(), err)
		return OutcomeFailed
	}

	summary, err := s.summarizer.Summarize(ctx, mem.Summary, mem.RecentTurns)
	if err != nil {
		log.Printf("compaction: summarize %s failed: %v", scope.Key(), err)
		return OutcomeFailed
	}
	if summary == "" {
		return OutcomeFailed
	}

	keep := ids
	if len(keep) > s.cfg.KeepLast {
		keep = keep[len(keep)-s.cfg.KeepLast:]
	}
	if err := s.store.SetSummaryAndCompact(ctx, scope, summary, keep); err != nil {
		log.Printf("compaction: compact %s failed: %v", scope.Key(), err)
		return OutcomeFailed
	}

	log.Printf("compaction: %s compacted to %d turns (summary %d chars)", scope.Key(), len(keep), len(summary))
	return OutcomeCompacted
}
