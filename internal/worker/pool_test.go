package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := NewPool(2, 16)
	p.Start()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if !p.Submit(func(_ context.Context) { ran.Add(1) }) {
			t.Fatalf("Submit() = false, want true")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if got := ran.Load(); got != 5 {
		t.Fatalf("ran = %d, want 5", got)
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	p := NewPool(1, 1)
	// Not started: nothing consumes, so the second submit must be rejected.
	if !p.Submit(func(_ context.Context) {}) {
		t.Fatalf("first Submit() = false, want true")
	}
	if p.Submit(func(_ context.Context) {}) {
		t.Fatalf("second Submit() = true, want false on full queue")
	}
}

func TestPoolRejectsAfterDrain(t *testing.T) {
	p := NewPool(1, 4)
	p.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if p.Submit(func(_ context.Context) {}) {
		t.Fatalf("Submit() after Drain = true, want false")
	}
}

func TestSubmitConcurrentWithDrainDoesNotPanic(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		p := NewPool(2, 8)
		p.Start()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					// A rejected submit is fine here; a panic is not.
					p.Submit(func(_ context.Context) {})
				}
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := p.Drain(ctx); err != nil {
			cancel()
			t.Fatalf("Drain() error = %v", err)
		}
		cancel()
		wg.Wait()
	}
}

func TestDrainCancelsJobContextOnTimeout(t *testing.T) {
	p := NewPool(1, 4)
	p.Start()

	jobDone := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		<-ctx.Done()
		close(jobDone)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Drain(ctx); err == nil {
		t.Fatalf("Drain() error = nil, want deadline exceeded")
	}

	select {
	case <-jobDone:
	case <-time.After(time.Second):
		t.Fatalf("job context was not cancelled after drain timeout")
	}
}
