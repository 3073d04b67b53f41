package worker

import (
	"context"
	"errors"
	"sync"
)

var ErrDraining = errors.New("worker pool draining")

// Pool runs background jobs on a bounded set of workers with an owned
// lifecycle, so shutdown can drain in-flight work and tests can await
// completion deterministically.
type Pool struct {
	size   int
	jobs   chan func(context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	draining bool
}

func NewPool(size, queueDepth int) *Pool {
	if size <= 0 {
		size = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:   size,
		jobs:   make(chan func(context.Context), queueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		job(p.ctx)
	}
}

// Submit enqueues a job. It reports false when the pool is draining or the
// queue is full; background work is best-effort and dropped rather than
// blocking the caller. The lock is held across the send so it cannot race
// the channel close in Drain.
func (p *Pool) Submit(job func(context.Context)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Drain stops accepting new work and waits for queued jobs to finish, or for
// ctx to expire, whichever comes first. On expiry remaining jobs are
// cancelled through the pool context.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return ErrDraining
	}
	p.draining = true
	started := p.started
	close(p.jobs)
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
