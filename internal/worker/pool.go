// Package worker provides a bounded goroutine pool for best-effort background
// jobs, chiefly replication fan-out after a primary write.
package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Pool runs submitted jobs on at most size concurrent goroutines. Job
// failures are the job's own business; the pool only bounds concurrency and
// supports draining at shutdown.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewPool builds a pool with the given concurrency. size < 1 is coerced to 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit schedules fn on the pool without blocking the caller. After Drain
// the job is dropped with a log line; replication jobs are best-effort so a
// drop at shutdown is acceptable.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		slog.Warn("pool draining, job dropped")
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			slog.Warn("job abandoned before start", "error", ctx.Err())
			return
		}
		defer func() { <-p.sem }()
		fn(ctx)
	}()
}

// Drain stops accepting jobs and waits for in-flight jobs to finish.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// InFlight reports the number of jobs currently holding a slot.
func (p *Pool) InFlight() int {
	return len(p.sem)
}
