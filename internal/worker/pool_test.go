package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllJobs(t *testing.T) {
	p := NewPool(4)
	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		p.Submit(context.Background(), func(context.Context) {
			ran.Add(1)
		})
	}
	p.Drain()
	if got := ran.Load(); got != 20 {
		t.Fatalf("ran %d jobs, want 20", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var active, peak atomic.Int32
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		p.Submit(context.Background(), func(context.Context) {
			cur := active.Add(1)
			mu.Lock()
			if cur > peak.Load() {
				peak.Store(cur)
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		})
	}
	p.Drain()
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeded pool size 2", peak.Load())
	}
}

func TestPoolDropsAfterDrain(t *testing.T) {
	p := NewPool(1)
	p.Drain()
	var ran atomic.Bool
	p.Submit(context.Background(), func(context.Context) { ran.Store(true) })
	time.Sleep(10 * time.Millisecond)
	if ran.Load() {
		t.Fatal("job ran after drain")
	}
}

func TestPoolMinimumSize(t *testing.T) {
	p := NewPool(0)
	var ran atomic.Bool
	p.Submit(context.Background(), func(context.Context) { ran.Store(true) })
	p.Drain()
	if !ran.Load() {
		t.Fatal("pool with coerced size did not run the job")
	}
}
