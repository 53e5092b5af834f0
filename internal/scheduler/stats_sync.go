// Package scheduler runs periodic background jobs against the unified store.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/membrane-ai/membrane/internal/memory"
)

// StatsSync periodically reconciles the store counters against the backends.
type StatsSync struct {
	store    *memory.UnifiedStore
	interval time.Duration
	stop     chan struct{}
}

func NewStatsSync(store *memory.UnifiedStore, interval time.Duration) *StatsSync {
	return &StatsSync{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (s *StatsSync) Start() {
	slog.Info("starting stats sync scheduler", "interval", s.interval)
	go s.run()
}

func (s *StatsSync) Stop() {
	close(s.stop)
}

func (s *StatsSync) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			stats := s.store.RefreshStats(ctx)
			cancel()
			slog.Debug("stats resynced", "total_stores", stats["total_stores"])
		case <-s.stop:
			slog.Info("stats sync scheduler stopped")
			return
		}
	}
}
