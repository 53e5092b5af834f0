package memory

import "sync"

// Stats holds the orchestrator's running counters. All access goes through
// the mutex; snapshots are consistent but immediately stale, which is fine
// for advisory numbers.
type Stats struct {
	mu                  sync.Mutex
	totalStores         int
	totalQueries        int
	cacheHits           int
	cacheMisses         int
	duplicatesPrevented int
	storageSavedBytes   int
	replicationFailures int
	avgQueryTimeMs      float64
	providerUsage       map[string]int
}

// RecordStore counts a durable write and attributes it to the provider that
// accepted it.
func (s *Stats) RecordStore(providerName string) {
	s.mu.Lock()
	s.totalStores++
	if s.providerUsage == nil {
		s.providerUsage = make(map[string]int)
	}
	s.providerUsage[providerName]++
	s.mu.Unlock()
}

// RecordDuplicate counts a prevented duplicate write and the content bytes
// it would have consumed.
func (s *Stats) RecordDuplicate(contentBytes int) {
	s.mu.Lock()
	s.duplicatesPrevented++
	s.storageSavedBytes += contentBytes
	s.mu.Unlock()
}

func (s *Stats) RecordCacheHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

func (s *Stats) RecordCacheMiss() {
	s.mu.Lock()
	s.cacheMisses++
	s.mu.Unlock()
}

func (s *Stats) RecordReplicationFailure() {
	s.mu.Lock()
	s.replicationFailures++
	s.mu.Unlock()
}

// RecordQuery folds one query's latency into the running average and counts
// which providers (or fallback strategies) answered it.
func (s *Stats) RecordQuery(elapsedMs float64, providersUsed []string) {
	s.mu.Lock()
	s.totalQueries++
	n := float64(s.totalQueries)
	s.avgQueryTimeMs += (elapsedMs - s.avgQueryTimeMs) / n
	if s.providerUsage == nil {
		s.providerUsage = make(map[string]int)
	}
	for _, name := range providersUsed {
		s.providerUsage[name]++
	}
	s.mu.Unlock()
}

// SetTotalStores replaces the store counter with a reconciled backend count.
func (s *Stats) SetTotalStores(total int) {
	s.mu.Lock()
	s.totalStores = total
	s.mu.Unlock()
}

// Snapshot returns the counters as a serializable map.
func (s *Stats) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage := make(map[string]int, len(s.providerUsage))
	for name, count := range s.providerUsage {
		usage[name] = count
	}
	return map[string]any{
		"provider_usage":       usage,
		"total_stores":         s.totalStores,
		"total_queries":        s.totalQueries,
		"cache_hits":           s.cacheHits,
		"cache_misses":         s.cacheMisses,
		"duplicates_prevented": s.duplicatesPrevented,
		"storage_saved_bytes":  s.storageSavedBytes,
		"replication_failures": s.replicationFailures,
		"avg_query_time_ms":    s.avgQueryTimeMs,
	}
}

// TotalStores reports the current store counter.
func (s *Stats) TotalStores() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalStores
}

// DuplicatesPrevented reports the duplicate counter.
func (s *Stats) DuplicatesPrevented() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicatesPrevented
}
