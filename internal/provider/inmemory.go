package provider

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/membrane-ai/membrane/internal/model"
)

// InMemoryConfig configures the in-process provider.
type InMemoryConfig struct {
	Config `yaml:",inline"`
}

// InMemory keeps records in a map and ranks by cosine similarity. Meant for
// tests and lightweight single-process deployments.
type InMemory struct {
	cfg InMemoryConfig

	mu      sync.RWMutex
	records map[uuid.UUID]model.MemoryRecord
}

func NewInMemory(cfg InMemoryConfig) *InMemory {
	return &InMemory{cfg: cfg, records: make(map[uuid.UUID]model.MemoryRecord)}
}

func (s *InMemory) Name() string    { return s.cfg.Name }
func (s *InMemory) Enabled() bool   { return s.cfg.Enabled }
func (s *InMemory) IsPrimary() bool { return s.cfg.Primary }
func (s *InMemory) Retries() int    { return s.cfg.retries() }

func (s *InMemory) Store(_ context.Context, content string, embedding []float32, metadata map[string]any) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	s.records[id] = model.MemoryRecord{
		ID:              id,
		Content:         content,
		Embedding:       append([]float32(nil), embedding...),
		Metadata:        meta,
		ImportanceScore: floatFromMetadata(metadata, "importance_score", 0.5),
		CreatedAt:       timestampFromMetadata(metadata),
	}
	return id, nil
}

func (s *InMemory) Query(_ context.Context, embedding []float32, limit int, filters map[string]any) ([]model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	var scored []model.MemoryRecord
	for _, rec := range s.records {
		if !matchesFilters(rec, filters) {
			continue
		}
		rec.SimilarityScore = CosineSimilarity(embedding, rec.Embedding)
		scored = append(scored, rec)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].SimilarityScore > scored[j].SimilarityScore
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// RecentMemories returns records newest first, supporting the empty-query
// fast path without a vector scan.
func (s *InMemory) RecentMemories(_ context.Context, limit int, filters map[string]any) ([]model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.MemoryRecord
	for _, rec := range s.records {
		if !matchesFilters(rec, filters) {
			continue
		}
		rec.SimilarityScore = 1.0
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) HealthCheck(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"status":        "healthy",
		"total_vectors": len(s.records),
		"storage_type":  "in_process",
	}, nil
}

func (s *InMemory) Stats(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"provider":       "inmemory",
		"total_memories": len(s.records),
	}, nil
}

// Get returns a stored record by id; used by tests and the dedup service.
func (s *InMemory) Get(id uuid.UUID) (model.MemoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

func matchesFilters(rec model.MemoryRecord, filters map[string]any) bool {
	for _, key := range []string{"user_id", "conversation_id"} {
		want, ok := filters[key]
		if !ok {
			continue
		}
		got, ok := rec.Metadata[key]
		if !ok || got != want {
			return false
		}
	}
	if _, ok := filters["min_importance"]; ok {
		if rec.ImportanceScore < floatFromMetadata(filters, "min_importance", 0) {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 for
// mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
