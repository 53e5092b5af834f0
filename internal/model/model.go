package model

import (
	"time"

	"github.com/google/uuid"
)

// MemoryRecord is the record shape shared by every provider. The orchestrator
// owns a record until it is handed to a provider; the provider owns its
// durable copy thereafter.
type MemoryRecord struct {
	ID              uuid.UUID      `json:"id"`
	Content         string         `json:"content"`
	Embedding       []float32      `json:"embedding,omitempty"`
	Metadata        map[string]any `json:"metadata"`
	ImportanceScore float64        `json:"importance_score"`
	SimilarityScore float64        `json:"similarity_score,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// StoreRequest is a candidate record. Embedding and ImportanceScore are
// optional; the store pipeline fills them in.
type StoreRequest struct {
	Content         string         `json:"content"`
	Embedding       []float32      `json:"embedding,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ImportanceScore *float64       `json:"importance_score,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	ConversationID  string         `json:"conversation_id,omitempty"`
}

// QueryRequest describes a retrieval. An empty Query is a distinguished
// "match everything, most recent first" request.
type QueryRequest struct {
	Query          string         `json:"query"`
	Limit          int            `json:"limit"`
	MinSimilarity  float64        `json:"min_similarity"`
	Filters        map[string]any `json:"filters,omitempty"`
	Providers      []string       `json:"providers,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// QueryResponse carries ranked results. TotalFound counts matches before the
// Limit truncation, so it may exceed len(Memories).
type QueryResponse struct {
	Memories      []MemoryRecord `json:"memories"`
	TotalFound    int            `json:"total_found"`
	QueryTimeMs   float64        `json:"query_time_ms"`
	ProvidersUsed []string       `json:"providers_used"`
}

// DuplicateResult is the outcome of a duplicate check.
type DuplicateResult struct {
	IsDuplicate bool          `json:"is_duplicate"`
	Existing    *MemoryRecord `json:"existing,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

// ScoringBounds clamp computed importance scores.
type ScoringBounds struct {
	ContentLengthWeight float64
	MinScore            float64
	MaxScore            float64
}

// DefaultScoringBounds mirrors the service defaults: content length carries
// 20% of the heuristic, scores live in [0.1, 1.0].
func DefaultScoringBounds() ScoringBounds {
	return ScoringBounds{ContentLengthWeight: 0.2, MinScore: 0.1, MaxScore: 1.0}
}

// Clamp bounds a score to [MinScore, MaxScore].
func (b ScoringBounds) Clamp(score float64) float64 {
	if score < b.MinScore {
		return b.MinScore
	}
	if score > b.MaxScore {
		return b.MaxScore
	}
	return score
}

// IntFromAny coerces the numeric shapes that provider health/stats maps use
// for counters. Returns 0 when the value is absent or non-numeric.
func IntFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
