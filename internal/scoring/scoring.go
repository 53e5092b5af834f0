// Package scoring assigns importance scores to memory content. The engine
// blends three heuristic components and reports a per-component breakdown
// that the store pipeline folds into record metadata.
package scoring

import (
	"context"
	"math"
	"strings"

	"github.com/membrane-ai/membrane/internal/model"
)

// Component weights. They sum to 1 so the blend stays in [0, 1] before
// clamping.
const (
	qualityWeight   = 0.3
	relevanceWeight = 0.4
	depthWeight     = 0.3
)

// contentLengthNorm is the content length at which the quality component
// saturates.
const contentLengthNorm = 1000.0

// Signal words that mark content as decision- or preference-bearing, which
// raises its retrieval value.
var relevanceMarkers = []string{
	"decided", "decision", "prefer", "always", "never",
	"important", "remember", "must", "rule", "convention",
}

// Result carries the final score plus a diagnostic breakdown.
type Result struct {
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// Engine scores content with the quality/relevance/depth blend.
type Engine struct {
	bounds model.ScoringBounds
}

// NewEngine builds a scoring engine with the given clamp bounds.
func NewEngine(bounds model.ScoringBounds) *Engine {
	return &Engine{bounds: bounds}
}

// Score computes an importance score for content. metadata supplies scoping
// hints; the context is accepted for interface symmetry with remote scorers
// and is not used by the heuristic.
func (e *Engine) Score(_ context.Context, content string, metadata map[string]any) (Result, error) {
	quality := e.quality(content)
	relevance := e.relevance(content, metadata)
	depth := e.depth(content)

	score := qualityWeight*quality + relevanceWeight*relevance + depthWeight*depth
	return Result{
		Score: e.bounds.Clamp(score),
		Breakdown: map[string]float64{
			"quality":   quality,
			"relevance": relevance,
			"depth":     depth,
		},
	}, nil
}

// quality grows with content length and saturates at contentLengthNorm.
func (e *Engine) quality(content string) float64 {
	return math.Min(float64(len(content))/contentLengthNorm, 1.0)
}

// relevance rewards marker words and explicit scoping.
func (e *Engine) relevance(content string, metadata map[string]any) float64 {
	lower := strings.ToLower(content)
	hits := 0
	for _, marker := range relevanceMarkers {
		if strings.Contains(lower, marker) {
			hits++
		}
	}
	score := math.Min(float64(hits)*0.25, 0.75)
	if _, ok := metadata["user_id"]; ok {
		score += 0.15
	}
	if _, ok := metadata["conversation_id"]; ok {
		score += 0.10
	}
	return math.Min(score, 1.0)
}

// depth approximates structural richness: sentence count and distinct words.
func (e *Engine) depth(content string) float64 {
	sentences := strings.Count(content, ".") + strings.Count(content, "!") + strings.Count(content, "?")
	words := strings.Fields(content)
	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[strings.ToLower(w)] = struct{}{}
	}
	sentenceScore := math.Min(float64(sentences)/5.0, 1.0)
	vocabScore := math.Min(float64(len(distinct))/50.0, 1.0)
	return 0.5*sentenceScore + 0.5*vocabScore
}

// Fallback computes the heuristic used when no scoring engine is configured:
// a normalized content-length component weighted by ContentLengthWeight, a
// neutral 0.5 base carrying the remaining weight, and fixed boosts for
// scoping, all clamped to the bounds.
func Fallback(content, userID, conversationID string, bounds model.ScoringBounds) float64 {
	lengthFactor := math.Min(float64(len(content))/contentLengthNorm, 1.0)
	score := lengthFactor*bounds.ContentLengthWeight + 0.5*(1.0-bounds.ContentLengthWeight)
	if userID != "" {
		score += 0.1
	}
	if conversationID != "" {
		score += 0.1
	}
	return bounds.Clamp(score)
}
