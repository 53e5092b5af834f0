package scoring

import (
	"context"
	"strings"
	"testing"

	"github.com/membrane-ai/membrane/internal/model"
)

func defaultBounds() model.ScoringBounds {
	return model.ScoringBounds{ContentLengthWeight: 0.2, MinScore: 0.1, MaxScore: 1.0}
}

func TestScoreWithinBounds(t *testing.T) {
	e := NewEngine(defaultBounds())
	contents := []string{
		"",
		"x",
		"We decided to always use structured logging. This is important. Remember it.",
		strings.Repeat("long detailed content with many distinct words ", 100),
	}
	for _, content := range contents {
		res, err := e.Score(context.Background(), content, nil)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if res.Score < 0.1 || res.Score > 1.0 {
			t.Fatalf("score %v out of [0.1, 1.0] for %q", res.Score, content[:min(len(content), 40)])
		}
	}
}

func TestScoreBreakdownComponents(t *testing.T) {
	e := NewEngine(defaultBounds())
	res, err := e.Score(context.Background(), "We decided on this convention.", map[string]any{"user_id": "u1"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for _, key := range []string{"quality", "relevance", "depth"} {
		if _, ok := res.Breakdown[key]; !ok {
			t.Fatalf("breakdown missing %q: %v", key, res.Breakdown)
		}
	}
}

func TestMarkersRaiseRelevance(t *testing.T) {
	e := NewEngine(defaultBounds())
	plain, _ := e.Score(context.Background(), "the weather was fine that afternoon", nil)
	marked, _ := e.Score(context.Background(), "important decision: always prefer this", nil)
	if marked.Breakdown["relevance"] <= plain.Breakdown["relevance"] {
		t.Fatalf("marker content relevance %v not above plain %v",
			marked.Breakdown["relevance"], plain.Breakdown["relevance"])
	}
}

func TestFallbackScore(t *testing.T) {
	bounds := defaultBounds()
	tests := []struct {
		name           string
		content        string
		userID, convID string
		want           float64
	}{
		{"empty unscoped keeps the base", "", "", "", 0.4},
		{"short content barely moves the base", "hello", "u1", "", 0.501},
		{"scoped boosts", strings.Repeat("a", 1000), "u1", "c1", 0.8},
		{"user only", strings.Repeat("a", 500), "u1", "", 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fallback(tt.content, tt.userID, tt.convID, bounds)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("Fallback = %v, want %v", got, tt.want)
			}
		})
	}
}
