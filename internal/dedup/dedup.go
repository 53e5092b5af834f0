// Package dedup detects duplicate memory content before it is written. An
// exact tier hashes content; a semantic tier asks the primary backend for a
// near-identical neighbor.
package dedup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/membrane-ai/membrane/internal/model"
	"github.com/membrane-ai/membrane/internal/provider"
)

// Mode controls what happens when a duplicate is found.
type Mode string

const (
	// ModeOff disables detection entirely.
	ModeOff Mode = "off"
	// ModeLogOnly detects and logs duplicates but lets the write proceed.
	ModeLogOnly Mode = "log_only"
	// ModeActive blocks duplicate writes and returns the existing record.
	ModeActive Mode = "active"
)

// DefaultSimilarityThreshold marks two contents as semantic duplicates.
const DefaultSimilarityThreshold = 0.95

// Embedder is the vector generator the semantic tier uses.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Detector checks incoming content against what is already stored.
type Detector struct {
	mode      Mode
	threshold float64
	embedder  Embedder
	backend   provider.Provider

	mu    sync.RWMutex
	exact map[[32]byte]model.MemoryRecord
}

// NewDetector builds a detector. embedder and backend may be nil, which
// limits detection to the exact hash tier.
func NewDetector(mode Mode, threshold float64, embedder Embedder, backend provider.Provider) *Detector {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Detector{
		mode:      mode,
		threshold: threshold,
		embedder:  embedder,
		backend:   backend,
		exact:     make(map[[32]byte]model.MemoryRecord),
	}
}

// Mode reports the configured detection mode.
func (d *Detector) Mode() Mode {
	return d.mode
}

// CheckDuplicate reports whether content duplicates an existing record. In
// log_only mode a hit is reported as non-duplicate after logging, so the
// caller writes anyway.
func (d *Detector) CheckDuplicate(ctx context.Context, content string, metadata map[string]any) (model.DuplicateResult, error) {
	if d.mode == ModeOff {
		return model.DuplicateResult{}, nil
	}

	if result, hit := d.checkExact(content); hit {
		return d.resolve(result), nil
	}
	result, hit, err := d.checkSemantic(ctx, content)
	if err != nil {
		// Detection must never block a write on its own failure.
		slog.Warn("semantic duplicate check failed", "error", err)
		return model.DuplicateResult{}, nil
	}
	if hit {
		return d.resolve(result), nil
	}
	return model.DuplicateResult{}, nil
}

// Remember indexes a successfully stored record for future exact checks.
func (d *Detector) Remember(content string, record model.MemoryRecord) {
	if d.mode == ModeOff {
		return
	}
	d.mu.Lock()
	d.exact[sha256.Sum256([]byte(content))] = record
	d.mu.Unlock()
}

func (d *Detector) checkExact(content string) (model.DuplicateResult, bool) {
	d.mu.RLock()
	record, ok := d.exact[sha256.Sum256([]byte(content))]
	d.mu.RUnlock()
	if !ok {
		return model.DuplicateResult{}, false
	}
	return model.DuplicateResult{
		IsDuplicate: true,
		Existing:    &record,
		Reason:      "exact content hash match",
	}, true
}

func (d *Detector) checkSemantic(ctx context.Context, content string) (model.DuplicateResult, bool, error) {
	if d.embedder == nil || d.backend == nil {
		return model.DuplicateResult{}, false, nil
	}
	embedding, err := d.embedder.Embed(ctx, content)
	if err != nil {
		return model.DuplicateResult{}, false, err
	}
	matches, err := d.backend.Query(ctx, embedding, 1, nil)
	if err != nil {
		return model.DuplicateResult{}, false, err
	}
	if len(matches) == 0 || matches[0].SimilarityScore < d.threshold {
		return model.DuplicateResult{}, false, nil
	}
	existing := matches[0]
	return model.DuplicateResult{
		IsDuplicate: true,
		Existing:    &existing,
		Reason:      fmt.Sprintf("semantic match at %.3f similarity", existing.SimilarityScore),
	}, true, nil
}

// resolve applies the mode to a detected duplicate.
func (d *Detector) resolve(result model.DuplicateResult) model.DuplicateResult {
	if d.mode == ModeLogOnly {
		var id uuid.UUID
		if result.Existing != nil {
			id = result.Existing.ID
		}
		slog.Info("duplicate detected, storing anyway",
			"existing_id", id, "reason", result.Reason)
		return model.DuplicateResult{}
	}
	return result
}
