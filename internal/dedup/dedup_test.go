package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/membrane-ai/membrane/internal/model"
	"github.com/membrane-ai/membrane/internal/provider"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vec, s.err
}

func TestExactDuplicateActive(t *testing.T) {
	d := NewDetector(ModeActive, 0.95, nil, nil)
	record := model.MemoryRecord{ID: uuid.New(), Content: "the same content"}
	d.Remember("the same content", record)

	result, err := d.CheckDuplicate(context.Background(), "the same content", nil)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if !result.IsDuplicate {
		t.Fatal("expected exact duplicate hit")
	}
	if result.Existing == nil || result.Existing.ID != record.ID {
		t.Fatal("expected the remembered record back")
	}
}

func TestLogOnlyLetsWriteProceed(t *testing.T) {
	d := NewDetector(ModeLogOnly, 0.95, nil, nil)
	d.Remember("repeated", model.MemoryRecord{ID: uuid.New()})

	result, err := d.CheckDuplicate(context.Background(), "repeated", nil)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if result.IsDuplicate {
		t.Fatal("log_only mode must not block the write")
	}
}

func TestModeOffSkipsEverything(t *testing.T) {
	d := NewDetector(ModeOff, 0.95, nil, nil)
	d.Remember("anything", model.MemoryRecord{ID: uuid.New()})
	result, err := d.CheckDuplicate(context.Background(), "anything", nil)
	if err != nil || result.IsDuplicate {
		t.Fatalf("off mode flagged a duplicate: %v, %v", result, err)
	}
}

func TestSemanticDuplicate(t *testing.T) {
	backend := newBackend()
	existingID := seedRecord(t, backend, "configs live in yaml", []float32{1, 0, 0})

	d := NewDetector(ModeActive, 0.95, stubEmbedder{vec: []float32{1, 0, 0}}, backend)
	result, err := d.CheckDuplicate(context.Background(), "configuration lives in yaml", nil)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if !result.IsDuplicate {
		t.Fatal("expected semantic duplicate at similarity 1.0")
	}
	if result.Existing.ID != existingID {
		t.Fatal("expected the stored neighbor back")
	}
}

func TestSemanticBelowThreshold(t *testing.T) {
	backend := newBackend()
	seedRecord(t, backend, "unrelated", []float32{0, 1, 0})

	d := NewDetector(ModeActive, 0.95, stubEmbedder{vec: []float32{1, 0, 0}}, backend)
	result, err := d.CheckDuplicate(context.Background(), "something new", nil)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if result.IsDuplicate {
		t.Fatal("orthogonal neighbor must not be a duplicate")
	}
}

func TestEmbedderFailureDoesNotBlock(t *testing.T) {
	d := NewDetector(ModeActive, 0.95, stubEmbedder{err: errors.New("model offline")}, newBackend())
	result, err := d.CheckDuplicate(context.Background(), "fresh content", nil)
	if err != nil {
		t.Fatalf("detection failure must be swallowed, got %v", err)
	}
	if result.IsDuplicate {
		t.Fatal("failed detection must report non-duplicate")
	}
}

func newBackend() *provider.InMemory {
	return provider.NewInMemory(provider.InMemoryConfig{
		Config: provider.Config{Name: "mem", Enabled: true},
	})
}

func seedRecord(t *testing.T, backend *provider.InMemory, content string, embedding []float32) uuid.UUID {
	t.Helper()
	id, err := backend.Store(context.Background(), content, embedding, map[string]any{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return id
}
