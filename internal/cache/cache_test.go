package cache

import (
	"context"
	"testing"
	"time"

	"github.com/membrane-ai/membrane/internal/model"
)

func TestKeyDeterministicAcrossFilterOrder(t *testing.T) {
	a := model.QueryRequest{
		Query: "deployment notes",
		Limit: 10,
		Filters: map[string]any{
			"user_id": "u1",
			"topic":   "infra",
		},
	}
	b := model.QueryRequest{
		Query: "deployment notes",
		Limit: 10,
		Filters: map[string]any{
			"topic":   "infra",
			"user_id": "u1",
		},
	}
	if Key(a) != Key(b) {
		t.Fatal("equal requests produced different keys")
	}
}

func TestKeyDiscriminatesRequestShape(t *testing.T) {
	base := model.QueryRequest{Query: "q", Limit: 10, MinSimilarity: 0.7}
	variants := []model.QueryRequest{
		{Query: "other", Limit: 10, MinSimilarity: 0.7},
		{Query: "q", Limit: 5, MinSimilarity: 0.7},
		{Query: "q", Limit: 10, MinSimilarity: 0.5},
		{Query: "q", Limit: 10, MinSimilarity: 0.7, UserID: "u1"},
		{Query: "q", Limit: 10, MinSimilarity: 0.7, ConversationID: "c1"},
		{Query: "q", Limit: 10, MinSimilarity: 0.7, Providers: []string{"pgvector"}},
		{Query: "q", Limit: 10, MinSimilarity: 0.7, Filters: map[string]any{"k": "v"}},
	}
	seen := map[string]bool{Key(base): true}
	for i, req := range variants {
		k := Key(req)
		if seen[k] {
			t.Fatalf("variant %d collided with an earlier key", i)
		}
		seen[k] = true
	}
}

func TestKeyProviderOrderInsensitive(t *testing.T) {
	a := model.QueryRequest{Query: "q", Providers: []string{"pgvector", "qdrant"}}
	b := model.QueryRequest{Query: "q", Providers: []string{"qdrant", "pgvector"}}
	if Key(a) != Key(b) {
		t.Fatal("provider order changed the key")
	}
}

func TestMemoryHitAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewMemory(300 * time.Second)
	c.now = func() time.Time { return now }

	resp := &model.QueryResponse{TotalFound: 3}
	c.Set(ctx, "k", resp)

	got, ok := c.Get(ctx, "k")
	if !ok || got.TotalFound != 3 {
		t.Fatalf("expected hit with TotalFound=3, got %v ok=%v", got, ok)
	}

	now = now.Add(299 * time.Second)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("entry survived past its TTL")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not dropped, len=%d", c.Len())
	}
}

func TestMemoryMiss(t *testing.T) {
	c := NewMemory(0)
	if _, ok := c.Get(context.Background(), "absent"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	c.Set(ctx, "a", &model.QueryResponse{})
	c.Set(ctx, "b", &model.QueryResponse{})
	c.Invalidate(ctx)
	if c.Len() != 0 {
		t.Fatalf("invalidate left %d entries", c.Len())
	}
}

func TestMemoryDefaultTTL(t *testing.T) {
	c := NewMemory(-1)
	if c.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", c.ttl, DefaultTTL)
	}
}
