package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/membrane-ai/membrane/internal/fallback"
	"github.com/membrane-ai/membrane/internal/model"
	"github.com/membrane-ai/membrane/internal/provider"
)

// rawRow / rawRows / rawConn are a minimal scripted backend connection for
// exercising the fallback tiers through the query pipeline.
type rawRow struct {
	values []any
}

func (r rawRow) Scan(dest ...any) error {
	for i, d := range dest {
		if i >= len(r.values) {
			break
		}
		switch out := d.(type) {
		case *uuid.UUID:
			*out = r.values[i].(uuid.UUID)
		case *string:
			*out = r.values[i].(string)
		case *int:
			*out = r.values[i].(int)
		case *float64:
			*out = r.values[i].(float64)
		case *time.Time:
			*out = r.values[i].(time.Time)
		case *map[string]any:
			*out = r.values[i].(map[string]any)
		}
	}
	return nil
}

type rawRows struct {
	rows []rawRow
	pos  int
}

func (r *rawRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}
func (r *rawRows) Scan(dest ...any) error { return r.rows[r.pos-1].Scan(dest...) }
func (r *rawRows) Err() error             { return nil }
func (r *rawRows) Close()                 {}

type rawConn struct {
	tables   []string
	textHits []rawRow
	likeHits []rawRow

	textLimit int // last LIMIT argument seen by the full-text tier
}

func (c *rawConn) Query(_ context.Context, sql string, args ...any) (provider.Rows, error) {
	switch {
	case strings.Contains(sql, "information_schema"):
		rows := &rawRows{}
		for _, name := range c.tables {
			rows.rows = append(rows.rows, rawRow{values: []any{name}})
		}
		return rows, nil
	case strings.Contains(sql, "ts_rank_cd"):
		if len(args) > 1 {
			if n, ok := args[1].(int); ok {
				c.textLimit = n
			}
		}
		hits := c.textHits
		if c.textLimit > 0 && len(hits) > c.textLimit {
			hits = hits[:c.textLimit]
		}
		return &rawRows{rows: hits}, nil
	case strings.Contains(sql, "LIKE"):
		return &rawRows{rows: c.likeHits}, nil
	}
	return &rawRows{}, nil
}

func (c *rawConn) QueryRow(context.Context, string, ...any) provider.Row {
	return rawRow{}
}

func TestFullTextFallbackTier(t *testing.T) {
	// Similarity search over an empty backend returns nothing; the verbatim
	// text lives only behind the raw connection.
	hit := rawRow{values: []any{
		uuid.New(), "the payment cutover happens friday", map[string]any{}, 0.6, time.Now(), 0.22,
	}}
	conn := &rawConn{tables: []string{"vector_memories"}, textHits: []rawRow{hit}}

	u := NewUnifiedStore(mustRegistry(t, newInMemoryPrimary("mem")), Options{
		Embedder: &stubEmbedder{},
		Fallback: fallback.NewEngine(conn, "vector_memories"),
	})
	defer u.Close()

	resp, err := u.Query(context.Background(), model.QueryRequest{Query: "payment cutover", Limit: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Memories) != 1 || resp.Memories[0].Content != "the payment cutover happens friday" {
		t.Fatalf("memories = %v", resp.Memories)
	}
	if len(resp.ProvidersUsed) != 1 || resp.ProvidersUsed[0] != fallback.StrategyFullText {
		t.Fatalf("ProvidersUsed = %v, want [%s]", resp.ProvidersUsed, fallback.StrategyFullText)
	}
}

func TestFallbackTierOverFetchesForRanking(t *testing.T) {
	// Five full-text matches against limit 3: the tier must be asked for
	// twice the limit so TotalFound counts everything composite ranking saw.
	var hits []rawRow
	for i := 0; i < 5; i++ {
		hits = append(hits, rawRow{values: []any{
			uuid.New(), fmt.Sprintf("release checklist item %d", i), map[string]any{}, 0.5, time.Now(), 0.8,
		}})
	}
	conn := &rawConn{tables: []string{"vector_memories"}, textHits: hits}

	u := NewUnifiedStore(mustRegistry(t, newInMemoryPrimary("mem")), Options{
		Embedder: &stubEmbedder{},
		Fallback: fallback.NewEngine(conn, "vector_memories"),
	})
	defer u.Close()

	resp, err := u.Query(context.Background(), model.QueryRequest{Query: "release checklist", Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if conn.textLimit != 6 {
		t.Fatalf("tier fetch limit = %d, want 6", conn.textLimit)
	}
	if len(resp.Memories) != 3 {
		t.Fatalf("got %d memories, want 3", len(resp.Memories))
	}
	if resp.TotalFound != 5 {
		t.Fatalf("TotalFound = %d, want 5", resp.TotalFound)
	}
}

func TestFuzzyFallbackTier(t *testing.T) {
	hit := rawRow{values: []any{
		uuid.New(), "kafka consumer lag spiked", map[string]any{}, 0.4, time.Now(),
	}}
	conn := &rawConn{tables: []string{"vector_memories"}, likeHits: []rawRow{hit}}

	u := NewUnifiedStore(mustRegistry(t, newInMemoryPrimary("mem")), Options{
		Embedder: &stubEmbedder{},
		Fallback: fallback.NewEngine(conn, "vector_memories"),
	})
	defer u.Close()

	resp, err := u.Query(context.Background(), model.QueryRequest{Query: "kafka lag", Limit: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Memories) != 1 {
		t.Fatalf("memories = %v", resp.Memories)
	}
	if resp.ProvidersUsed[0] != fallback.StrategyFuzzy {
		t.Fatalf("ProvidersUsed = %v, want [%s]", resp.ProvidersUsed, fallback.StrategyFuzzy)
	}
	if resp.Memories[0].SimilarityScore != 1.0 {
		t.Fatalf("both tokens match, relevance = %v, want 1.0", resp.Memories[0].SimilarityScore)
	}
}

func TestEmptyQueryFullScanWhenNoRecentCapability(t *testing.T) {
	now := time.Now()
	conn := &rawConn{tables: []string{"vector_memories"}}
	// Full scan shares the plain SELECT path: no ts_rank, no LIKE.
	scanConn := &scanningConn{rawConn: conn, scanRows: []rawRow{
		{values: []any{uuid.New(), "latest", map[string]any{}, 0.5, now}},
		{values: []any{uuid.New(), "older", map[string]any{}, 0.5, now.Add(-time.Minute)}},
	}}

	primary := &stubProvider{name: "norecent", primary: true}
	u := NewUnifiedStore(mustRegistry(t, primary), Options{
		Embedder: &stubEmbedder{},
		Fallback: fallback.NewEngine(scanConn, "vector_memories"),
	})
	defer u.Close()

	resp, err := u.Query(context.Background(), model.QueryRequest{Query: "", Limit: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Memories) != 2 {
		t.Fatalf("memories = %v", resp.Memories)
	}
	if resp.ProvidersUsed[0] != fallback.StrategyDirect {
		t.Fatalf("ProvidersUsed = %v", resp.ProvidersUsed)
	}
}

func TestEmptyQueryEmptyBackendDoesNotFullScan(t *testing.T) {
	// The primary answers the recent-memories call with zero records. That is
	// a successful empty result, not a failure, so the raw scan must not run.
	conn := &rawConn{tables: []string{"vector_memories"}}
	scanConn := &scanningConn{rawConn: conn, scanRows: []rawRow{
		{values: []any{uuid.New(), "stale row the primary cannot see", map[string]any{}, 0.5, time.Now()}},
	}}

	u := NewUnifiedStore(mustRegistry(t, newInMemoryPrimary("mem")), Options{
		Embedder: &stubEmbedder{},
		Fallback: fallback.NewEngine(scanConn, "vector_memories"),
	})
	defer u.Close()

	resp, err := u.Query(context.Background(), model.QueryRequest{Query: "", Limit: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Memories) != 0 {
		t.Fatalf("memories = %v, want none from an empty primary", resp.Memories)
	}
}

// scanningConn serves the full scan SELECT that rawConn leaves empty.
type scanningConn struct {
	*rawConn
	scanRows []rawRow
}

func (c *scanningConn) Query(ctx context.Context, sql string, args ...any) (provider.Rows, error) {
	if strings.Contains(sql, "ORDER BY created_at DESC") && !strings.Contains(sql, "LIKE") && !strings.Contains(sql, "ts_rank_cd") {
		return &rawRows{rows: c.scanRows}, nil
	}
	return c.rawConn.Query(ctx, sql, args...)
}
