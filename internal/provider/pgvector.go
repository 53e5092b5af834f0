package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/membrane-ai/membrane/internal/model"
)

// PgVectorConfig configures the Postgres + pgvector provider.
type PgVectorConfig struct {
	Config       `yaml:",inline"`
	Table        string `yaml:"table"`
	EmbeddingDim int    `yaml:"embedding_dim"`
	IndexType    string `yaml:"index_type"` // hnsw or ivfflat
}

// PgVector stores records in Postgres with a pgvector embedding column. It is
// the only provider that exposes a raw connection, which the fallback search
// engine and statistics reconciliation use as a last resort.
type PgVector struct {
	cfg  PgVectorConfig
	pool *pgxpool.Pool
}

// NewPgVector wires a pgvector provider over an established pool and ensures
// the schema exists.
func NewPgVector(ctx context.Context, pool *pgxpool.Pool, cfg PgVectorConfig) (*PgVector, error) {
	if cfg.Table == "" {
		cfg.Table = "vector_memories"
	}
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = 768
	}
	p := &PgVector{cfg: cfg, pool: pool}
	if err := p.createSchema(ctx); err != nil {
		return nil, fmt.Errorf("pgvector schema: %w", err)
	}
	slog.Info("pgvector provider initialized", "table", cfg.Table, "dimensions", cfg.EmbeddingDim)
	return p, nil
}

func (p *PgVector) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				content TEXT NOT NULL,
				embedding vector(%d),
				metadata JSONB DEFAULT '{}',
				user_id TEXT,
				conversation_id TEXT,
				importance_score DOUBLE PRECISION DEFAULT 0.5,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, p.cfg.Table, p.cfg.EmbeddingDim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_id_idx ON %s (user_id)`, p.cfg.Table, p.cfg.Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_created_at_idx ON %s (created_at DESC)`, p.cfg.Table, p.cfg.Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_gin_idx ON %s USING gin (metadata)`, p.cfg.Table, p.cfg.Table),
	}
	if p.cfg.IndexType == "ivfflat" {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s_embedding_ivf_idx ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
			p.cfg.Table, p.cfg.Table))
	} else {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s_embedding_hnsw_idx ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`,
			p.cfg.Table, p.cfg.Table))
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *PgVector) Name() string    { return p.cfg.Name }
func (p *PgVector) Enabled() bool   { return p.cfg.Enabled }
func (p *PgVector) IsPrimary() bool { return p.cfg.Primary }
func (p *PgVector) Retries() int    { return p.cfg.retries() }

// Table returns the configured catalog name, used to seed the fallback
// engine's table discovery.
func (p *PgVector) Table() string { return p.cfg.Table }

func (p *PgVector) Store(ctx context.Context, content string, embedding []float32, metadata map[string]any) (uuid.UUID, error) {
	if p.pool == nil {
		return uuid.Nil, model.ErrBackendUnavailable
	}
	id := uuid.New()
	emb := pgvector.NewVector(embedding)
	createdAt := timestampFromMetadata(metadata)

	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata, user_id, conversation_id, importance_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, p.cfg.Table),
		id, content, emb, metadata,
		stringFromMetadata(metadata, "user_id"),
		stringFromMetadata(metadata, "conversation_id"),
		floatFromMetadata(metadata, "importance_score", 0.5),
		createdAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", model.ErrWriteRejected, err)
	}
	return id, nil
}

func (p *PgVector) Query(ctx context.Context, embedding []float32, limit int, filters map[string]any) ([]model.MemoryRecord, error) {
	if p.pool == nil {
		return nil, model.ErrBackendUnavailable
	}
	conditions := []string{"embedding IS NOT NULL"}
	args := []any{pgvector.NewVector(embedding)}
	idx := 2

	for _, f := range []struct{ key, column string }{
		{"user_id", "user_id"},
		{"conversation_id", "conversation_id"},
	} {
		if v, ok := filters[f.key]; ok {
			conditions = append(conditions, fmt.Sprintf("%s = $%d", f.column, idx))
			args = append(args, fmt.Sprint(v))
			idx++
		}
	}
	if _, ok := filters["min_importance"]; ok {
		conditions = append(conditions, fmt.Sprintf("importance_score >= $%d", idx))
		args = append(args, floatFromMetadata(filters, "min_importance", 0))
		idx++
	}

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, content, metadata, importance_score, created_at, embedding <=> $1 AS distance
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d`, p.cfg.Table, strings.Join(conditions, " AND "), idx)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrQueryFailed, err)
	}
	defer rows.Close()

	var records []model.MemoryRecord
	for rows.Next() {
		var rec model.MemoryRecord
		var distance float64
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Metadata, &rec.ImportanceScore, &rec.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrQueryFailed, err)
		}
		// Cosine distance to similarity.
		rec.SimilarityScore = 1 - distance
		if rec.SimilarityScore < 0 {
			rec.SimilarityScore = 0
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecentMemories returns the newest records without touching the similarity
// machinery; the empty-query fast path prefers this over a vector scan.
func (p *PgVector) RecentMemories(ctx context.Context, limit int, filters map[string]any) ([]model.MemoryRecord, error) {
	if p.pool == nil {
		return nil, model.ErrBackendUnavailable
	}
	conditions := []string{"content IS NOT NULL"}
	args := []any{}
	idx := 1
	if v, ok := filters["user_id"]; ok {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", idx))
		args = append(args, fmt.Sprint(v))
		idx++
	}
	args = append(args, limit)

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, importance_score, created_at
		FROM %s
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, p.cfg.Table, strings.Join(conditions, " AND "), idx), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrQueryFailed, err)
	}
	defer rows.Close()

	var records []model.MemoryRecord
	for rows.Next() {
		var rec model.MemoryRecord
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Metadata, &rec.ImportanceScore, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrQueryFailed, err)
		}
		rec.SimilarityScore = 1.0
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (p *PgVector) HealthCheck(ctx context.Context) (map[string]any, error) {
	if p.pool == nil {
		return nil, model.ErrBackendUnavailable
	}
	var extVersion string
	err := p.pool.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&extVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: pgvector extension not found: %v", model.ErrBackendUnavailable, err)
	}
	var total int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.cfg.Table)).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	return map[string]any{
		"status":           "healthy",
		"pgvector_version": extVersion,
		"total_vectors":    total,
		"table":            p.cfg.Table,
		"dimensions":       p.cfg.EmbeddingDim,
	}, nil
}

func (p *PgVector) Stats(ctx context.Context) (map[string]any, error) {
	if p.pool == nil {
		return nil, model.ErrBackendUnavailable
	}
	var total int
	var avgImportance *float64
	err := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*), AVG(importance_score) FROM %s`, p.cfg.Table)).Scan(&total, &avgImportance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	stats := map[string]any{
		"provider":       "pgvector",
		"total_memories": total,
	}
	if avgImportance != nil {
		stats["avg_importance"] = *avgImportance
	}
	return stats, nil
}

// RawConn exposes the pool for the fallback search engine and statistics
// reconciliation.
func (p *PgVector) RawConn() RawConn {
	return NewPoolConn(p.pool)
}

// Close releases the underlying pool.
func (p *PgVector) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func stringFromMetadata(metadata map[string]any, key string) *string {
	v, ok := metadata[key]
	if !ok || v == nil {
		return nil
	}
	s := fmt.Sprint(v)
	if s == "" {
		return nil
	}
	return &s
}

func floatFromMetadata(metadata map[string]any, key string, fallback float64) float64 {
	switch v := metadata[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return fallback
}

func timestampFromMetadata(metadata map[string]any) time.Time {
	switch v := metadata["created_at"].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
