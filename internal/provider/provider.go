// Package provider defines the storage backend contract consumed by the
// unified store, plus the concrete pgvector, Qdrant, chromem, and in-memory
// implementations.
package provider

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/membrane-ai/membrane/internal/model"
)

// Provider is the fixed backend contract. Every backend must accept a write,
// answer a similarity query, and report health and statistics.
type Provider interface {
	Name() string
	Enabled() bool
	// Retries is the per-provider store retry budget (>= 1).
	Retries() int

	Store(ctx context.Context, content string, embedding []float32, metadata map[string]any) (uuid.UUID, error)
	Query(ctx context.Context, embedding []float32, limit int, filters map[string]any) ([]model.MemoryRecord, error)
	HealthCheck(ctx context.Context) (map[string]any, error)
	Stats(ctx context.Context) (map[string]any, error)
}

// RecentLister is an optional capability used preferentially for empty-query
// retrieval.
type RecentLister interface {
	RecentMemories(ctx context.Context, limit int, filters map[string]any) ([]model.MemoryRecord, error)
}

// RawAccessor exposes a backend's raw tabular connection. Only the fallback
// search engine and statistics reconciliation consume it, as a last resort.
type RawAccessor interface {
	RawConn() RawConn
}

// RawConn is the minimal query surface the fallback engine needs. It is a
// strict subset of what a pgx pool offers so fakes stay small in tests.
type RawConn interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Rows matches the subset of pgx.Rows the fallback engine iterates with.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Row matches pgx.Row.
type Row interface {
	Scan(dest ...any) error
}

// Config is the common provider configuration; immutable once the registry
// is built.
type Config struct {
	Name       string `yaml:"name"`
	Enabled    bool   `yaml:"enabled"`
	Primary    bool   `yaml:"primary"`
	RetryCount int    `yaml:"retry_count"`
}

func (c Config) retries() int {
	if c.RetryCount < 1 {
		return 1
	}
	return c.RetryCount
}

// poolConn adapts a pgx pool to the RawConn surface.
type poolConn struct {
	pool *pgxpool.Pool
}

// NewPoolConn wraps a pgx pool as a RawConn.
func NewPoolConn(pool *pgxpool.Pool) RawConn {
	return poolConn{pool: pool}
}

func (c poolConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c poolConn) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return c.pool.QueryRow(ctx, sql, args...)
}
