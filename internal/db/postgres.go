package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/membrane-ai/membrane/internal/config"
)

// Connect opens a pgx pool with retry. The pgvector provider owns schema
// creation, so there is no migration step here.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	const maxRetries = 10

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			slog.Warn("database connection failed, retrying...", "attempt", attempt, "max", maxRetries, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			continue
		}

		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			slog.Warn("database ping failed, retrying...", "attempt", attempt, "max", maxRetries, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			continue
		}

		slog.Info("connected to PostgreSQL", "url", maskURL(cfg.URL))
		return pool, nil
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}

func maskURL(url string) string {
	// Mask password in URL for logging
	parts := strings.SplitN(url, "@", 2)
	if len(parts) != 2 {
		return url
	}
	prefix := strings.SplitN(parts[0], ":", 3)
	if len(prefix) < 3 {
		return url
	}
	return prefix[0] + ":" + prefix[1] + ":***@" + parts[1]
}
