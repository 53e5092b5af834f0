package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/membrane-ai/membrane/internal/model"
)

// Redis caches responses in a shared Redis instance so multiple service
// replicas see the same warm cache. All failures degrade to a miss.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis builds a Redis-backed cache and verifies connectivity.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*model.QueryResponse, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache read failed", "error", err)
		}
		return nil, false
	}
	var resp model.QueryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		r.client.Del(ctx, key)
		return nil, false
	}
	return &resp, true
}

func (r *Redis) Set(ctx context.Context, key string, resp *model.QueryResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("cache encode failed", "error", err)
		return
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		slog.Warn("cache write failed", "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, "membrane:query:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Warn("cache invalidation delete failed", "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("cache invalidation scan failed", "error", err)
	}
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
