package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/membrane-ai/membrane/internal/api"
	"github.com/membrane-ai/membrane/internal/cache"
	"github.com/membrane-ai/membrane/internal/config"
	"github.com/membrane-ai/membrane/internal/db"
	"github.com/membrane-ai/membrane/internal/dedup"
	"github.com/membrane-ai/membrane/internal/embedding"
	"github.com/membrane-ai/membrane/internal/fallback"
	"github.com/membrane-ai/membrane/internal/mcp"
	"github.com/membrane-ai/membrane/internal/memory"
	"github.com/membrane-ai/membrane/internal/model"
	"github.com/membrane-ai/membrane/internal/provider"
	"github.com/membrane-ai/membrane/internal/scheduler"
	"github.com/membrane-ai/membrane/internal/scoring"
)

var version = "dev" // set via ldflags at build time

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	slog.Info("starting membrane", "version", version)

	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	embedder := buildEmbedder(ctx, cfg.Embedding)

	providers, fallbackEngine, cleanup := buildProviders(ctx, cfg)
	defer cleanup()

	registry, err := provider.NewRegistry(providers)
	if err != nil {
		slog.Error("failed to build provider registry", "error", err)
		os.Exit(1)
	}

	bounds := model.ScoringBounds{
		ContentLengthWeight: cfg.Scoring.ContentLengthWeight,
		MinScore:            cfg.Scoring.MinScore,
		MaxScore:            cfg.Scoring.MaxScore,
	}

	opts := memory.Options{
		Embedder:           embedder,
		Fallback:           fallbackEngine,
		Cache:              buildCache(ctx, cfg.Cache),
		Bounds:             bounds,
		MinSimilarity:      cfg.Search.MinSimilarity,
		ReplicationWorkers: cfg.Search.ReplicationWorkers,
	}
	if cfg.Scoring.Enabled {
		opts.Scorer = scoring.NewEngine(bounds)
	}
	if mode := dedup.Mode(cfg.Dedup.Mode); mode != dedup.ModeOff {
		opts.Duplicates = dedup.NewDetector(mode, cfg.Dedup.SimilarityThreshold, embedder, registry.Primary())
	}

	store := memory.NewUnifiedStore(registry, opts)
	defer store.Close()

	go store.InitialSync(ctx)

	statsSync := scheduler.NewStatsSync(store, cfg.Stats.SyncInterval)
	statsSync.Start()
	defer statsSync.Stop()

	router := api.NewRouter(store)
	router.Mount("/mcp", mcp.NewServer(store, version).Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("membrane server listening",
		"addr", addr,
		"rest", "/api/v1/",
		"health", "/health",
		"primary", registry.Primary().Name(),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func buildEmbedder(ctx context.Context, cfg config.EmbeddingConfig) memory.Embedder {
	switch cfg.Provider {
	case "openai":
		return embedding.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.Model, cfg.Dimensions)
	default:
		client := embedding.NewOllamaClient(cfg.OllamaURL, cfg.Model, cfg.Dimensions)
		if err := client.EnsureModel(ctx); err != nil {
			slog.Warn("could not ensure embedding model", "error", err)
			// Don't exit - the model might be pulled later
		}
		return client
	}
}

// buildProviders wires every enabled backend. The returned cleanup closes
// whatever connections were opened.
func buildProviders(ctx context.Context, cfg *config.Config) ([]provider.Provider, *fallback.Engine, func()) {
	var providers []provider.Provider
	var fallbackEngine *fallback.Engine
	cleanup := func() {}

	if cfg.Providers.PgVector.Enabled {
		pool, err := db.Connect(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		cleanup = pool.Close

		pg, err := provider.NewPgVector(ctx, pool, provider.PgVectorConfig{
			Config:       cfg.Providers.PgVector.Config,
			Table:        cfg.Providers.PgVector.Table,
			EmbeddingDim: cfg.Embedding.Dimensions,
			IndexType:    cfg.Providers.PgVector.IndexType,
		})
		if err != nil {
			slog.Error("failed to initialize pgvector provider", "error", err)
			os.Exit(1)
		}
		providers = append(providers, pg)
		fallbackEngine = fallback.NewEngine(pg.RawConn(), pg.Table())
	}

	if cfg.Providers.Qdrant.Enabled {
		qd, err := provider.NewQdrant(ctx, provider.QdrantConfig{
			Config:       cfg.Providers.Qdrant.Config,
			BaseURL:      cfg.Providers.Qdrant.BaseURL,
			APIKey:       cfg.Providers.Qdrant.APIKey,
			Collection:   cfg.Providers.Qdrant.Collection,
			EmbeddingDim: cfg.Embedding.Dimensions,
		})
		if err != nil {
			slog.Error("failed to initialize qdrant provider", "error", err)
			os.Exit(1)
		}
		providers = append(providers, qd)
	}

	if cfg.Providers.Chromem.Enabled {
		ch, err := provider.NewChromem(provider.ChromemConfig{
			Config:     cfg.Providers.Chromem.Config,
			Path:       cfg.Providers.Chromem.Path,
			Collection: cfg.Providers.Chromem.Collection,
		})
		if err != nil {
			slog.Error("failed to initialize chromem provider", "error", err)
			os.Exit(1)
		}
		providers = append(providers, ch)
	}

	return providers, fallbackEngine, cleanup
}

func buildCache(ctx context.Context, cfg config.CacheConfig) cache.ResponseCache {
	if cfg.Backend == "redis" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisURL, "", cfg.RedisDB, cfg.TTL)
		if err != nil {
			slog.Warn("redis cache unavailable, using in-process cache", "error", err)
		} else {
			return redisCache
		}
	}
	return cache.NewMemory(cfg.TTL)
}
