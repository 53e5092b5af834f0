// Package memory implements the unified store: the orchestrator that routes
// writes to a primary vector backend with retry and replication, and answers
// queries through a cache, similarity search, and a chain of fallback tiers.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/membrane-ai/membrane/internal/cache"
	"github.com/membrane-ai/membrane/internal/fallback"
	"github.com/membrane-ai/membrane/internal/model"
	"github.com/membrane-ai/membrane/internal/provider"
	"github.com/membrane-ai/membrane/internal/scoring"
	"github.com/membrane-ai/membrane/internal/worker"
)

// Composite ranking weights: similarity dominates, importance breaks near-ties.
const (
	similarityWeight = 0.7
	importanceWeight = 0.3
)

// DefaultMinSimilarity applies when a query does not set its own threshold.
const DefaultMinSimilarity = 0.7

// replicationTimeout bounds each background replication write.
const replicationTimeout = 30 * time.Second

// Embedder generates the vector for content that arrives without one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Scorer assigns importance scores with a diagnostic breakdown.
type Scorer interface {
	Score(ctx context.Context, content string, metadata map[string]any) (scoring.Result, error)
}

// DuplicateChecker decides whether content duplicates an existing record.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, content string, metadata map[string]any) (model.DuplicateResult, error)
	Remember(content string, record model.MemoryRecord)
}

// Options configures a UnifiedStore. Everything except the registry is
// optional; absent capabilities degrade the matching pipeline step.
type Options struct {
	Embedder           Embedder
	Scorer             Scorer
	Duplicates         DuplicateChecker
	Fallback           *fallback.Engine
	Cache              cache.ResponseCache
	Bounds             model.ScoringBounds
	MinSimilarity      float64
	ReplicationWorkers int
	// BackoffUnit scales the exponential retry backoff: attempt i waits
	// 2^i units. Zero means one second.
	BackoffUnit time.Duration
}

// UnifiedStore is the orchestration layer over the provider registry.
type UnifiedStore struct {
	registry   *provider.Registry
	embedder   Embedder
	scorer     Scorer
	duplicates DuplicateChecker
	fallback   *fallback.Engine
	cache      cache.ResponseCache
	pool       *worker.Pool
	stats      *Stats

	bounds        model.ScoringBounds
	minSimilarity float64
	backoffUnit   time.Duration

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration)
}

// NewUnifiedStore builds the orchestrator. The registry must already have a
// resolved primary.
func NewUnifiedStore(registry *provider.Registry, opts Options) *UnifiedStore {
	bounds := opts.Bounds
	if bounds == (model.ScoringBounds{}) {
		bounds = model.DefaultScoringBounds()
	}
	minSim := opts.MinSimilarity
	if minSim <= 0 {
		minSim = DefaultMinSimilarity
	}
	unit := opts.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}
	workers := opts.ReplicationWorkers
	if workers <= 0 {
		workers = 4
	}
	respCache := opts.Cache
	if respCache == nil {
		respCache = cache.NewMemory(cache.DefaultTTL)
	}
	return &UnifiedStore{
		registry:      registry,
		embedder:      opts.Embedder,
		scorer:        opts.Scorer,
		duplicates:    opts.Duplicates,
		fallback:      opts.Fallback,
		cache:         respCache,
		pool:          worker.NewPool(workers),
		stats:         &Stats{},
		bounds:        bounds,
		minSimilarity: minSim,
		backoffUnit:   unit,
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Store runs the write pipeline: dedup, embed, score, metadata merge, primary
// write with retry, background replication.
func (u *UnifiedStore) Store(ctx context.Context, req model.StoreRequest) (*model.MemoryRecord, error) {
	if u.duplicates != nil {
		result, err := u.duplicates.CheckDuplicate(ctx, req.Content, req.Metadata)
		if err != nil {
			slog.Warn("duplicate check failed, storing anyway", "error", err)
		} else if result.IsDuplicate && result.Existing != nil {
			u.stats.RecordDuplicate(len(req.Content))
			slog.Info("duplicate prevented", "existing_id", result.Existing.ID, "reason", result.Reason)
			existing := *result.Existing
			return &existing, nil
		}
	}

	embedding := req.Embedding
	if len(embedding) == 0 {
		if u.embedder == nil {
			return nil, model.ErrEmbeddingUnavailable
		}
		vec, err := u.embedder.Embed(ctx, req.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrEmbeddingUnavailable, err)
		}
		embedding = vec
	}

	score, breakdown := u.importance(ctx, req)

	now := time.Now().UTC()
	metadata := u.mergeMetadata(req, score, breakdown, now)

	primary := u.registry.Primary()
	id, err := u.storeWithRetry(ctx, primary, req.Content, embedding, metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: primary %s: %v", model.ErrStoreFailed, primary.Name(), err)
	}

	record := model.MemoryRecord{
		ID:              id,
		Content:         req.Content,
		Embedding:       embedding,
		Metadata:        metadata,
		ImportanceScore: score,
		CreatedAt:       now,
	}

	u.replicate(req.Content, embedding, metadata)
	u.stats.RecordStore(primary.Name())
	if u.duplicates != nil {
		u.duplicates.Remember(req.Content, record)
	}
	return &record, nil
}

// importance resolves the record's score: caller-supplied, scoring engine,
// or the built-in length heuristic, in that order.
func (u *UnifiedStore) importance(ctx context.Context, req model.StoreRequest) (float64, map[string]float64) {
	if req.ImportanceScore != nil {
		return u.bounds.Clamp(*req.ImportanceScore), nil
	}
	if u.scorer != nil {
		result, err := u.scorer.Score(ctx, req.Content, req.Metadata)
		if err == nil {
			return u.bounds.Clamp(result.Score), result.Breakdown
		}
		slog.Warn("scoring engine failed, using heuristic", "error", err)
	}
	return scoring.Fallback(req.Content, req.UserID, req.ConversationID, u.bounds), nil
}

// mergeMetadata overlays computed keys onto the caller's metadata. Caller
// values lose on collision for the fixed computed set.
func (u *UnifiedStore) mergeMetadata(req model.StoreRequest, score float64, breakdown map[string]float64, now time.Time) map[string]any {
	metadata := make(map[string]any, len(req.Metadata)+6)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.UserID != "" {
		metadata["user_id"] = req.UserID
	}
	if req.ConversationID != "" {
		metadata["conversation_id"] = req.ConversationID
	}
	metadata["importance_score"] = score
	metadata["created_at"] = now.Format(time.RFC3339Nano)
	metadata["content_length"] = len(req.Content)
	if len(breakdown) > 0 {
		metadata["score_breakdown"] = breakdown
	}
	return metadata
}

func (u *UnifiedStore) storeWithRetry(ctx context.Context, p provider.Provider, content string, embedding []float32, metadata map[string]any) (id uuid.UUID, err error) {
	attempts := p.Retries()
	for i := 0; i < attempts; i++ {
		id, err = p.Store(ctx, content, embedding, metadata)
		if err == nil {
			return id, nil
		}
		slog.Warn("primary store attempt failed",
			"provider", p.Name(), "attempt", i+1, "of", attempts, "error", err)
		if i < attempts-1 {
			u.sleep(ctx, time.Duration(1<<uint(i))*u.backoffUnit)
		}
	}
	return id, err
}

// replicate schedules best-effort writes to every secondary. Failures are
// counted and logged, never surfaced.
func (u *UnifiedStore) replicate(content string, embedding []float32, metadata map[string]any) {
	for _, secondary := range u.registry.Secondaries() {
		sec := secondary
		u.pool.Submit(context.Background(), func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, replicationTimeout)
			defer cancel()
			if _, err := sec.Store(ctx, content, embedding, metadata); err != nil {
				u.stats.RecordReplicationFailure()
				slog.Warn("replication failed", "provider", sec.Name(), "error", err)
				return
			}
			slog.Debug("replicated record", "provider", sec.Name())
		})
	}
}

// Query runs the retrieval pipeline: cache, empty-query fast path or
// similarity search, fallback tiers, composite ranking.
func (u *UnifiedStore) Query(ctx context.Context, req model.QueryRequest) (*model.QueryResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.MinSimilarity <= 0 {
		req.MinSimilarity = u.minSimilarity
	}

	key := cache.Key(req)
	if cached, ok := u.cache.Get(ctx, key); ok {
		u.stats.RecordCacheHit()
		return cached, nil
	}
	u.stats.RecordCacheMiss()

	start := time.Now()
	trimmed := strings.TrimSpace(req.Query)

	var resp *model.QueryResponse
	if trimmed == "" {
		resp = u.queryRecent(ctx, req)
	} else {
		resp = u.querySimilarity(ctx, req, trimmed)
	}

	resp.QueryTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	u.stats.RecordQuery(resp.QueryTimeMs, resp.ProvidersUsed)
	u.cache.Set(ctx, key, resp)
	return resp, nil
}

// queryRecent serves empty queries newest-first, preserving creation order
// rather than re-ranking by composite score.
func (u *UnifiedStore) queryRecent(ctx context.Context, req model.QueryRequest) *model.QueryResponse {
	filters := u.scopeFilters(req)

	var records []model.MemoryRecord
	listed := false
	if lister, ok := u.registry.Primary().(provider.RecentLister); ok {
		recent, err := lister.RecentMemories(ctx, req.Limit, filters)
		if err != nil {
			slog.Warn("recent retrieval failed, trying full scan", "error", err)
		} else {
			// An empty result is still a successful answer; don't escalate.
			records = recent
			listed = true
		}
	}
	if !listed && u.fallback != nil {
		records = u.fallback.FullScan(ctx, req.Limit)
	}

	total := len(records)
	if len(records) > req.Limit {
		records = records[:req.Limit]
	}
	return &model.QueryResponse{
		Memories:      records,
		TotalFound:    total,
		ProvidersUsed: []string{fallback.StrategyDirect},
	}
}

// querySimilarity runs embedding search across the selected providers, then
// escalates through the full-text and fuzzy tiers when it comes back empty.
func (u *UnifiedStore) querySimilarity(ctx context.Context, req model.QueryRequest, trimmed string) *model.QueryResponse {
	var candidates []model.MemoryRecord
	var used []string

	embedding := u.queryEmbedding(ctx, trimmed)
	if embedding != nil {
		candidates, used = u.fanOut(ctx, embedding, req)
	}

	if len(candidates) == 0 {
		if u.fallback != nil {
			// Over-fetch so composite ranking, not the tier's own cut,
			// decides which borderline records survive truncation.
			fetch := req.Limit * 2
			if results := u.fallback.TextSearch(ctx, trimmed, fetch); len(results) > 0 {
				candidates = results
				used = []string{fallback.StrategyFullText}
			} else if results := u.fallback.FuzzySearch(ctx, trimmed, fetch); len(results) > 0 {
				candidates = results
				used = []string{fallback.StrategyFuzzy}
			}
		}
		if len(candidates) == 0 {
			return &model.QueryResponse{Memories: []model.MemoryRecord{}, ProvidersUsed: used}
		}
	}

	ranked := rank(candidates, req.MinSimilarity)
	if float64(len(candidates)) < float64(req.Limit)/2 {
		// Thin candidate pool: relax the threshold for ranking only.
		ranked = rank(candidates, 0)
	}

	total := len(ranked)
	if len(ranked) > req.Limit {
		ranked = ranked[:req.Limit]
	}
	return &model.QueryResponse{
		Memories:      ranked,
		TotalFound:    total,
		ProvidersUsed: used,
	}
}

// queryEmbedding is best-effort: a failed generation degrades the similarity
// path instead of failing the query.
func (u *UnifiedStore) queryEmbedding(ctx context.Context, query string) []float32 {
	if u.embedder == nil {
		return nil
	}
	vec, err := u.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, relying on fallback tiers", "error", err)
		return nil
	}
	return vec
}

// fanOut queries each selected provider concurrently with per-provider
// isolation. Results merge in provider order so ties stay deterministic.
func (u *UnifiedStore) fanOut(ctx context.Context, embedding []float32, req model.QueryRequest) ([]model.MemoryRecord, []string) {
	providers := u.registry.Select(req.Providers)
	if len(providers) == 0 {
		return nil, nil
	}
	filters := u.scopeFilters(req)

	if len(providers) == 1 {
		p := providers[0]
		records, err := p.Query(ctx, embedding, req.Limit, filters)
		if err != nil {
			slog.Warn("provider query failed", "provider", p.Name(), "error", err)
			return nil, nil
		}
		return records, []string{p.Name()}
	}

	type result struct {
		records []model.MemoryRecord
		err     error
	}
	results := make([]result, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			records, err := p.Query(ctx, embedding, req.Limit, filters)
			results[i] = result{records: records, err: err}
		}(i, p)
	}
	wg.Wait()

	var merged []model.MemoryRecord
	var used []string
	for i, p := range providers {
		if results[i].err != nil {
			slog.Warn("provider query failed", "provider", p.Name(), "error", results[i].err)
			continue
		}
		merged = append(merged, results[i].records...)
		used = append(used, p.Name())
	}
	return merged, used
}

// scopeFilters overlays user/conversation scoping onto the request filters.
func (u *UnifiedStore) scopeFilters(req model.QueryRequest) map[string]any {
	if req.UserID == "" && req.ConversationID == "" {
		return req.Filters
	}
	filters := make(map[string]any, len(req.Filters)+2)
	for k, v := range req.Filters {
		filters[k] = v
	}
	if req.UserID != "" {
		filters["user_id"] = req.UserID
	}
	if req.ConversationID != "" {
		filters["conversation_id"] = req.ConversationID
	}
	return filters
}

// rank filters by threshold and sorts by composite score, descending. The
// sort is stable so provider return order breaks ties.
func rank(records []model.MemoryRecord, minSimilarity float64) []model.MemoryRecord {
	kept := make([]model.MemoryRecord, 0, len(records))
	for _, rec := range records {
		if rec.SimilarityScore >= minSimilarity {
			kept = append(kept, rec)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return compositeScore(kept[i]) > compositeScore(kept[j])
	})
	return kept
}

func compositeScore(rec model.MemoryRecord) float64 {
	return similarityWeight*rec.SimilarityScore + importanceWeight*rec.ImportanceScore
}

// InitialSync reconciles the store counter against each enabled provider's
// self-reported count. Best-effort: run it in the background after startup.
func (u *UnifiedStore) InitialSync(ctx context.Context) {
	total := 0
	for _, p := range u.registry.Enabled() {
		health, err := p.HealthCheck(ctx)
		if err != nil {
			slog.Warn("stats sync: provider unreachable", "provider", p.Name(), "error", err)
			continue
		}
		total += countFromReport(health)
	}
	u.stats.SetTotalStores(total)
	slog.Info("statistics synced", "total_stores", total)
}

// RefreshStats re-runs reconciliation on demand, additionally falling back
// to a raw catalog count when the primary's health report omits one.
func (u *UnifiedStore) RefreshStats(ctx context.Context) map[string]any {
	total := 0
	for _, p := range u.registry.Enabled() {
		health, err := p.HealthCheck(ctx)
		if err != nil {
			slog.Warn("stats refresh: provider unreachable", "provider", p.Name(), "error", err)
			continue
		}
		count := countFromReport(health)
		if count == 0 && p == u.registry.Primary() && u.fallback != nil {
			if raw, err := u.fallback.CatalogCount(ctx); err == nil {
				count = raw
			} else {
				slog.Warn("stats refresh: catalog count failed", "error", err)
			}
		}
		total += count
	}
	u.stats.SetTotalStores(total)
	return u.stats.Snapshot()
}

func countFromReport(report map[string]any) int {
	if v, ok := report["total_vectors"]; ok {
		return model.IntFromAny(v)
	}
	if v, ok := report["total_memories"]; ok {
		return model.IntFromAny(v)
	}
	return 0
}

// Stats returns the orchestrator counters.
func (u *UnifiedStore) Stats() map[string]any {
	return u.stats.Snapshot()
}

// ProviderReport collects each enabled provider's health and stats for the
// operational surface.
func (u *UnifiedStore) ProviderReport(ctx context.Context) map[string]any {
	report := make(map[string]any)
	for _, p := range u.registry.Enabled() {
		entry := map[string]any{"primary": p == u.registry.Primary()}
		if health, err := p.HealthCheck(ctx); err != nil {
			entry["status"] = "unreachable"
			entry["error"] = err.Error()
		} else {
			entry["health"] = health
			if stats, err := p.Stats(ctx); err == nil {
				entry["stats"] = stats
			}
		}
		report[p.Name()] = entry
	}
	return report
}

// VisibilityAudit exposes the fallback engine's coverage diagnostic.
func (u *UnifiedStore) VisibilityAudit(ctx context.Context) fallback.AuditReport {
	if u.fallback == nil {
		return fallback.AuditReport{Error: "no raw backend connection configured"}
	}
	return u.fallback.VisibilityAudit(ctx)
}

// Close drains in-flight replication jobs.
func (u *UnifiedStore) Close() {
	u.pool.Drain()
}
