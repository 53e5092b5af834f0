// Package fallback implements the non-similarity retrieval tiers used when
// vector search yields nothing: full catalog scan, full-text search, and
// fuzzy substring search, plus a diagnostic visibility audit.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/membrane-ai/membrane/internal/model"
	"github.com/membrane-ai/membrane/internal/provider"
)

// Strategy identifiers reported through QueryResponse.ProvidersUsed and used
// as log keys so each tier's failures stay individually observable.
const (
	StrategyDirect   = "direct_retrieval"
	StrategyFullText = "text_search_fallback"
	StrategyFuzzy    = "fuzzy_search_fallback"
)

// fullScanSimilarity is the sentinel attached to unranked scan results:
// "not ranked by similarity, trust creation order".
const fullScanSimilarity = 1.0

// maxFuzzyTokens bounds how many query words the fuzzy tier matches on.
const maxFuzzyTokens = 5

// Engine runs raw tabular queries against a backend connection. Retrieval
// tiers never propagate errors past their own boundary: they log under their
// strategy name and return an empty result, preferring some answer over none.
type Engine struct {
	conn  provider.RawConn
	table string

	mu       sync.Mutex
	resolved string
}

// NewEngine builds an engine over a raw connection. table is the expected
// catalog name; discovery adopts a close match if it is missing.
func NewEngine(conn provider.RawConn, table string) *Engine {
	if table == "" {
		table = "vector_memories"
	}
	return &Engine{conn: conn, table: table}
}

// resolveTable confirms the configured table is reachable, or adopts the
// first reasonably-named candidate. Handles backend naming drift without
// hardcoding; the substitution is logged.
func (e *Engine) resolveTable(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved != "" {
		return e.resolved, nil
	}

	rows, err := e.conn.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
		  AND (table_name = $1 OR table_name LIKE '%memor%' OR table_name LIKE '%vector%')
		ORDER BY table_name`, e.table)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		if name == e.table {
			e.resolved = name
			return name, nil
		}
		candidates = append(candidates, name)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(candidates) > 0 {
		slog.Warn("configured table not found, adopting candidate",
			"configured", e.table, "adopted", candidates[0])
		e.resolved = candidates[0]
		return candidates[0], nil
	}
	return "", fmt.Errorf("no memory table found (configured %q)", e.table)
}

// FullScan returns up to limit records ordered by creation time descending,
// skipping rows with null content.
func (e *Engine) FullScan(ctx context.Context, limit int) []model.MemoryRecord {
	table, err := e.resolveTable(ctx)
	if err != nil {
		slog.Error("fallback tier failed", "strategy", StrategyDirect, "error", err)
		return nil
	}
	rows, err := e.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, importance_score, created_at
		FROM %s
		WHERE content IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $1`, table), limit)
	if err != nil {
		slog.Error("fallback tier failed", "strategy", StrategyDirect, "error", err)
		return nil
	}
	defer rows.Close()

	records := collectRecords(rows, func(rec *model.MemoryRecord) {
		rec.SimilarityScore = fullScanSimilarity
	}, StrategyDirect)
	slog.Info("full scan retrieved records", "count", len(records))
	return records
}

// TextSearch ranks records by full-text relevance against the query,
// descending by rank then by creation time.
func (e *Engine) TextSearch(ctx context.Context, query string, limit int) []model.MemoryRecord {
	table, err := e.resolveTable(ctx)
	if err != nil {
		slog.Error("fallback tier failed", "strategy", StrategyFullText, "error", err)
		return nil
	}
	rows, err := e.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, importance_score, created_at,
		       ts_rank_cd(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		FROM %s
		WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC, created_at DESC
		LIMIT $2`, table), query, limit)
	if err != nil {
		slog.Error("fallback tier failed", "strategy", StrategyFullText, "error", err)
		return nil
	}
	defer rows.Close()

	var records []model.MemoryRecord
	for rows.Next() {
		var rec model.MemoryRecord
		var rank float64
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Metadata, &rec.ImportanceScore, &rec.CreatedAt, &rank); err != nil {
			slog.Error("fallback tier failed", "strategy", StrategyFullText, "error", err)
			return nil
		}
		rec.SimilarityScore = rank
		if rec.SimilarityScore == 0 {
			rec.SimilarityScore = 0.5
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("fallback tier failed", "strategy", StrategyFullText, "error", err)
		return nil
	}
	slog.Info("text search found records", "count", len(records), "query", query)
	return records
}

// FuzzySearch matches records whose content contains any query token as a
// case-insensitive substring, sorted by token-match relevance descending.
func (e *Engine) FuzzySearch(ctx context.Context, query string, limit int) []model.MemoryRecord {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	table, err := e.resolveTable(ctx)
	if err != nil {
		slog.Error("fallback tier failed", "strategy", StrategyFuzzy, "error", err)
		return nil
	}

	conditions := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for i, tok := range tokens {
		conditions = append(conditions, fmt.Sprintf("LOWER(content) LIKE $%d", i+1))
		args = append(args, "%"+tok+"%")
	}
	args = append(args, limit)

	rows, err := e.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, importance_score, created_at
		FROM %s
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, table, strings.Join(conditions, " OR "), len(tokens)+1), args...)
	if err != nil {
		slog.Error("fallback tier failed", "strategy", StrategyFuzzy, "error", err)
		return nil
	}
	defer rows.Close()

	records := collectRecords(rows, nil, StrategyFuzzy)
	for i := range records {
		records[i].SimilarityScore = Relevance(records[i].Content, tokens)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SimilarityScore > records[j].SimilarityScore
	})
	slog.Info("fuzzy search found records", "count", len(records), "tokens", len(tokens))
	return records
}

// AuditReport summarizes record and embedding coverage for operational
// tooling; it is never consulted on the query hot path.
type AuditReport struct {
	TotalMemories     int           `json:"total_memories"`
	WithEmbeddings    int           `json:"with_embeddings"`
	WithoutEmbeddings int           `json:"without_embeddings"`
	MissingSamples    []AuditSample `json:"missing_embedding_samples,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// AuditSample previews a record that has no embedding.
type AuditSample struct {
	ID      string `json:"id"`
	Preview string `json:"preview"`
}

// VisibilityAudit reports how many records exist, how many carry embeddings,
// and samples a few that do not. Failures come back as an error-shaped report
// rather than an error value.
func (e *Engine) VisibilityAudit(ctx context.Context) AuditReport {
	table, err := e.resolveTable(ctx)
	if err != nil {
		slog.Error("visibility audit failed", "error", err)
		return AuditReport{Error: err.Error()}
	}

	var report AuditReport
	if err := e.conn.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&report.TotalMemories); err != nil {
		slog.Error("visibility audit failed", "error", err)
		return AuditReport{Error: err.Error()}
	}
	if err := e.conn.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE embedding IS NOT NULL`, table)).Scan(&report.WithEmbeddings); err != nil {
		slog.Error("visibility audit failed", "error", err)
		return AuditReport{Error: err.Error()}
	}
	report.WithoutEmbeddings = report.TotalMemories - report.WithEmbeddings

	rows, err := e.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, SUBSTRING(content, 1, 100)
		FROM %s
		WHERE embedding IS NULL
		LIMIT 5`, table))
	if err != nil {
		slog.Error("visibility audit failed", "error", err)
		return AuditReport{Error: err.Error()}
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var preview string
		if err := rows.Scan(&id, &preview); err != nil {
			slog.Error("visibility audit failed", "error", err)
			return AuditReport{Error: err.Error()}
		}
		report.MissingSamples = append(report.MissingSamples, AuditSample{ID: id.String(), Preview: preview})
	}
	if err := rows.Err(); err != nil {
		slog.Error("visibility audit failed", "error", err)
		return AuditReport{Error: err.Error()}
	}
	return report
}

// CatalogCount counts rows in the resolved table. Statistics reconciliation
// uses it when a provider's own health report omits a count.
func (e *Engine) CatalogCount(ctx context.Context) (int, error) {
	table, err := e.resolveTable(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	if err := e.conn.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Tokenize lowercases and splits a query into at most maxFuzzyTokens words.
func Tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) > maxFuzzyTokens {
		fields = fields[:maxFuzzyTokens]
	}
	return fields
}

// Relevance is the fraction of tokens appearing as substrings of content.
func Relevance(content string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

func collectRecords(rows provider.Rows, decorate func(*model.MemoryRecord), strategy string) []model.MemoryRecord {
	var records []model.MemoryRecord
	for rows.Next() {
		var rec model.MemoryRecord
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Metadata, &rec.ImportanceScore, &rec.CreatedAt); err != nil {
			slog.Error("fallback tier failed", "strategy", strategy, "error", err)
			return nil
		}
		if decorate != nil {
			decorate(&rec)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("fallback tier failed", "strategy", strategy, "error", err)
		return nil
	}
	return records
}
