package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/membrane-ai/membrane/internal/model"
)

// ChromemConfig configures the embedded chromem-go provider.
type ChromemConfig struct {
	Config     `yaml:",inline"`
	Path       string `yaml:"path"` // empty means in-memory only
	Collection string `yaml:"collection"`
}

// Chromem is the embedded local-index provider: a pure-Go vector database
// with no external service to run. Good for local speed, not shared state.
type Chromem struct {
	cfg ChromemConfig
	col *chromem.Collection
}

// NewChromem opens (or creates) the configured collection.
func NewChromem(cfg ChromemConfig) (*Chromem, error) {
	if cfg.Collection == "" {
		cfg.Collection = "memories"
	}
	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("%w: open chromem db: %v", model.ErrBackendUnavailable, err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Embeddings are always provided by the caller, so no embedding func.
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", model.ErrBackendUnavailable, err)
	}
	slog.Info("chromem provider initialized", "collection", cfg.Collection, "persistent", cfg.Path != "")
	return &Chromem{cfg: cfg, col: col}, nil
}

func (c *Chromem) Name() string    { return c.cfg.Name }
func (c *Chromem) Enabled() bool   { return c.cfg.Enabled }
func (c *Chromem) IsPrimary() bool { return c.cfg.Primary }
func (c *Chromem) Retries() int    { return c.cfg.retries() }

func (c *Chromem) Store(ctx context.Context, content string, embedding []float32, metadata map[string]any) (uuid.UUID, error) {
	if c.col == nil {
		return uuid.Nil, model.ErrBackendUnavailable
	}
	id := uuid.New()

	// chromem metadata values are strings; the full map rides along as JSON.
	meta := map[string]string{
		"importance_score": strconv.FormatFloat(floatFromMetadata(metadata, "importance_score", 0.5), 'f', -1, 64),
		"created_at":       strconv.FormatInt(timestampFromMetadata(metadata).Unix(), 10),
	}
	if s := stringFromMetadata(metadata, "user_id"); s != nil {
		meta["user_id"] = *s
	}
	if s := stringFromMetadata(metadata, "conversation_id"); s != nil {
		meta["conversation_id"] = *s
	}
	if raw, err := json.Marshal(metadata); err == nil {
		meta["metadata_json"] = string(raw)
	}

	doc := chromem.Document{
		ID:        id.String(),
		Content:   content,
		Embedding: embedding,
		Metadata:  meta,
	}
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", model.ErrWriteRejected, err)
	}
	return id, nil
}

func (c *Chromem) Query(ctx context.Context, embedding []float32, limit int, filters map[string]any) ([]model.MemoryRecord, error) {
	if c.col == nil {
		return nil, model.ErrBackendUnavailable
	}
	// chromem rejects nResults greater than the collection size.
	if count := c.col.Count(); limit > count {
		limit = count
	}
	if limit <= 0 {
		return nil, nil
	}

	where := map[string]string{}
	for _, key := range []string{"user_id", "conversation_id"} {
		if v, ok := filters[key]; ok {
			where[key] = fmt.Sprint(v)
		}
	}
	if len(where) == 0 {
		where = nil
	}

	results, err := c.col.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrQueryFailed, err)
	}

	records := make([]model.MemoryRecord, 0, len(results))
	for _, res := range results {
		rec := model.MemoryRecord{
			Content:         res.Content,
			SimilarityScore: float64(res.Similarity),
			Metadata:        map[string]any{},
		}
		if id, err := uuid.Parse(res.ID); err == nil {
			rec.ID = id
		}
		if raw, ok := res.Metadata["metadata_json"]; ok {
			var meta map[string]any
			if err := json.Unmarshal([]byte(raw), &meta); err == nil {
				rec.Metadata = meta
			}
		}
		if s, ok := res.Metadata["importance_score"]; ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				rec.ImportanceScore = f
			}
		}
		if s, ok := res.Metadata["created_at"]; ok {
			if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
				rec.CreatedAt = time.Unix(ts, 0).UTC()
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Chromem) HealthCheck(ctx context.Context) (map[string]any, error) {
	if c.col == nil {
		return nil, model.ErrBackendUnavailable
	}
	return map[string]any{
		"status":        "healthy",
		"total_vectors": c.col.Count(),
		"collection":    c.cfg.Collection,
		"storage_type":  "embedded",
	}, nil
}

func (c *Chromem) Stats(ctx context.Context) (map[string]any, error) {
	if c.col == nil {
		return nil, model.ErrBackendUnavailable
	}
	return map[string]any{
		"provider":       "chromem",
		"total_memories": c.col.Count(),
	}, nil
}
