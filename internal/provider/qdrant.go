package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/membrane-ai/membrane/internal/model"
)

// QdrantConfig configures the Qdrant HTTP provider.
type QdrantConfig struct {
	Config       `yaml:",inline"`
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	Collection   string `yaml:"collection"`
	EmbeddingDim int    `yaml:"embedding_dim"`
}

// Qdrant talks to a Qdrant instance over its REST API. It fills the
// cloud-index-service role: managed scale, no local state.
type Qdrant struct {
	cfg    QdrantConfig
	client *http.Client
}

// qdrantStatus accepts both `status: "ok"` and `status: {"error": "..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// NewQdrant creates the provider and ensures the collection exists.
func NewQdrant(ctx context.Context, cfg QdrantConfig) (*Qdrant, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Collection == "" {
		cfg.Collection = "memories"
	}
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = 768
	}
	q := &Qdrant{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	slog.Info("qdrant provider initialized", "collection", cfg.Collection, "url", cfg.BaseURL)
	return q, nil
}

func (q *Qdrant) Name() string    { return q.cfg.Name }
func (q *Qdrant) Enabled() bool   { return q.cfg.Enabled }
func (q *Qdrant) IsPrimary() bool { return q.cfg.Primary }
func (q *Qdrant) Retries() int    { return q.cfg.retries() }

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	// Existing collections answer GET with status ok.
	var info qdrantEnvelope[map[string]any]
	if err := q.do(ctx, http.MethodGet, "/collections/"+q.cfg.Collection, nil, &info); err == nil && info.Status.State == "ok" {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{"size": q.cfg.EmbeddingDim, "distance": "Cosine"},
	}
	var resp qdrantEnvelope[bool]
	if err := q.do(ctx, http.MethodPut, "/collections/"+q.cfg.Collection, body, &resp); err != nil {
		return fmt.Errorf("%w: create collection: %v", model.ErrBackendUnavailable, err)
	}
	return nil
}

func (q *Qdrant) Store(ctx context.Context, content string, embedding []float32, metadata map[string]any) (uuid.UUID, error) {
	id := uuid.New()
	payload := map[string]any{
		"content":          content,
		"metadata":         metadata,
		"importance_score": floatFromMetadata(metadata, "importance_score", 0.5),
		"created_at":       timestampFromMetadata(metadata).Unix(),
	}
	if s := stringFromMetadata(metadata, "user_id"); s != nil {
		payload["user_id"] = *s
	}
	if s := stringFromMetadata(metadata, "conversation_id"); s != nil {
		payload["conversation_id"] = *s
	}

	body := map[string]any{
		"points": []map[string]any{{
			"id":      id.String(),
			"vector":  embedding,
			"payload": payload,
		}},
	}
	var resp qdrantEnvelope[map[string]any]
	if err := q.do(ctx, http.MethodPut, "/collections/"+q.cfg.Collection+"/points?wait=true", body, &resp); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", model.ErrWriteRejected, err)
	}
	if resp.Status.State == "error" {
		return uuid.Nil, fmt.Errorf("%w: %s", model.ErrWriteRejected, resp.Status.Error)
	}
	return id, nil
}

func (q *Qdrant) Query(ctx context.Context, embedding []float32, limit int, filters map[string]any) ([]model.MemoryRecord, error) {
	body := map[string]any{
		"vector":       embedding,
		"limit":        limit,
		"with_payload": true,
	}
	if cond := qdrantFilter(filters); cond != nil {
		body["filter"] = cond
	}
	var resp qdrantEnvelope[[]qdrantPoint]
	if err := q.do(ctx, http.MethodPost, "/collections/"+q.cfg.Collection+"/points/search", body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrQueryFailed, err)
	}
	if resp.Status.State == "error" {
		return nil, fmt.Errorf("%w: %s", model.ErrQueryFailed, resp.Status.Error)
	}

	records := make([]model.MemoryRecord, 0, len(resp.Result))
	for _, pt := range resp.Result {
		rec := model.MemoryRecord{
			SimilarityScore: pt.Score,
			ImportanceScore: floatFromMetadata(pt.Payload, "importance_score", 0.5),
		}
		if id, err := uuid.Parse(pt.ID); err == nil {
			rec.ID = id
		}
		if content, ok := pt.Payload["content"].(string); ok {
			rec.Content = content
		}
		if meta, ok := pt.Payload["metadata"].(map[string]any); ok {
			rec.Metadata = meta
		} else {
			rec.Metadata = map[string]any{}
		}
		if ts := model.IntFromAny(pt.Payload["created_at"]); ts > 0 {
			rec.CreatedAt = time.Unix(int64(ts), 0).UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}

func qdrantFilter(filters map[string]any) map[string]any {
	var must []map[string]any
	for _, key := range []string{"user_id", "conversation_id"} {
		if v, ok := filters[key]; ok {
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": fmt.Sprint(v)},
			})
		}
	}
	if _, ok := filters["min_importance"]; ok {
		must = append(must, map[string]any{
			"key":   "importance_score",
			"range": map[string]any{"gte": floatFromMetadata(filters, "min_importance", 0)},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (q *Qdrant) HealthCheck(ctx context.Context) (map[string]any, error) {
	count, err := q.count(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":        "healthy",
		"total_vectors": count,
		"collection":    q.cfg.Collection,
	}, nil
}

func (q *Qdrant) Stats(ctx context.Context) (map[string]any, error) {
	count, err := q.count(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"provider":       "qdrant",
		"total_memories": count,
	}, nil
}

func (q *Qdrant) count(ctx context.Context) (int, error) {
	var resp qdrantEnvelope[struct {
		Count int `json:"count"`
	}]
	err := q.do(ctx, http.MethodPost, "/collections/"+q.cfg.Collection+"/points/count",
		map[string]any{"exact": true}, &resp)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	if resp.Status.State == "error" {
		return 0, fmt.Errorf("%w: %s", model.ErrBackendUnavailable, resp.Status.Error)
	}
	return resp.Result.Count, nil
}

func (q *Qdrant) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.cfg.APIKey != "" {
		req.Header.Set("api-key", q.cfg.APIKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
