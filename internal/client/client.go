// Package client is the typed HTTP client for the membrane API, used by the
// CLI and available to other Go callers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/membrane-ai/membrane/internal/fallback"
	"github.com/membrane-ai/membrane/internal/model"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %s", resp.Status)
	}
	return nil
}

func (c *Client) StoreMemory(ctx context.Context, req model.StoreRequest) (*model.MemoryRecord, error) {
	var record model.MemoryRecord
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/memories", req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) QueryMemories(ctx context.Context, req model.QueryRequest) (*model.QueryResponse, error) {
	var resp model.QueryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/memories/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) RefreshStats(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/stats/refresh", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) VisibilityAudit(ctx context.Context) (*fallback.AuditReport, error) {
	var report fallback.AuditReport
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/audit", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error %s: %s", resp.Status, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
