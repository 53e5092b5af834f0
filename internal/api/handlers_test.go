package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/membrane-ai/membrane/internal/memory"
	"github.com/membrane-ai/membrane/internal/model"
	"github.com/membrane-ai/membrane/internal/provider"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.UnifiedStore) {
	t.Helper()
	backend := provider.NewInMemory(provider.InMemoryConfig{
		Config: provider.Config{Name: "mem", Enabled: true, Primary: true},
	})
	registry, err := provider.NewRegistry([]provider.Provider{backend})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := memory.NewUnifiedStore(registry, memory.Options{Embedder: fixedEmbedder{}})
	t.Cleanup(store.Close)

	srv := httptest.NewServer(NewRouter(store))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestStoreAndQueryRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	storeBody, _ := json.Marshal(model.StoreRequest{
		Content: "standup moved to 9am",
		UserID:  "u1",
	})
	resp, err := http.Post(srv.URL+"/api/v1/memories", "application/json", bytes.NewReader(storeBody))
	if err != nil {
		t.Fatalf("store request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("store status = %d, want 201", resp.StatusCode)
	}
	var record model.MemoryRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		t.Fatalf("decode store response: %v", err)
	}
	if record.Content != "standup moved to 9am" {
		t.Fatalf("record content = %q", record.Content)
	}

	queryBody, _ := json.Marshal(model.QueryRequest{Query: "standup", Limit: 5})
	qresp, err := http.Post(srv.URL+"/api/v1/memories/query", "application/json", bytes.NewReader(queryBody))
	if err != nil {
		t.Fatalf("query request: %v", err)
	}
	defer qresp.Body.Close()
	if qresp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, want 200", qresp.StatusCode)
	}
	var result model.QueryResponse
	if err := json.NewDecoder(qresp.Body).Decode(&result); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if len(result.Memories) != 1 || result.Memories[0].ID != record.ID {
		t.Fatalf("query did not return the stored record: %+v", result)
	}
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/memories", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("stats request: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["orchestrator"]; !ok {
		t.Fatalf("stats body missing orchestrator section: %v", body)
	}

	refresh, err := http.Post(srv.URL+"/api/v1/stats/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("refresh request: %v", err)
	}
	defer refresh.Body.Close()
	if refresh.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", refresh.StatusCode)
	}
}

func TestAuditWithoutRawBackend(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/audit")
	if err != nil {
		t.Fatalf("audit request: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("audit without a raw connection must explain itself")
	}
}
