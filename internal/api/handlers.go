package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/membrane-ai/membrane/internal/memory"
	"github.com/membrane-ai/membrane/internal/model"
)

type Handlers struct {
	store *memory.UnifiedStore
}

func NewHandlers(store *memory.UnifiedStore) *Handlers {
	return &Handlers{store: store}
}

// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"providers": h.store.ProviderReport(r.Context()),
	})
}

// POST /api/v1/memories
func (h *Handlers) StoreMemory(w http.ResponseWriter, r *http.Request) {
	var req model.StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	record, err := h.store.Store(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrEmbeddingUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, model.ErrStoreFailed):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// POST /api/v1/memories/query
func (h *Handlers) QueryMemories(w http.ResponseWriter, r *http.Request) {
	var req model.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.store.Query(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"orchestrator": h.store.Stats(),
		"providers":    h.store.ProviderReport(r.Context()),
	})
}

// POST /api/v1/stats/refresh
func (h *Handlers) RefreshStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.RefreshStats(r.Context()))
}

// GET /api/v1/audit
func (h *Handlers) VisibilityAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.VisibilityAudit(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
