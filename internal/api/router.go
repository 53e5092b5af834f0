package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/membrane-ai/membrane/internal/memory"
)

func NewRouter(store *memory.UnifiedStore) *chi.Mux {
	h := NewHandlers(store)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/memories", h.StoreMemory)
		r.Post("/memories/query", h.QueryMemories)

		r.Get("/stats", h.GetStats)
		r.Post("/stats/refresh", h.RefreshStats)

		r.Get("/audit", h.VisibilityAudit)
	})

	return r
}
