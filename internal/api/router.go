package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/imthebreezy247/unison-sub001/internal/unison"
)

// NewRouter creates a chi router with all API routes mounted under /api.
func NewRouter(store unison.Store) chi.Router {
	h := NewHandler(store)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/threads", h.ListThreads)
		r.Get("/threads/{key}/messages", h.ListMessages)
		r.Post("/threads/{key}/read", h.MarkRead)
		r.Get("/threads/{key}/export", h.ExportThread)
	})

	return r
}
