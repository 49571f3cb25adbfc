package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/library"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *library.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Imports.
	r.Post("/imports", h.Import)
	r.Post("/scan", h.Scan)

	// Items.
	r.Get("/items", h.ListItems)
	r.Get("/items/{digest}", h.GetItem)
	r.Delete("/items/{digest}", h.DeleteItem)
	r.Post("/items/{digest}/tags", h.AddTags)
	r.Delete("/items/{digest}/tags", h.RemoveTags)
	r.Get("/items/{digest}/artifact", h.Artifact)

	// Tags.
	r.Get("/tags", h.ListTags)

	// Export.
	r.Post("/export", h.Export)

	// Status.
	r.Get("/status", h.Status)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
