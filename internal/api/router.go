package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all stash routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Categories.
	r.Get("/categories", h.ListCategories)
	r.Get("/categories/with-notes", h.CategoriesWithNotes)
	r.Post("/category", h.CreateCategory)
	r.Put("/category/{categoryID}", h.UpdateCategory)
	r.Delete("/category/{categoryID}", h.DeleteCategory)
	r.Post("/category/{categoryID}/reload", h.ReloadCategory)

	// Notes.
	r.Get("/categories/{categoryID}", h.GetNotes)
	r.Post("/categories/{categoryID}", h.AddNote)
	r.Put("/categories/{categoryID}/note/{noteID}", h.UpdateNote)
	r.Delete("/categories/{categoryID}/note/{noteID}", h.DeleteNote)

	// Search.
	r.Get("/search", h.Search)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
