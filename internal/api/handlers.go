package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/stash/internal/apperr"
	"github.com/starford/stash/internal/cache"
	"github.com/starford/stash/internal/sse"
	"github.com/starford/stash/internal/stashservice"
)

// EventPublisher receives change notifications after successful mutations.
type EventPublisher interface {
	PublishChange(typ string, data sse.ChangeData)
}

// Handler holds API route handlers.
type Handler struct {
	svc    *stashservice.Service
	cache  cache.ResponseCache
	events EventPublisher
}

// NewHandler creates a new Handler. A nil cache disables caching; nil events
// disables change notifications.
func NewHandler(svc *stashservice.Service, c cache.ResponseCache, events EventPublisher) *Handler {
	if c == nil {
		c = cache.Nop{}
	}
	return &Handler{svc: svc, cache: c, events: events}
}

func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// fail maps a service error to a status code.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func (h *Handler) changed(typ, categoryID, noteID string) {
	if err := h.cache.InvalidateCategory(categoryID); err != nil {
		slog.Warn("cache invalidation failed", slog.String("category", categoryID), slog.String("error", err.Error()))
	}
	if h.events != nil {
		h.events.PublishChange(typ, sse.ChangeData{CategoryID: categoryID, NoteID: noteID})
	}
}

func (h *Handler) store(key string, v any, revision string) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := h.cache.Put(key, payload, revision); err != nil {
		slog.Warn("cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return payload
}

func (h *Handler) cached(key string) *cache.Entry {
	e, err := h.cache.Get(key)
	if err != nil {
		slog.Warn("cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil
	}
	return e
}

// ListCategories handles GET /api/stash/categories.
//
//	@Summary		List categories
//	@Tags			categories
//	@Produce		json
//	@Success		200	{array}	CategorySummary
//	@Security		BearerAuth
//	@Router			/categories [get]
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	rev, err := h.svc.ListingRevision(r.Context())
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	if e := h.cached(cache.KeyCategories); e != nil && e.Revision == string(rev) {
		writeRaw(w, e.Payload)
		return
	}
	cats, err := h.svc.GetCategories(r.Context())
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	cats = nonNilSlice(cats)
	// rev was taken before the scan; a change in between only makes the next
	// request miss.
	h.store(cache.KeyCategories, cats, string(rev))
	writeJSON(w, http.StatusOK, cats)
}

// CategoriesWithNotes handles GET /api/stash/categories/with-notes.
//
//	@Summary		List categories together with their notes
//	@Tags			categories
//	@Produce		json
//	@Param			force	query	bool	false	"Bypass the cache"
//	@Success		200		{array}	CategoryWithNotes
//	@Security		BearerAuth
//	@Router			/categories/with-notes [get]
func (h *Handler) CategoriesWithNotes(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	rev, err := h.svc.ListingRevision(r.Context())
	if err != nil {
		h.fail(w, "categories with notes", err)
		return
	}
	if !force {
		if e := h.cached(cache.KeyCategoriesWithNotes); e != nil && e.Revision == string(rev) {
			writeRaw(w, e.Payload)
			return
		}
	}
	all, err := h.svc.CategoriesWithNotes(r.Context())
	if err != nil {
		h.fail(w, "categories with notes", err)
		return
	}
	all = nonNilSlice(all)
	h.store(cache.KeyCategoriesWithNotes, all, string(rev))
	writeJSON(w, http.StatusOK, all)
}

// CreateCategory handles POST /api/stash/category.
//
//	@Summary		Create a category
//	@Tags			categories
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateCategoryRequest	true	"Category to create"
//	@Success		201		{object}	CategorySummary
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/category [post]
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cat, err := h.svc.CreateCategory(r.Context(), req.Title, req.Description)
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	h.changed(sse.CategoryCreated, cat.ID, "")
	writeJSON(w, http.StatusCreated, cat)
}

// UpdateCategory handles PUT /api/stash/category/{categoryID}.
//
//	@Summary		Update a category's title and/or description
//	@Tags			categories
//	@Accept			json
//	@Produce		json
//	@Param			categoryID	path		string					true	"Category id"
//	@Param			body		body		UpdateCategoryRequest	true	"Fields to change"
//	@Success		200			{object}	CategorySummary
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/category/{categoryID} [put]
func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "categoryID")
	var req UpdateCategoryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cat, err := h.svc.UpdateCategory(r.Context(), id, stashservice.CategoryUpdate{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, "update category", err)
		return
	}
	h.changed(sse.CategoryUpdated, id, "")
	writeJSON(w, http.StatusOK, cat)
}

// DeleteCategory handles DELETE /api/stash/category/{categoryID}.
//
//	@Summary		Delete a category and all its notes
//	@Tags			categories
//	@Param			categoryID	path	string	true	"Category id"
//	@Success		204			"Category deleted"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/category/{categoryID} [delete]
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "categoryID")
	if err := h.svc.DeleteCategory(r.Context(), id); err != nil {
		h.fail(w, "delete category", err)
		return
	}
	h.changed(sse.CategoryDeleted, id, "")
	w.WriteHeader(http.StatusNoContent)
}

// ReloadCategory handles POST /api/stash/category/{categoryID}/reload.
//
//	@Summary		Drop cached data for a category and return it fresh
//	@Tags			categories
//	@Produce		json
//	@Param			categoryID	path		string	true	"Category id"
//	@Success		200			{object}	CategoryWithNotes
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/category/{categoryID}/reload [post]
func (h *Handler) ReloadCategory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "categoryID")
	if err := h.cache.InvalidateCategory(id); err != nil {
		slog.Warn("cache invalidation failed", slog.String("category", id), slog.String("error", err.Error()))
	}
	snap, err := h.svc.Snapshot(r.Context(), id)
	if err != nil {
		h.fail(w, "reload category", err)
		return
	}
	h.store(cache.NotesKey(id), snap.Notes, string(snap.Revision))
	writeJSON(w, http.StatusOK, snap.CategoryWithNotes)
}

// GetNotes handles GET /api/stash/categories/{categoryID}.
// Cached notes are served only while the category file revision is unchanged.
//
//	@Summary		List the notes of a category
//	@Tags			notes
//	@Produce		json
//	@Param			categoryID	path	string	true	"Category id"
//	@Success		200			{array}	Note
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/categories/{categoryID} [get]
func (h *Handler) GetNotes(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "categoryID")
	key := cache.NotesKey(id)
	if e := h.cached(key); e != nil {
		rev, err := h.svc.Revision(r.Context(), id)
		if err != nil {
			h.fail(w, "get notes", err)
			return
		}
		if string(rev) == e.Revision {
			writeRaw(w, e.Payload)
			return
		}
	}
	snap, err := h.svc.Snapshot(r.Context(), id)
	if err != nil {
		h.fail(w, "get notes", err)
		return
	}
	notes := nonNilSlice(snap.Notes)
	h.store(key, notes, string(snap.Revision))
	writeJSON(w, http.StatusOK, notes)
}

// AddNote handles POST /api/stash/categories/{categoryID}.
//
//	@Summary		Append a note to a category
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			categoryID	path		string		true	"Category id"
//	@Param			body		body		NoteRequest	true	"Note content"
//	@Success		201			{object}	Note
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/categories/{categoryID} [post]
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "categoryID")
	var req NoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	note, err := h.svc.AddNote(r.Context(), id, req.Content)
	if err != nil {
		h.fail(w, "add note", err)
		return
	}
	h.changed(sse.NoteCreated, id, note.ID)
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/stash/categories/{categoryID}/note/{noteID}.
//
//	@Summary		Replace a note's content
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			categoryID	path		string		true	"Category id"
//	@Param			noteID		path		string		true	"Note id (index:hash)"
//	@Param			body		body		NoteRequest	true	"New content"
//	@Success		200			{object}	Note
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	ConflictResponse
//	@Security		BearerAuth
//	@Router			/categories/{categoryID}/note/{noteID} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "categoryID")
	noteID := pathParam(r, "noteID")
	var req NoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.UpdateNote(r.Context(), id, noteID, req.Content)
	if err != nil {
		h.fail(w, "update note", err)
		return
	}
	if !res.OK() {
		writeJSON(w, http.StatusConflict, conflictBody(res.Conflict))
		return
	}
	h.changed(sse.NoteUpdated, id, res.Value.ID)
	writeJSON(w, http.StatusOK, res.Value)
}

// DeleteNote handles DELETE /api/stash/categories/{categoryID}/note/{noteID}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			categoryID	path	string	true	"Category id"
//	@Param			noteID		path	string	true	"Note id (index:hash)"
//	@Success		204			"Note deleted"
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	ConflictResponse
//	@Security		BearerAuth
//	@Router			/categories/{categoryID}/note/{noteID} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "categoryID")
	noteID := pathParam(r, "noteID")
	res, err := h.svc.DeleteNote(r.Context(), id, noteID)
	if err != nil {
		h.fail(w, "delete note", err)
		return
	}
	if !res.OK() {
		writeJSON(w, http.StatusConflict, conflictBody(res.Conflict))
		return
	}
	h.changed(sse.NoteDeleted, id, noteID)
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/stash/search.
//
//	@Summary		Search note titles, and optionally contents
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Pattern"
//	@Param			content	query		bool	false	"Search note contents too"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	inContent, _ := strconv.ParseBool(r.URL.Query().Get("content"))
	hits, err := h.svc.Search(r.Context(), q, inContent)
	if err != nil {
		h.fail(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNilSlice(hits)})
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
