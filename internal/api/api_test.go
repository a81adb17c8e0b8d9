package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/stash/internal/cache"
	"github.com/starford/stash/internal/sse"
	"github.com/starford/stash/internal/stashservice"
	"github.com/starford/stash/internal/testutil"
)

type recordedEvent struct {
	typ  string
	data sse.ChangeData
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) PublishChange(typ string, data sse.ChangeData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{typ: typ, data: data})
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.typ
	}
	return out
}

type env struct {
	svc    *stashservice.Service
	router http.Handler
	db     *cache.DB
	events *recorder
}

// testEnv sets up an in-memory store, SQLite cache, service, and router.
// An empty authToken means auth is disabled.
func testEnv(t *testing.T, authToken string) *env {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler) *env {
	t.Helper()

	_, backend := testutil.TestRemote(t)
	svc := stashservice.New(backend)
	db := testutil.TestCache(t)

	events := &recorder{}
	h := NewHandler(svc, db, events)
	return &env{
		svc:    svc,
		router: NewRouter(h, authToken != "", authToken, sseHandler),
		db:     db,
		events: events,
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) createCategory(t *testing.T, title string) CategorySummary {
	t.Helper()
	w := e.do(t, http.MethodPost, "/category", map[string]string{"title": title})
	if w.Code != http.StatusCreated {
		t.Fatalf("create category = %d, body = %s", w.Code, w.Body.String())
	}
	var cat CategorySummary
	_ = json.Unmarshal(w.Body.Bytes(), &cat)
	return cat
}

func (e *env) addNote(t *testing.T, categoryID, content string) Note {
	t.Helper()
	w := e.do(t, http.MethodPost, "/categories/"+categoryID, map[string]string{"content": content})
	if w.Code != http.StatusCreated {
		t.Fatalf("add note = %d, body = %s", w.Code, w.Body.String())
	}
	var n Note
	_ = json.Unmarshal(w.Body.Bytes(), &n)
	return n
}

func TestCreateAndListCategories(t *testing.T) {
	e := testEnv(t, "")
	cat := e.createCategory(t, "Inbox")
	if cat.ID == "" || cat.Title != "Inbox" || cat.Description != "Inbox" {
		t.Errorf("created = %+v", cat)
	}

	w := e.do(t, http.MethodGet, "/categories", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var cats []CategorySummary
	_ = json.Unmarshal(w.Body.Bytes(), &cats)
	if len(cats) != 1 || cats[0].ID != cat.ID {
		t.Errorf("categories = %+v", cats)
	}
}

func TestListCategoriesServedFromCache(t *testing.T) {
	e := testEnv(t, "")
	e.createCategory(t, "First")
	_ = e.do(t, http.MethodGet, "/categories", nil)

	entry, err := e.db.Get(cache.KeyCategories)
	if err != nil || entry == nil || entry.Revision == "" {
		t.Fatalf("expected cached listing with a revision, got %+v (%v)", entry, err)
	}
	// Same listing revision: the stored payload is served as is.
	if err := e.db.Put(cache.KeyCategories, []byte(`[{"id":"cached"}]`), entry.Revision); err != nil {
		t.Fatal(err)
	}
	w := e.do(t, http.MethodGet, "/categories", nil)
	if !strings.Contains(w.Body.String(), `"cached"`) {
		t.Fatalf("expected cache hit, got %s", w.Body.String())
	}

	// A write that bypasses the HTTP layer changes the listing revision.
	if _, err := e.svc.CreateCategory(context.Background(), "Hidden", ""); err != nil {
		t.Fatal(err)
	}
	var cats []CategorySummary
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/categories", nil).Body.Bytes(), &cats)
	if len(cats) != 2 {
		t.Errorf("categories after direct write = %d, want 2", len(cats))
	}
}

func TestListCategories_StaleEntryAfterConcurrentWrite(t *testing.T) {
	e := testEnv(t, "")
	ctx := context.Background()

	// A listing read before a mutation, stored after its invalidation.
	before, err := e.svc.ListingRevision(ctx)
	if err != nil {
		t.Fatal(err)
	}
	e.createCategory(t, "Inbox")
	if err := e.db.Put(cache.KeyCategories, []byte(`[]`), string(before)); err != nil {
		t.Fatal(err)
	}
	if err := e.db.Put(cache.KeyCategoriesWithNotes, []byte(`[]`), string(before)); err != nil {
		t.Fatal(err)
	}

	var cats []CategorySummary
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/categories", nil).Body.Bytes(), &cats)
	if len(cats) != 1 {
		t.Errorf("categories = %d, want 1 (stale entry must not be served)", len(cats))
	}
	var all []CategoryWithNotes
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/categories/with-notes", nil).Body.Bytes(), &all)
	if len(all) != 1 {
		t.Errorf("with-notes = %d, want 1", len(all))
	}
}

func TestCreateCategory_Validation(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodPost, "/category", map[string]string{"title": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty title = %d, want 400", w.Code)
	}
	w = e.do(t, http.MethodPost, "/category", map[string]string{"title": "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank title = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/category", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func TestNotesLifecycle(t *testing.T) {
	e := testEnv(t, "")
	cat := e.createCategory(t, "Notes")
	first := e.addNote(t, cat.ID, "# A\n\nbody1")
	second := e.addNote(t, cat.ID, "body2")
	if first.Title == nil || *first.Title != "A" || second.Title != nil {
		t.Errorf("titles = %v / %v", first.Title, second.Title)
	}

	w := e.do(t, http.MethodDelete, "/categories/"+cat.ID+"/note/"+first.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete note = %d, body = %s", w.Code, w.Body.String())
	}

	var notes []Note
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/categories/"+cat.ID, nil).Body.Bytes(), &notes)
	if len(notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(notes))
	}
	if !strings.HasPrefix(notes[0].ID, "0:") || notes[0].ID[2:] != second.ID[2:] {
		t.Errorf("renumbered id = %q, from %q", notes[0].ID, second.ID)
	}

	want := []string{sse.CategoryCreated, sse.NoteCreated, sse.NoteCreated, sse.NoteDeleted}
	if got := e.events.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestUpdateNote_Conflict(t *testing.T) {
	e := testEnv(t, "")
	cat := e.createCategory(t, "Inbox")
	note := e.addNote(t, cat.ID, "v1")

	w := e.do(t, http.MethodPut, "/categories/"+cat.ID+"/note/"+note.ID, map[string]string{"content": "v2"})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
	var updated Note
	_ = json.Unmarshal(w.Body.Bytes(), &updated)

	// Same (now stale) id again.
	w = e.do(t, http.MethodPut, "/categories/"+cat.ID+"/note/"+note.ID, map[string]string{"content": "v3"})
	if w.Code != http.StatusConflict {
		t.Fatalf("stale update = %d, want 409", w.Code)
	}
	var conflict ConflictResponse
	_ = json.Unmarshal(w.Body.Bytes(), &conflict)
	if !conflict.Conflict || conflict.ConflictCode != "modified" {
		t.Errorf("conflict = %+v", conflict)
	}
	if conflict.CurrentNoteID != updated.ID || conflict.CurrentContent != "v2" {
		t.Errorf("current = %q / %q", conflict.CurrentNoteID, conflict.CurrentContent)
	}

	w = e.do(t, http.MethodDelete, "/categories/"+cat.ID+"/note/"+note.ID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("stale delete = %d, want 409", w.Code)
	}
}

func TestNoteErrors(t *testing.T) {
	e := testEnv(t, "")
	cat := e.createCategory(t, "Inbox")
	note := e.addNote(t, cat.ID, "x")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing content", http.MethodPost, "/categories/" + cat.ID, map[string]string{}, http.StatusBadRequest},
		{"blank content", http.MethodPost, "/categories/" + cat.ID, map[string]string{"content": "  "}, http.StatusBadRequest},
		{"unknown category", http.MethodPost, "/categories/ghost", map[string]string{"content": "x"}, http.StatusNotFound},
		{"notes of unknown category", http.MethodGet, "/categories/ghost", nil, http.StatusNotFound},
		{"malformed note id", http.MethodPut, "/categories/" + cat.ID + "/note/abc", map[string]string{"content": "y"}, http.StatusBadRequest},
		{"index out of range", http.MethodDelete, "/categories/" + cat.ID + "/note/9:" + note.ID[2:], nil, http.StatusBadRequest},
		{"invalid category id", http.MethodGet, "/categories/..", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(t, tc.method, tc.path, tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestGetNotes_CacheValidatedByRevision(t *testing.T) {
	e := testEnv(t, "")
	cat := e.createCategory(t, "Inbox")
	e.addNote(t, cat.ID, "one")

	var notes []Note
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/categories/"+cat.ID, nil).Body.Bytes(), &notes)
	if len(notes) != 1 {
		t.Fatalf("notes = %d", len(notes))
	}
	if entry, _ := e.db.Get(cache.NotesKey(cat.ID)); entry == nil || entry.Revision == "" {
		t.Fatalf("notes not cached with revision: %+v", entry)
	}

	// Changing the file behind the cache changes its revision.
	if _, err := e.svc.AddNote(context.Background(), cat.ID, "two"); err != nil {
		t.Fatal(err)
	}
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/categories/"+cat.ID, nil).Body.Bytes(), &notes)
	if len(notes) != 2 {
		t.Errorf("notes after external write = %d, want 2", len(notes))
	}
}

func TestCategoriesWithNotes_Force(t *testing.T) {
	e := testEnv(t, "")
	cat := e.createCategory(t, "Inbox")
	e.addNote(t, cat.ID, "one")
	_ = e.do(t, http.MethodGet, "/categories/with-notes", nil)

	var all []CategoryWithNotes
	if _, err := e.svc.AddNote(context.Background(), cat.ID, "two"); err != nil {
		t.Fatal(err)
	}
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/categories/with-notes", nil).Body.Bytes(), &all)
	if len(all) != 1 || len(all[0].Notes) != 2 {
		t.Fatalf("direct write should be visible, got %+v", all)
	}

	// force bypasses even an entry that matches the listing revision.
	entry, err := e.db.Get(cache.KeyCategoriesWithNotes)
	if err != nil || entry == nil {
		t.Fatalf("expected cached entry, got %v", err)
	}
	if err := e.db.Put(cache.KeyCategoriesWithNotes, []byte(`[]`), entry.Revision); err != nil {
		t.Fatal(err)
	}
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/categories/with-notes", nil).Body.Bytes(), &all)
	if len(all) != 0 {
		t.Fatalf("expected cached payload, got %+v", all)
	}
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/categories/with-notes?force=true", nil).Body.Bytes(), &all)
	if len(all) != 1 || len(all[0].Notes) != 2 {
		t.Errorf("forced = %+v", all)
	}
}

func TestUpdateAndReloadCategory(t *testing.T) {
	e := testEnv(t, "")
	cat := e.createCategory(t, "Old")

	w := e.do(t, http.MethodPut, "/category/"+cat.ID, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty update = %d, want 400", w.Code)
	}
	w = e.do(t, http.MethodPut, "/category/"+cat.ID, map[string]string{"title": "New", "description": "d"})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/category/"+cat.ID+"/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reload = %d", w.Code)
	}
	var got CategoryWithNotes
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Category.Title != "New" || got.Category.Description != "d" || got.Notes == nil {
		t.Errorf("reloaded = %+v", got)
	}

	w = e.do(t, http.MethodPost, "/category/ghost/reload", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("reload missing = %d, want 404", w.Code)
	}
}

func TestDeleteCategory(t *testing.T) {
	e := testEnv(t, "")
	cat := e.createCategory(t, "Gone")
	if w := e.do(t, http.MethodDelete, "/category/"+cat.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/category/"+cat.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	e := testEnv(t, "")
	cat := e.createCategory(t, "Work")
	e.addNote(t, cat.ID, "# Report\n\nnumbers")
	e.addNote(t, cat.ID, "the report body")

	var resp SearchResponse
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/search?q=report", nil).Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("title hits = %d, want 1", len(resp.Results))
	}
	_ = json.Unmarshal(e.do(t, http.MethodGet, "/search?q=report&content=true", nil).Body.Bytes(), &resp)
	if len(resp.Results) != 2 {
		t.Errorf("content hits = %d, want 2", len(resp.Results))
	}
}

func TestSearchMissingQuery(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"title": "Auth"})
	req := httptest.NewRequest(http.MethodPost, "/category", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnv(t, "secret123")
	if w := e.do(t, http.MethodGet, "/categories", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/categories", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodGet, "/categories", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := testEnvWithSSE(t, "secret", blockingSSE)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := testEnvWithSSE(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
