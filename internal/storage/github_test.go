package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/stash/internal/checksum"
)

// fakeContentsAPI serves a single-file subset of the repository contents API.
type fakeContentsAPI struct {
	mu      sync.Mutex
	content []byte
	exists  bool
	// large serves the file the way the API does above 1 MB: no inline
	// content, bytes only through the blobs endpoint.
	large bool
}

func (f *fakeContentsAPI) sha() string { return checksum.GitBlob(f.content) }

func (f *fakeContentsAPI) fileJSON() map[string]any {
	if f.large {
		return map[string]any{
			"type":     "file",
			"name":     "a.md",
			"path":     "stashes/a.md",
			"sha":      f.sha(),
			"encoding": "none",
			"content":  "",
		}
	}
	return map[string]any{
		"type":     "file",
		"name":     "a.md",
		"path":     "stashes/a.md",
		"sha":      f.sha(),
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString(f.content),
	}
}

func (f *fakeContentsAPI) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /repos/o/r/contents/stashes", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := []map[string]any{{"type": "dir", "name": "nested", "path": "stashes/nested", "sha": "d1"}}
		if f.exists {
			list = append(list, f.fileJSON())
		}
		writeJSON(w, http.StatusOK, list)
	})
	mux.HandleFunc("GET /repos/o/r/contents/stashes/a.md", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, f.fileJSON())
	})
	mux.HandleFunc("GET /repos/o/r/git/blobs/{sha}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.exists || r.PathValue("sha") != f.sha() {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		w.Header().Set("Content-Type", "application/vnd.github.raw")
		_, _ = w.Write(f.content)
	})
	mux.HandleFunc("PUT /repos/o/r/contents/stashes/a.md", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
			Content []byte `json:"content"`
			SHA     string `json:"sha"`
			Branch  string `json:"branch"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case f.exists && body.SHA == "":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "sha wasn't supplied"})
			return
		case f.exists && body.SHA != f.sha():
			writeJSON(w, http.StatusConflict, map[string]string{"message": "a.md does not match " + body.SHA})
			return
		}
		f.content = body.Content
		f.exists = true
		writeJSON(w, http.StatusOK, map[string]any{"content": f.fileJSON(), "commit": map[string]any{"message": body.Message}})
	})
	return mux
}

func newGitHubBlobs(t *testing.T, api *fakeContentsAPI) *GitHubBlobs {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	client, err := NewGitHubClient("test-token", srv.URL)
	require.NoError(t, err)
	return NewGitHubBlobs(client, "o", "r", "")
}

func TestGitHubGetAndList(t *testing.T) {
	api := &fakeContentsAPI{content: []byte("---\nid: x\n---\n\nhi"), exists: true}
	g := newGitHubBlobs(t, api)
	ctx := context.Background()

	content, sha, err := g.Get(ctx, "stashes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "---\nid: x\n---\n\nhi", string(content))
	assert.Equal(t, api.sha(), sha)

	refs, err := g.ListDir(ctx, "stashes")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "a.md", refs[0].Name)
	assert.Equal(t, "stashes/a.md", refs[0].Path)
}

func TestGitHubGetLargeFile(t *testing.T) {
	body := "---\nid: big\ntitle: Big\nupdated: 1\ncreated: 1\n---\n\n" + strings.Repeat("x", 1<<20)
	api := &fakeContentsAPI{content: []byte(body), exists: true, large: true}
	r := NewRemote(newGitHubBlobs(t, api), "stashes")

	blob, err := r.Read(context.Background(), "a.md")
	require.NoError(t, err)
	assert.Equal(t, body, string(blob.Content))
	assert.Equal(t, Revision(api.sha()), blob.Revision)
}

func TestGitHubGetMissing(t *testing.T) {
	g := newGitHubBlobs(t, &fakeContentsAPI{})
	_, _, err := g.Get(context.Background(), "stashes/a.md")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestGitHubCreateExisting(t *testing.T) {
	g := newGitHubBlobs(t, &fakeContentsAPI{content: []byte("x"), exists: true})
	_, err := g.Create(context.Background(), "stashes/a.md", []byte("y"), "Create a.md")
	assert.ErrorIs(t, err, fs.ErrExist)
}

func TestGitHubUpdateConditional(t *testing.T) {
	api := &fakeContentsAPI{content: []byte("v0"), exists: true}
	g := newGitHubBlobs(t, api)
	ctx := context.Background()
	stale := api.sha()

	sha, err := g.Update(ctx, "stashes/a.md", []byte("v1"), stale, "first")
	require.NoError(t, err)
	assert.Equal(t, checksum.GitBlob([]byte("v1")), sha)

	_, err = g.Update(ctx, "stashes/a.md", []byte("v2"), stale, "second")
	assert.ErrorIs(t, err, ErrStaleRevision)
}

func TestGitHubThroughRemoteBackend(t *testing.T) {
	api := &fakeContentsAPI{content: []byte("v0"), exists: true}
	r := NewRemote(newGitHubBlobs(t, api), "stashes")
	ctx := context.Background()

	blob, err := r.Read(ctx, "a.md")
	require.NoError(t, err)
	_, err = r.Write(ctx, "a.md", []byte("v1"), blob.Revision)
	require.NoError(t, err)
	_, err = r.Write(ctx, "a.md", []byte("v2"), blob.Revision)
	assert.ErrorIs(t, err, ErrStaleRevision)
}
