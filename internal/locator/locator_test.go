package locator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/stash/internal/apperr"
	"github.com/starford/stash/internal/codec"
	"github.com/starford/stash/internal/storage"
)

func seed(t *testing.T, files map[string]string) storage.Backend {
	t.Helper()
	blobs := storage.NewMemoryBlobs()
	for name, content := range files {
		blobs.Put("stashes/"+name, []byte(content))
	}
	return storage.NewRemote(blobs, "stashes")
}

func TestFindMatchesFrontMatterID(t *testing.T) {
	backend := seed(t, map[string]string{
		"A.md":        "---\nid: aaa\ntitle: A\n---\n\nnote",
		"B.md":        "---\nid: bbb\ntitle: B\n---\n\nnote",
		"broken.md":   "no front matter here\nid: bbb",
		"unclosed.md": "---\ntitle: x",
	})
	l := New()

	blob, err := l.Find(context.Background(), backend, "bbb")
	require.NoError(t, err)
	assert.Equal(t, "B.md", blob.Name)
	assert.NotEmpty(t, blob.Revision)
	assert.Contains(t, string(blob.Content), "title: B")
}

func TestFindIgnoresFileName(t *testing.T) {
	backend := seed(t, map[string]string{
		"bbb.md":   "---\nid: other\n---\n",
		"Inbox.md": "---\nid: bbb\n---\n",
	})
	blob, err := New().Find(context.Background(), backend, "bbb")
	require.NoError(t, err)
	assert.Equal(t, "Inbox.md", blob.Name)
}

func TestFindAgreesWithCodecOnSpacedID(t *testing.T) {
	raw := "---\nid: my notes\ntitle: Mine\n---\n\nnote"
	cat, err := codec.Parse([]byte(raw))
	require.NoError(t, err)

	backend := seed(t, map[string]string{"Mine.md": raw})
	blob, err := New().Find(context.Background(), backend, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mine.md", blob.Name)
}

func TestFindNotFound(t *testing.T) {
	backend := seed(t, map[string]string{"A.md": "---\nid: aaa\n---\n"})
	_, err := New().Find(context.Background(), backend, "zzz")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFindOnlyReadsIDInsideFrontMatter(t *testing.T) {
	backend := seed(t, map[string]string{
		"A.md": "---\ntitle: A\n---\n\nid: ccc",
	})
	_, err := New().Find(context.Background(), backend, "ccc")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHeaderIDLimit(t *testing.T) {
	l := New(WithHeaderLimit(64))
	raw := "---\n" + strings.Repeat("x: y\n", 40) + "id: late\n---\n"
	_, err := l.HeaderID(context.Background(), []byte(raw))
	assert.Error(t, err)

	id, err := New().HeaderID(context.Background(), []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "late", id)
}

func TestHeaderIDVariants(t *testing.T) {
	cases := map[string]string{
		"---\nid: plain\n---\n":            "plain",
		"---\r\nid:   crlf  \r\n---\r\n":   "crlf",
		"\ufeff---\nid: bom\n---\n":        "bom",
		"---  \ntitle: t\nid: second\n---": "second",
		"---\nid: my notes\n---\n":         "my notes",
		"---\nid: spaced out  \r\n---\n":   "spaced out",
		"---\n id : padded\n---\n":         "padded",
		"---\nid: old\nid: new\n---\n":     "new",
	}
	for raw, want := range cases {
		id, err := New().HeaderID(context.Background(), []byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, id, raw)
	}
}

func TestFindCanceled(t *testing.T) {
	backend := seed(t, map[string]string{"A.md": "---\nid: aaa\n---\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Find(ctx, backend, "aaa")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileName(t *testing.T) {
	l := New()
	cases := []struct {
		title   string
		attempt int
		want    string
	}{
		{"Notes", 0, "Notes.md"},
		{"Notes", 1, "Notes_1.md"},
		{"Notes", 2, "Notes_2.md"},
		{`a/b\c:d*e?f"g<h>i|j`, 0, "abcdefghij.md"},
		{"  ..hidden", 0, "hidden.md"},
		{"///", 0, "category.md"},
		{"", 3, "category_3.md"},
		{"tab\there", 0, "tabhere.md"},
		{"Café", 0, "Café.md"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, l.FileName(tc.title, tc.attempt), tc.title)
	}
}

func TestSanitizeTitleCapsLength(t *testing.T) {
	got := SanitizeTitle(strings.Repeat("é", 500))
	assert.Equal(t, maxNameRunes, len([]rune(got)))
}
