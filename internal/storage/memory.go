package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"

	"github.com/starford/stash/internal/checksum"
)

// MemoryBlobs is an in-process BlobClient with the same conditional update
// rules as a hosted repository. SHAs are git blob hashes.
type MemoryBlobs struct {
	mu       sync.Mutex
	files    map[string][]byte
	messages []string
}

var _ BlobClient = (*MemoryBlobs)(nil)

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{files: make(map[string][]byte)}
}

// Put stores content at p unconditionally. It stands in for an edit made
// outside the stash.
func (m *MemoryBlobs) Put(p string, content []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = append([]byte(nil), content...)
	return checksum.GitBlob(content)
}

// Messages returns the change descriptions recorded so far.
func (m *MemoryBlobs) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

func (m *MemoryBlobs) ListDir(ctx context.Context, dir string) ([]BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []BlobRef
	for p, content := range m.files {
		if path.Dir(p) != dir {
			continue
		}
		refs = append(refs, BlobRef{Path: p, Name: path.Base(p), SHA: checksum.GitBlob(content)})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (m *MemoryBlobs) Get(ctx context.Context, p string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[p]
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	return append([]byte(nil), content...), checksum.GitBlob(content), nil
}

func (m *MemoryBlobs) Create(ctx context.Context, p string, content []byte, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; ok {
		return "", fmt.Errorf("%s: %w", p, fs.ErrExist)
	}
	m.files[p] = append([]byte(nil), content...)
	m.messages = append(m.messages, message)
	return checksum.GitBlob(content), nil
}

func (m *MemoryBlobs) Update(ctx context.Context, p string, content []byte, sha, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(p, sha); err != nil {
		return "", err
	}
	m.files[p] = append([]byte(nil), content...)
	m.messages = append(m.messages, message)
	return checksum.GitBlob(content), nil
}

func (m *MemoryBlobs) Delete(ctx context.Context, p, sha, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(p, sha); err != nil {
		return err
	}
	delete(m.files, p)
	m.messages = append(m.messages, message)
	return nil
}

func (m *MemoryBlobs) checkLocked(p, sha string) error {
	current, ok := m.files[p]
	if !ok {
		return fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	if checksum.GitBlob(current) != sha {
		return fmt.Errorf("%s: %w", p, ErrStaleRevision)
	}
	return nil
}
