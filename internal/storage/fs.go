package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const tmpPrefix = ".stash-tmp-"

// FS implements Backend on a local directory holding the category files.
//
// Revisions are synthesized from the modification time and are not enforced:
// Write and Delete always apply. Conflict protection for this backend comes
// only from the note-level hash check, which races with concurrent writers.
type FS struct {
	root string // absolute path to the categories directory
}

var _ Backend = (*FS)(nil)

// NewFS creates a new FS backend rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute categories directory.
func (f *FS) Root() string { return f.root }

// SupportsAtomicWrite is false: the filesystem offers no compare-and-swap.
func (f *FS) SupportsAtomicWrite() bool { return false }

func (f *FS) path(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(f.root, name), nil
}

// List returns every *.md file directly under the root, ordered by name.
func (f *FS) List(ctx context.Context) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Revision: revisionOf(info)})
	}
	return out, nil
}

// Read returns the raw bytes of a category file.
func (f *FS) Read(ctx context.Context, name string) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := f.path(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return &Blob{Name: name, Content: data, Revision: revisionOf(info)}, nil
}

// Write replaces the file via tmp file → fsync → rename. The rename keeps
// readers from seeing a torn file, but expected is not checked: the last
// writer wins.
func (f *FS) Write(ctx context.Context, name string, content []byte, _ Revision) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	abs, err := f.path(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(f.root, tmpPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	success = true

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("storage: stat %s: %w", name, err)
	}
	return revisionOf(info), nil
}

// Create writes a new file, refusing to replace an existing one.
func (f *FS) Create(ctx context.Context, name string, content []byte) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	abs, err := f.path(name)
	if err != nil {
		return "", err
	}
	file, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage: create %s: %w", name, err)
	}

	success := false
	defer func() {
		if !success {
			_ = file.Close()
			_ = os.Remove(abs)
		}
	}()

	if _, err := file.Write(content); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("storage: fsync: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("storage: stat %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("storage: close %s: %w", name, err)
	}
	success = true
	return revisionOf(info), nil
}

// Delete removes a category file. expected is ignored.
func (f *FS) Delete(ctx context.Context, name string, _ Revision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := f.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

// Exists reports whether name is present.
func (f *FS) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	abs, err := f.path(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat %s: %w", name, err)
	}
	return true, nil
}

func revisionOf(info fs.FileInfo) Revision {
	return Revision(strconv.FormatInt(info.ModTime().UnixNano(), 10))
}
