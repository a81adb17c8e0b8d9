package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// DefaultRemoteDir is the directory holding category files in a remote repository.
const DefaultRemoteDir = "stashes"

// BlobRef identifies one file in a remote directory listing.
type BlobRef struct {
	Path string
	Name string
	SHA  string
}

// BlobClient is the subset of a revisioned blob API the remote backend needs.
// Every mutation of an existing file carries the blob SHA the caller last saw,
// and the service rejects it with ErrStaleRevision if the file has moved on.
type BlobClient interface {
	// ListDir returns the files in dir. A missing dir is empty.
	ListDir(ctx context.Context, dir string) ([]BlobRef, error)
	// Get returns content and blob SHA, or an error wrapping fs.ErrNotExist.
	Get(ctx context.Context, path string) ([]byte, string, error)
	// Create stores a new file, or fails with an error wrapping fs.ErrExist.
	Create(ctx context.Context, path string, content []byte, message string) (string, error)
	// Update replaces content if the current SHA equals sha.
	Update(ctx context.Context, path string, content []byte, sha, message string) (string, error)
	// Delete removes the file if the current SHA equals sha.
	Delete(ctx context.Context, path, sha, message string) error
}

// Remote implements Backend on top of a BlobClient. Revisions are blob SHAs
// and writes are conditional on them.
type Remote struct {
	client BlobClient
	dir    string
}

var _ Backend = (*Remote)(nil)

// NewRemote returns a backend storing category files under dir.
func NewRemote(client BlobClient, dir string) *Remote {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		dir = DefaultRemoteDir
	}
	return &Remote{client: client, dir: dir}
}

// SupportsAtomicWrite is true: stale revisions are rejected remotely.
func (r *Remote) SupportsAtomicWrite() bool { return true }

func (r *Remote) path(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return path.Join(r.dir, name), nil
}

func (r *Remote) List(ctx context.Context) ([]FileInfo, error) {
	refs, err := r.client.ListDir(ctx, r.dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", r.dir, err)
	}
	out := make([]FileInfo, 0, len(refs))
	for _, ref := range refs {
		if !strings.HasSuffix(ref.Name, Ext) {
			continue
		}
		out = append(out, FileInfo{Name: ref.Name, Revision: Revision(ref.SHA)})
	}
	return out, nil
}

func (r *Remote) Read(ctx context.Context, name string) (*Blob, error) {
	p, err := r.path(name)
	if err != nil {
		return nil, err
	}
	content, sha, err := r.client.Get(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return &Blob{Name: name, Content: content, Revision: Revision(sha)}, nil
}

// Write requires the revision the caller read. An empty expected revision is
// refused rather than turned into a blind overwrite.
func (r *Remote) Write(ctx context.Context, name string, content []byte, expected Revision) (Revision, error) {
	p, err := r.path(name)
	if err != nil {
		return "", err
	}
	if expected == "" {
		return "", fmt.Errorf("storage: write %s: missing revision", name)
	}
	sha, err := r.client.Update(ctx, p, content, string(expected), messageFrom(ctx, "Update "+name))
	if err != nil {
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}
	return Revision(sha), nil
}

func (r *Remote) Create(ctx context.Context, name string, content []byte) (Revision, error) {
	p, err := r.path(name)
	if err != nil {
		return "", err
	}
	sha, err := r.client.Create(ctx, p, content, messageFrom(ctx, "Create "+name))
	if err != nil {
		return "", fmt.Errorf("storage: create %s: %w", name, err)
	}
	return Revision(sha), nil
}

// Delete removes name. With an empty expected revision the current SHA is
// fetched first.
func (r *Remote) Delete(ctx context.Context, name string, expected Revision) error {
	p, err := r.path(name)
	if err != nil {
		return err
	}
	sha := string(expected)
	if sha == "" {
		_, current, err := r.client.Get(ctx, p)
		if err != nil {
			return fmt.Errorf("storage: delete %s: %w", name, err)
		}
		sha = current
	}
	if err := r.client.Delete(ctx, p, sha, messageFrom(ctx, "Delete "+name)); err != nil {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

func (r *Remote) Exists(ctx context.Context, name string) (bool, error) {
	p, err := r.path(name)
	if err != nil {
		return false, err
	}
	if _, _, err := r.client.Get(ctx, p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat %s: %w", name, err)
	}
	return true, nil
}
