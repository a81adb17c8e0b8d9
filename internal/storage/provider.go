// Package storage defines the category file store contract and its
// implementations: the local filesystem and a remote, revisioned blob API.
//
// The two backends expose the same methods but not the same guarantees.
// Remote writes are conditional on the revision observed at read time and a
// stale revision is rejected by the remote service. The filesystem has no
// compare-and-swap, so FS.Write overwrites unconditionally and the expected
// revision is ignored. SupportsAtomicWrite reports which behavior applies.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Ext is the extension of category files.
const Ext = ".md"

// ErrStaleRevision is returned by conditional writes when the stored file no
// longer has the expected revision.
var ErrStaleRevision = errors.New("storage: stale revision")

// Revision is a backend version token proving which version of a file was
// read. It is opaque to callers.
type Revision string

// FileInfo describes one category file in a listing.
type FileInfo struct {
	Name     string
	Revision Revision
}

// Blob is a file's content together with the revision it was read at.
type Blob struct {
	Name     string
	Content  []byte
	Revision Revision
}

// Backend is the capability set the stash needs from a store. Names are bare
// file names inside the store's categories area.
type Backend interface {
	// List returns every category file. A missing categories area is empty.
	List(ctx context.Context) ([]FileInfo, error)
	// Read returns the file content and its current revision. Missing files
	// yield an error wrapping fs.ErrNotExist.
	Read(ctx context.Context, name string) (*Blob, error)
	// Write replaces the file content. Backends that support atomic writes
	// fail with ErrStaleRevision when expected is no longer current; others
	// ignore expected.
	Write(ctx context.Context, name string, content []byte, expected Revision) (Revision, error)
	// Create stores a new file, failing with an error wrapping fs.ErrExist
	// when the name is taken.
	Create(ctx context.Context, name string, content []byte) (Revision, error)
	// Delete removes the file. expected follows the same rules as Write.
	Delete(ctx context.Context, name string, expected Revision) error
	// Exists reports whether a file with name is present.
	Exists(ctx context.Context, name string) (bool, error)
	// SupportsAtomicWrite reports whether Write and Delete enforce expected.
	SupportsAtomicWrite() bool
}

type messageKey struct{}

// WithMessage attaches a change description to ctx. Backends that record
// history (commit messages) use it for the next write.
func WithMessage(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, messageKey{}, msg)
}

func messageFrom(ctx context.Context, fallback string) string {
	if msg, ok := ctx.Value(messageKey{}).(string); ok && msg != "" {
		return msg
	}
	return fallback
}

// validName rejects anything that is not a plain file name.
func validName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("storage: invalid file name %q", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("storage: file name escapes categories area: %q", name)
	}
	return nil
}
