// Package testutil provides shared test helpers for setting up stash backends and caches.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/starford/stash/internal/cache"
	"github.com/starford/stash/internal/stashservice"
	"github.com/starford/stash/internal/storage"
)

// FixedTime is the clock used by TestService.
var FixedTime = time.Unix(1718000000, 0)

// TestCache creates a temporary SQLite response cache that is automatically cleaned up.
func TestCache(t *testing.T) *cache.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "stash-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := cache.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestFS creates a temporary stash directory with a filesystem backend.
func TestFS(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestRemote creates a remote backend over in-memory blobs.
func TestRemote(t *testing.T) (*storage.MemoryBlobs, *storage.Remote) {
	t.Helper()
	blobs := storage.NewMemoryBlobs()
	return blobs, storage.NewRemote(blobs, storage.DefaultRemoteDir)
}

// TestService creates a service over backend with a fixed clock.
func TestService(t *testing.T, backend storage.Backend, opts ...stashservice.Option) *stashservice.Service {
	t.Helper()
	base := []stashservice.Option{
		stashservice.WithClock(func() time.Time { return FixedTime }),
	}
	return stashservice.New(backend, append(base, opts...)...)
}
