package cache

import "time"

// Keys of the cached responses.
const (
	KeyCategories          = "categories"
	KeyCategoriesWithNotes = "categories-with-notes"
	notesPrefix            = "notes:"
)

// NotesKey is the key of a category's notes.
func NotesKey(categoryID string) string { return notesPrefix + categoryID }

// Entry is one cached response.
type Entry struct {
	Payload  []byte
	Revision string // store revision the payload was built from, if any
	StoredAt time.Time
}

// ResponseCache defines the operations the HTTP layer uses. Consumers should
// depend on this interface rather than the concrete *DB type so the cache
// can be disabled.
type ResponseCache interface {
	Get(key string) (*Entry, error)
	Put(key string, payload []byte, revision string) error
	InvalidateCategory(categoryID string) error
	InvalidateAll() error
	Close() error
}

// Verify *DB and Nop satisfy ResponseCache at compile time.
var (
	_ ResponseCache = (*DB)(nil)
	_ ResponseCache = Nop{}
)

// Nop is a ResponseCache that stores nothing.
type Nop struct{}

func (Nop) Get(string) (*Entry, error) { return nil, nil }
func (Nop) Put(string, []byte, string) error { return nil }
func (Nop) InvalidateCategory(string) error { return nil }
func (Nop) InvalidateAll() error { return nil }
func (Nop) Close() error { return nil }
