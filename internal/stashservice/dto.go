package stashservice

// CategorySummary is the list projection of a category.
type CategorySummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	NotesCount  int    `json:"notesCount"`
}

// NoteDTO is a note as seen by callers. ID is the "index:hash8" token that
// must be presented to update or delete the note.
type NoteDTO struct {
	ID      string  `json:"id"`
	Title   *string `json:"title"`
	Content string  `json:"content"`
}

// CategoryWithNotes pairs a summary with every note of the category.
type CategoryWithNotes struct {
	Category CategorySummary `json:"category"`
	Notes    []NoteDTO       `json:"notes"`
}

// SearchHit is one note matching a search pattern.
type SearchHit struct {
	CategoryID    string  `json:"categoryId"`
	CategoryTitle string  `json:"categoryTitle"`
	Note          NoteDTO `json:"note"`
}

// CategoryUpdate carries the optional fields of an update. Nil or blank
// values leave the stored field unchanged.
type CategoryUpdate struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// ConflictCode classifies a rejected note mutation.
type ConflictCode string

const (
	// ConflictModified means the note no longer matches the presented id.
	ConflictModified ConflictCode = "modified"
	// ConflictStaleRevision means the store rejected the write because the
	// category file changed after it was read.
	ConflictStaleRevision ConflictCode = "stale_revision"
)

// Conflict describes why a mutation was not applied. Current holds the note
// now stored at the requested index, when there is one, so the caller can
// re-fetch and retry.
type Conflict struct {
	Code       ConflictCode `json:"code"`
	Message    string       `json:"message"`
	CategoryID string       `json:"categoryId"`
	Current    *NoteDTO     `json:"current,omitempty"`
}

// Result is the outcome of a conflict-checked mutation. Exactly one of Value
// (when Conflict is nil) or Conflict is meaningful.
type Result[T any] struct {
	Value    T
	Conflict *Conflict
}

// OK reports whether the mutation was applied.
func (r Result[T]) OK() bool { return r.Conflict == nil }
