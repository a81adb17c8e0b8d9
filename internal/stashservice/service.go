// Package stashservice implements the stash operations on top of a storage
// backend: category listing and lifecycle, and note mutations guarded by the
// note identifier check.
//
// Every mutation is a full read, parse, modify, serialize and write of one
// category file. On backends with atomic writes a concurrent change between
// the read and the write is rejected by the store; on the filesystem it is
// not, and the last writer wins.
package stashservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/stash/internal/apperr"
	"github.com/starford/stash/internal/checksum"
	"github.com/starford/stash/internal/codec"
	"github.com/starford/stash/internal/locator"
	"github.com/starford/stash/internal/models"
	"github.com/starford/stash/internal/noteid"
	"github.com/starford/stash/internal/storage"
)

const maxCreateAttempts = 100

// Service coordinates locator, codec and backend.
type Service struct {
	backend      storage.Backend
	locator      *locator.Locator
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
	maxNoteBytes int
}

// Option configures a Service.
type Option func(*Service)

func WithLocator(l *locator.Locator) Option {
	return func(s *Service) { s.locator = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the random category id source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithMaxNoteBytes sets the note content ceiling.
func WithMaxNoteBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxNoteBytes = n
		}
	}
}

// New creates a service over backend.
func New(backend storage.Backend, opts ...Option) *Service {
	s := &Service{
		backend:      backend,
		logger:       slog.Default(),
		now:          time.Now,
		newID:        uuid.NewString,
		maxNoteBytes: DefaultMaxNoteBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.locator == nil {
		s.locator = locator.New(locator.WithLogger(s.logger))
	}
	return s
}

// SupportsAtomicWrite reports whether the underlying store rejects stale writes.
func (s *Service) SupportsAtomicWrite() bool { return s.backend.SupportsAtomicWrite() }

// GetCategories returns a summary of every parsable category file.
func (s *Service) GetCategories(ctx context.Context) ([]CategorySummary, error) {
	cats, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CategorySummary, len(cats))
	for i, c := range cats {
		out[i] = summarize(c)
	}
	return out, nil
}

// CategoriesWithNotes returns every category together with its notes,
// reading each file once.
func (s *Service) CategoriesWithNotes(ctx context.Context) ([]CategoryWithNotes, error) {
	cats, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CategoryWithNotes, len(cats))
	for i, c := range cats {
		out[i] = CategoryWithNotes{Category: summarize(c), Notes: noteDTOs(c)}
	}
	return out, nil
}

// CreateCategory stores a new, empty category under a fresh random id. The
// file name comes from the title; taken names get a numeric suffix.
func (s *Service) CreateCategory(ctx context.Context, title, description string) (*CategorySummary, error) {
	if err := field("title", title, notBlank); err != nil {
		return nil, err
	}
	ts := s.now().Unix()
	cat := &models.Category{
		ID:          s.newID(),
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Created:     ts,
		Updated:     ts,
	}
	content := codec.Serialize(cat)
	ctx = storage.WithMessage(ctx, "stash: create category "+cat.Title)

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		name := s.locator.FileName(cat.Title, attempt)
		exists, err := s.backend.Exists(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("stashservice: create category: %w", err)
		}
		if exists {
			continue
		}
		if _, err := s.backend.Create(ctx, name, content); err != nil {
			if errors.Is(err, fs.ErrExist) {
				// Taken between the check and the create.
				continue
			}
			return nil, fmt.Errorf("stashservice: create category: %w", err)
		}
		s.logger.Debug("category created", slog.String("id", cat.ID), slog.String("file", name))
		sum := summarize(cat)
		return &sum, nil
	}
	return nil, fmt.Errorf("stashservice: no free file name for %q: %w", cat.Title, apperr.ErrAlreadyExists)
}

// UpdateCategory overwrites the title and/or description with the non-blank
// values in upd. Concurrent metadata edits are not detected beyond what the
// store's own revision check provides.
func (s *Service) UpdateCategory(ctx context.Context, id string, upd CategoryUpdate) (*CategorySummary, error) {
	if err := validateCategoryID(id); err != nil {
		return nil, err
	}
	if upd.Title == nil && upd.Description == nil {
		return nil, apperr.Invalid("update", "title or description is required")
	}
	blob, cat, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) != "" {
		cat.Title = strings.TrimSpace(*upd.Title)
	}
	if upd.Description != nil && strings.TrimSpace(*upd.Description) != "" {
		cat.Description = strings.TrimSpace(*upd.Description)
	}
	cat.Updated = s.now().Unix()
	if err := s.save(ctx, blob, cat, "stash: update category "+cat.Title); err != nil {
		return nil, staleAsConflict(err)
	}
	sum := summarize(cat)
	return &sum, nil
}

// GetNotes returns every note of a category with its current identifier.
func (s *Service) GetNotes(ctx context.Context, id string) ([]NoteDTO, error) {
	if err := validateCategoryID(id); err != nil {
		return nil, err
	}
	_, cat, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return noteDTOs(cat), nil
}

// AddNote appends a note at the next index.
func (s *Service) AddNote(ctx context.Context, id, content string) (*NoteDTO, error) {
	if err := validateCategoryID(id); err != nil {
		return nil, err
	}
	if err := s.validateContent(content); err != nil {
		return nil, err
	}
	blob, cat, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(content)
	note := models.Note{Index: len(cat.Notes), Content: body, Title: codec.ExtractTitle(body)}
	cat.Notes = append(cat.Notes, note)
	cat.Updated = s.now().Unix()
	if err := s.save(ctx, blob, cat, "stash: add note to "+cat.Title); err != nil {
		return nil, staleAsConflict(err)
	}
	dto := toDTO(note)
	return &dto, nil
}

// UpdateNote replaces the content of the note identified by noteID. A note
// that changed since noteID was issued yields a Conflict result.
func (s *Service) UpdateNote(ctx context.Context, id, noteID, content string) (Result[NoteDTO], error) {
	var res Result[NoteDTO]
	if err := validateCategoryID(id); err != nil {
		return res, err
	}
	nid, err := parseNoteID(noteID)
	if err != nil {
		return res, err
	}
	if err := s.validateContent(content); err != nil {
		return res, err
	}
	blob, cat, err := s.load(ctx, id)
	if err != nil {
		return res, err
	}
	if c, err := checkNote(id, cat, nid); err != nil || c != nil {
		res.Conflict = c
		return res, err
	}

	body := strings.TrimSpace(content)
	cat.Notes[nid.Index].Content = body
	cat.Notes[nid.Index].Title = codec.ExtractTitle(body)
	cat.Updated = s.now().Unix()
	if err := s.save(ctx, blob, cat, "stash: update note in "+cat.Title); err != nil {
		if errors.Is(err, storage.ErrStaleRevision) {
			res.Conflict = staleConflict(id)
			return res, nil
		}
		return res, err
	}
	res.Value = toDTO(cat.Notes[nid.Index])
	return res, nil
}

// DeleteNote removes the note identified by noteID. Later notes move down
// one index, which changes their identifiers.
func (s *Service) DeleteNote(ctx context.Context, id, noteID string) (Result[struct{}], error) {
	var res Result[struct{}]
	if err := validateCategoryID(id); err != nil {
		return res, err
	}
	nid, err := parseNoteID(noteID)
	if err != nil {
		return res, err
	}
	blob, cat, err := s.load(ctx, id)
	if err != nil {
		return res, err
	}
	if c, err := checkNote(id, cat, nid); err != nil || c != nil {
		res.Conflict = c
		return res, err
	}

	cat.Notes = append(cat.Notes[:nid.Index], cat.Notes[nid.Index+1:]...)
	cat.Reindex()
	cat.Updated = s.now().Unix()
	if err := s.save(ctx, blob, cat, "stash: delete note from "+cat.Title); err != nil {
		if errors.Is(err, storage.ErrStaleRevision) {
			res.Conflict = staleConflict(id)
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// DeleteCategory removes the category file.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := validateCategoryID(id); err != nil {
		return err
	}
	blob, err := s.locator.Find(ctx, s.backend, id)
	if err != nil {
		return err
	}
	ctx = storage.WithMessage(ctx, "stash: delete category "+blob.Name)
	if err := s.backend.Delete(ctx, blob.Name, blob.Revision); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFound("category %q", id)
		}
		return staleAsConflict(fmt.Errorf("stashservice: delete category: %w", err))
	}
	return nil
}

// CategoryExists reports whether id resolves to a file. Invalid ids do not
// exist.
func (s *Service) CategoryExists(ctx context.Context, id string) (bool, error) {
	if !noteid.IsValidCategoryID(id) {
		return false, nil
	}
	if _, err := s.locator.Find(ctx, s.backend, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Revision returns the store's version token for the category file.
func (s *Service) Revision(ctx context.Context, id string) (storage.Revision, error) {
	if err := validateCategoryID(id); err != nil {
		return "", err
	}
	blob, err := s.locator.Find(ctx, s.backend, id)
	if err != nil {
		return "", err
	}
	return blob.Revision, nil
}

// ListingRevision digests the names and revisions of every category file.
// It changes whenever a file is added, removed or rewritten, so it can guard
// data derived from a full scan.
func (s *Service) ListingRevision(ctx context.Context) (storage.Revision, error) {
	files, err := s.backend.List(ctx)
	if err != nil {
		return "", fmt.Errorf("stashservice: list: %w", err)
	}
	slices.SortFunc(files, func(a, b storage.FileInfo) int { return strings.Compare(a.Name, b.Name) })
	var buf strings.Builder
	for _, f := range files {
		buf.WriteString(f.Name)
		buf.WriteByte(0)
		buf.WriteString(string(f.Revision))
		buf.WriteByte('\n')
	}
	return storage.Revision(checksum.Sum([]byte(buf.String()))), nil
}

// Snapshot is one category read at a single revision.
type Snapshot struct {
	CategoryWithNotes
	Revision storage.Revision `json:"-"`
}

// Snapshot returns the category, its notes and the file revision from one
// read, so the revision describes exactly the returned data.
func (s *Service) Snapshot(ctx context.Context, id string) (*Snapshot, error) {
	if err := validateCategoryID(id); err != nil {
		return nil, err
	}
	blob, cat, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		CategoryWithNotes: CategoryWithNotes{Category: summarize(cat), Notes: noteDTOs(cat)},
		Revision:          blob.Revision,
	}, nil
}

// scan parses every category file, skipping the ones that cannot be read or
// parsed.
func (s *Service) scan(ctx context.Context) ([]*models.Category, error) {
	files, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("stashservice: list: %w", err)
	}
	cats := make([]*models.Category, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blob, err := s.backend.Read(ctx, f.Name)
		if err != nil {
			s.logger.Warn("skip unreadable category file", slog.String("file", f.Name), slog.String("error", err.Error()))
			continue
		}
		cat, err := codec.Parse(blob.Content)
		if err != nil {
			s.logger.Warn("skip invalid category file", slog.String("file", f.Name), slog.String("error", err.Error()))
			continue
		}
		cats = append(cats, cat)
	}
	return cats, nil
}

func (s *Service) load(ctx context.Context, id string) (*storage.Blob, *models.Category, error) {
	blob, err := s.locator.Find(ctx, s.backend, id)
	if err != nil {
		return nil, nil, err
	}
	cat, err := codec.Parse(blob.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("stashservice: parse %s: %w", blob.Name, err)
	}
	return blob, cat, nil
}

func (s *Service) save(ctx context.Context, blob *storage.Blob, cat *models.Category, msg string) error {
	ctx = storage.WithMessage(ctx, msg)
	if _, err := s.backend.Write(ctx, blob.Name, codec.Serialize(cat), blob.Revision); err != nil {
		return fmt.Errorf("stashservice: write %s: %w", blob.Name, err)
	}
	return nil
}

// checkNote verifies nid against the stored note. It returns a Conflict when
// the note changed since nid was issued, and a validation error when the
// index is out of range.
func checkNote(categoryID string, cat *models.Category, nid noteid.ID) (*Conflict, error) {
	if nid.Index < 0 || nid.Index >= len(cat.Notes) {
		return nil, apperr.Invalid("noteId", "index %d out of range, category has %d notes", nid.Index, len(cat.Notes))
	}
	note := cat.Notes[nid.Index]
	if nid.Matches(nid.Index, note.Content) {
		return nil, nil
	}
	current := toDTO(note)
	return &Conflict{
		Code:       ConflictModified,
		Message:    "note has been modified",
		CategoryID: categoryID,
		Current:    &current,
	}, nil
}

func staleConflict(categoryID string) *Conflict {
	return &Conflict{
		Code:       ConflictStaleRevision,
		Message:    "category changed since it was read",
		CategoryID: categoryID,
	}
}

func staleAsConflict(err error) error {
	if errors.Is(err, storage.ErrStaleRevision) {
		return fmt.Errorf("%w: %w", apperr.ErrConflict, err)
	}
	return err
}

func summarize(c *models.Category) CategorySummary {
	desc := c.Description
	if strings.TrimSpace(desc) == "" {
		desc = c.Title
	}
	return CategorySummary{ID: c.ID, Title: c.Title, Description: desc, NotesCount: len(c.Notes)}
}

func toDTO(n models.Note) NoteDTO {
	return NoteDTO{ID: noteid.Generate(n.Index, n.Content).String(), Title: n.Title, Content: n.Content}
}

func noteDTOs(c *models.Category) []NoteDTO {
	out := make([]NoteDTO, len(c.Notes))
	for i, n := range c.Notes {
		out[i] = toDTO(n)
	}
	return out
}
