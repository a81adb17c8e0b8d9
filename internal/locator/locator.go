// Package locator resolves category ids to the files that hold them.
//
// There is no index: every lookup lists the store and reads candidate files
// until one whose front matter carries the requested id is found. Category
// counts are expected to be small.
package locator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/starford/stash/internal/apperr"
	"github.com/starford/stash/internal/storage"
)

const (
	// DefaultBudget bounds the id match on a single candidate.
	DefaultBudget = 500 * time.Millisecond
	// DefaultHeaderLimit is how many leading bytes of a file are scanned.
	DefaultHeaderLimit = 8 << 10

	fallbackName = "category"
	maxNameRunes = 120
)

var (
	errNoHeader = errors.New("locator: no front matter")
	errBudget   = errors.New("locator: match budget exceeded")

	idLineRe = regexp.MustCompile(`(?m)^[ \t]*id[ \t]*:[ \t]*(.*?)[ \t]*\r?$`)
)

// Locator scans a backend for category files.
type Locator struct {
	budget      time.Duration
	headerLimit int
	logger      *slog.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithBudget sets the per-candidate match budget.
func WithBudget(d time.Duration) Option {
	return func(l *Locator) {
		if d > 0 {
			l.budget = d
		}
	}
}

// WithHeaderLimit caps the number of bytes inspected per candidate.
func WithHeaderLimit(n int) Option {
	return func(l *Locator) {
		if n > 0 {
			l.headerLimit = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Locator) { l.logger = logger }
}

func New(opts ...Option) *Locator {
	l := &Locator{
		budget:      DefaultBudget,
		headerLimit: DefaultHeaderLimit,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Find returns the first file whose front matter id equals categoryID,
// already read so the content and revision belong together. Candidates that
// cannot be read or matched are skipped. A miss yields apperr.ErrNotFound.
func (l *Locator) Find(ctx context.Context, backend storage.Backend, categoryID string) (*storage.Blob, error) {
	files, err := backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("locator: list: %w", err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blob, err := backend.Read(ctx, f.Name)
		if err != nil {
			l.logger.Debug("locator: skip unreadable file", slog.String("file", f.Name), slog.String("error", err.Error()))
			continue
		}
		id, err := l.HeaderID(ctx, blob.Content)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			l.logger.Debug("locator: skip file", slog.String("file", f.Name), slog.String("error", err.Error()))
			continue
		}
		if id == categoryID {
			return blob, nil
		}
	}
	return nil, apperr.NotFound("category %q", categoryID)
}

// HeaderID extracts the id from the front matter at the start of raw. The
// match runs under the locator's time budget.
func (l *Locator) HeaderID(ctx context.Context, raw []byte) (string, error) {
	if len(raw) > l.headerLimit {
		raw = raw[:l.headerLimit]
	}

	type result struct {
		id  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := headerID(raw)
		done <- result{id: id, err: err}
	}()

	timer := time.NewTimer(l.budget)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.id, r.err
	case <-timer.C:
		return "", errBudget
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func headerID(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	first, rest, ok := bytes.Cut(raw, []byte("\n"))
	if !ok || string(bytes.TrimRight(first, " \t\r")) != "---" {
		return "", errNoHeader
	}
	// Only look inside the block; an unterminated block within the scan
	// window is searched as far as it goes.
	block := rest
	for off := 0; off < len(rest); {
		line, _, _ := bytes.Cut(rest[off:], []byte("\n"))
		if string(bytes.TrimRight(line, " \t\r")) == "---" {
			block = rest[:off]
			break
		}
		off += len(line) + 1
	}
	// Same reading as the codec: the whole trimmed value, last id line wins.
	all := idLineRe.FindAllSubmatch(block, -1)
	if len(all) == 0 {
		return "", errNoHeader
	}
	id := string(all[len(all)-1][1])
	if id == "" {
		return "", errNoHeader
	}
	return id, nil
}

// FileName derives a category file name from a title. Attempt 0 is the bare
// sanitized title; later attempts append _1, _2, ...
func (l *Locator) FileName(title string, attempt int) string {
	base := SanitizeTitle(title)
	if attempt > 0 {
		base += "_" + strconv.Itoa(attempt)
	}
	return base + storage.Ext
}

// SanitizeTitle strips characters that are not allowed in file names on
// common filesystems. An empty result becomes "category".
func SanitizeTitle(title string) string {
	title = norm.NFC.String(title)
	var b strings.Builder
	n := 0
	for _, r := range title {
		if n >= maxNameRunes {
			break
		}
		if unicode.IsControl(r) || strings.ContainsRune(`/\:*?"<>|`, r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	name := strings.TrimSpace(strings.TrimLeft(b.String(), ". "))
	if name == "" {
		return fallbackName
	}
	return name
}
