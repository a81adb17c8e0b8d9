package stashservice

import (
	"errors"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/stash/internal/apperr"
	"github.com/starford/stash/internal/noteid"
)

// DefaultMaxNoteBytes is the note content ceiling (1 MiB).
const DefaultMaxNoteBytes = 1 << 20

var (
	notBlank = validation.By(func(v any) error {
		if s, _ := v.(string); strings.TrimSpace(s) == "" {
			return errors.New("must not be empty")
		}
		return nil
	})
	categoryIDRule = validation.By(func(v any) error {
		if s, _ := v.(string); !noteid.IsValidCategoryID(s) {
			return errors.New("must be non-empty and must not contain '..', '/' or '\\'")
		}
		return nil
	})
)

// field runs rules against value and reports the first failure as an
// apperr.ValidationError.
func field(name string, value any, rules ...validation.Rule) error {
	if err := validation.Validate(value, rules...); err != nil {
		return apperr.Invalid(name, "%s", err.Error())
	}
	return nil
}

func validateCategoryID(id string) error {
	return field("categoryId", id, categoryIDRule)
}

func (s *Service) validateContent(content string) error {
	return field("content", content, notBlank, validation.By(func(any) error {
		if len(content) > s.maxNoteBytes {
			return errors.New("exceeds maximum size of " + humanBytes(s.maxNoteBytes))
		}
		return nil
	}))
}

func parseNoteID(token string) (noteid.ID, error) {
	id, err := noteid.Parse(token)
	if err != nil {
		return noteid.ID{}, apperr.Invalid("noteId", "%s", err.Error())
	}
	return id, nil
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return strconv.Itoa(n>>20) + " MiB"
	case n >= 1<<10 && n%(1<<10) == 0:
		return strconv.Itoa(n>>10) + " KiB"
	default:
		return strconv.Itoa(n) + " bytes"
	}
}
