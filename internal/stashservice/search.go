package stashservice

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
)

// Search scans every category for notes whose title or identifier contains
// pattern, ignoring case. With inContent the note body is searched too. A
// blank pattern matches nothing.
func (s *Service) Search(ctx context.Context, pattern string, inContent bool) ([]SearchHit, error) {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(pattern))
	if needle == "" {
		return nil, nil
	}
	cats, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	var hits []SearchHit
	for _, c := range cats {
		for _, n := range noteDTOs(c) {
			if !noteMatches(fold, n, needle, inContent) {
				continue
			}
			hits = append(hits, SearchHit{CategoryID: c.ID, CategoryTitle: c.Title, Note: n})
		}
	}
	return hits, nil
}

func noteMatches(fold cases.Caser, n NoteDTO, needle string, inContent bool) bool {
	if n.Title != nil && strings.Contains(fold.String(*n.Title), needle) {
		return true
	}
	if strings.Contains(n.ID, needle) {
		return true
	}
	return inContent && strings.Contains(fold.String(n.Content), needle)
}
