// Package codec reads and writes the category file format: a front matter
// block of "key: value" lines between "---" fences, followed by note bodies
// separated by lines of underscores.
package codec

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/starford/stash/internal/models"
)

// NoteSeparator is the canonical separator written between notes.
const NoteSeparator = "______________"

// ErrMissingFrontMatter is returned for files that do not open with a front
// matter block. Such files are corrupt, not empty.
var ErrMissingFrontMatter = errors.New("codec: invalid category file: missing front matter")

var (
	frontMatterRe = regexp.MustCompile(`\A---[ \t]*\r?\n(?:([\s\S]*?)\r?\n)?---[ \t]*(?:\r?\n|\z)`)
	separatorRe   = regexp.MustCompile(`(?m)^_{3,}[ \t]*\r?$`)
	newlineRe     = regexp.MustCompile(`[\r\n]+`)
)

// Parse decodes a category file. Unknown front matter keys are ignored and
// unparsable timestamps read as zero. Empty note segments are dropped and do
// not consume an index.
func Parse(raw []byte) (*models.Category, error) {
	text := strings.TrimPrefix(string(raw), "\ufeff")

	loc := frontMatterRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, ErrMissingFrontMatter
	}

	c := &models.Category{}
	if loc[2] >= 0 {
		parseFrontMatter(text[loc[2]:loc[3]], c)
	}
	c.Notes = splitNotes(text[loc[1]:])
	return c, nil
}

func parseFrontMatter(block string, c *models.Category) {
	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "id":
			c.ID = value
		case "title":
			c.Title = value
		case "desc":
			c.Description = value
		case "updated":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				c.Updated = n
			}
		case "created":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				c.Created = n
			}
		}
	}
}

func splitNotes(body string) []models.Note {
	parts := separatorRe.Split(body, -1)
	notes := make([]models.Note, 0, len(parts))
	for _, p := range parts {
		content := strings.TrimSpace(p)
		if content == "" {
			continue
		}
		notes = append(notes, models.Note{
			Index:   len(notes),
			Content: content,
			Title:   ExtractTitle(content),
		})
	}
	return notes
}

// ExtractTitle returns the text of a leading level-1 heading ("# Title"), or
// nil when the first non-blank line is not one.
func ExtractTitle(content string) *string {
	s := strings.TrimLeftFunc(content, unicode.IsSpace)
	if s == "" {
		return nil
	}
	first, _, _ := strings.Cut(s, "\n")
	if !strings.HasPrefix(first, "# ") {
		return nil
	}
	title := strings.TrimSpace(first[2:])
	if title == "" {
		return nil
	}
	return &title
}

// Serialize encodes c. Front matter keys are written in the fixed order id,
// title, desc, updated, created; desc is omitted when blank. Notes are joined
// by exactly one separator line surrounded by blank lines.
func Serialize(c *models.Category) []byte {
	var b strings.Builder

	b.WriteString("---\n")
	writeField(&b, "id", c.ID)
	writeField(&b, "title", c.Title)
	if strings.TrimSpace(c.Description) != "" {
		writeField(&b, "desc", c.Description)
	}
	writeField(&b, "updated", strconv.FormatInt(c.Updated, 10))
	writeField(&b, "created", strconv.FormatInt(c.Created, 10))
	b.WriteString("---\n\n")

	for i, n := range c.Notes {
		if i > 0 {
			b.WriteString("\n\n" + NoteSeparator + "\n\n")
		}
		b.WriteString(n.Content)
	}

	return []byte(b.String())
}

// writeField keeps values on a single line; a newline inside a value would
// end the front matter entry early.
func writeField(b *strings.Builder, key, value string) {
	value = strings.TrimSpace(newlineRe.ReplaceAllString(value, " "))
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}
