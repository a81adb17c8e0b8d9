// Package models defines the domain types for the stash.
package models

// Category is a named group of notes persisted as one file. The whole file is
// the unit of read and write.
type Category struct {
	ID          string
	Title       string
	Description string
	Created     int64 // unix seconds
	Updated     int64 // unix seconds
	Notes       []Note
}

// Note is one free-text entry of a category. Index is positional: it is
// recomputed from the slice position on every parse and never persisted.
type Note struct {
	Index   int
	Content string
	Title   *string // derived from a leading "# " line, nil when absent
}

// Reindex reassigns every note's Index from its position.
func (c *Category) Reindex() {
	for i := range c.Notes {
		c.Notes[i].Index = i
	}
}
