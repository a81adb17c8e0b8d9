package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Get returns the entry stored under key, or nil when there is none.
func (db *DB) Get(key string) (*Entry, error) {
	var e Entry
	err := db.conn.QueryRow(`SELECT payload, revision, stored_at FROM responses WHERE key = ?`, key).
		Scan(&e.Payload, &e.Revision, &e.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return &e, nil
}

// Put stores payload under key, replacing any previous entry.
func (db *DB) Put(key string, payload []byte, revision string) error {
	_, err := db.conn.Exec(`
		INSERT INTO responses (key, revision, payload, stored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			revision  = excluded.revision,
			payload   = excluded.payload,
			stored_at = excluded.stored_at
	`, key, revision, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}
	return nil
}

// InvalidateCategory drops every entry that can include the category.
func (db *DB) InvalidateCategory(categoryID string) error {
	_, err := db.conn.Exec(`DELETE FROM responses WHERE key IN (?, ?, ?)`,
		KeyCategories, KeyCategoriesWithNotes, NotesKey(categoryID))
	if err != nil {
		return fmt.Errorf("cache: invalidate %s: %w", categoryID, err)
	}
	return nil
}

// InvalidateAll empties the cache.
func (db *DB) InvalidateAll() error {
	if _, err := db.conn.Exec(`DELETE FROM responses`); err != nil {
		return fmt.Errorf("cache: invalidate all: %w", err)
	}
	return nil
}

// Len returns the number of cached entries.
func (db *DB) Len() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM responses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}
