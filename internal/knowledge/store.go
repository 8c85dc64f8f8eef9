// Package knowledge provides the store policy / FAQ base behind the
// lookup_knowledge tool. Entries are imported from markdown documents
// (warranty terms, seasonal storage rules, payment options) and
// searched by keyword at call time.
package knowledge

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one knowledge base item.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Section   string    `json:"section"` // H1 heading of the source doc
	Topic     string    `json:"topic"`   // H2 heading (or section when flat)
	Content   string    `json:"content"`
	Source    string    `json:"source"` // originating file
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages knowledge base persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a knowledge store at the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			section TEXT NOT NULL,
			topic TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT,
			updated_at TEXT NOT NULL,
			UNIQUE(section, topic)
		);

		CREATE INDEX IF NOT EXISTS idx_entries_topic ON entries(topic);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set creates or updates an entry, keyed by (section, topic).
func (s *Store) Set(section, topic, content, source string) (*Entry, error) {
	now := time.Now().UTC()
	id, _ := uuid.NewV7()

	_, err := s.db.Exec(`
		INSERT INTO entries (id, section, topic, content, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (section, topic) DO UPDATE
		SET content = excluded.content, source = excluded.source, updated_at = excluded.updated_at
	`, id.String(), section, topic, content, source, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("set %s/%s: %w", section, topic, err)
	}

	return &Entry{ID: id, Section: section, Topic: topic, Content: content, Source: source, UpdatedAt: now}, nil
}

// DeleteBySource removes all entries imported from one source file,
// enabling clean re-imports.
func (s *Store) DeleteBySource(source string) error {
	_, err := s.db.Exec(`DELETE FROM entries WHERE source = ?`, source)
	return err
}

// Lookup finds entries whose topic or content matches every word of
// the query, most recently updated first.
func (s *Store) Lookup(query string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 5
	}

	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil, nil
	}

	var conds []string
	var args []any
	for _, w := range words {
		conds = append(conds, "(LOWER(topic) LIKE ? OR LOWER(content) LIKE ?)")
		pattern := "%" + w + "%"
		args = append(args, pattern, pattern)
	}
	args = append(args, limit)

	rows, err := s.db.Query(`
		SELECT id, section, topic, content, source, updated_at
		FROM entries
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY updated_at DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var id, updatedAt string
	if err := rows.Scan(&id, &e.Section, &e.Topic, &e.Content, &e.Source, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	e.ID = parsed

	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		e.UpdatedAt = t
	}
	return &e, nil
}
