// Package items provides the SQLite-backed item store that holds the raw
// feedback text the clustering pass reads and the summarizer condenses.
package items

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/triage-go/internal/feedback"
)

// SQLiteStore is a feedback.ItemReader backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the item database.
// It resolves to ~/.triage/items.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("items: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".triage")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("items: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "items.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("items: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS items (
    id          TEXT    PRIMARY KEY,
    text        TEXT    NOT NULL,
    source      TEXT    NOT NULL,
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_items_created ON items (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("items: migrate: %w", err)
	}
	return nil
}

// Put inserts or replaces an item. Empty text is rejected; a zero CreatedAt
// is stamped with the current time and an empty Source becomes "other".
func (s *SQLiteStore) Put(ctx context.Context, it feedback.Item) error {
	if it.ID == "" {
		return &feedback.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(it.Text) == "" {
		return &feedback.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if it.Source == "" {
		it.Source = feedback.SourceOther
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}

	const q = `INSERT INTO items (id, text, source, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET text = excluded.text, source = excluded.source, created_at = excluded.created_at`
	if _, err := s.db.ExecContext(ctx, q, it.ID, it.Text, string(it.Source), it.CreatedAt.Unix()); err != nil {
		return &feedback.StoreError{Store: "sqlite", Op: "put item", Err: err}
	}
	return nil
}

// Get returns the items for ids keyed by ID. IDs with no stored item are
// absent from the map rather than reported as errors.
func (s *SQLiteStore) Get(ctx context.Context, ids []string) (map[string]feedback.Item, error) {
	out := make(map[string]feedback.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT id, text, source, created_at FROM items WHERE id IN (` + placeholders + `)`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &feedback.StoreError{Store: "sqlite", Op: "get items", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var it feedback.Item
		var src string
		var ts int64
		if err := rows.Scan(&it.ID, &it.Text, &src, &ts); err != nil {
			return nil, &feedback.StoreError{Store: "sqlite", Op: "get items scan", Err: err}
		}
		it.Source = feedback.Source(src)
		it.CreatedAt = time.Unix(ts, 0)
		out[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, &feedback.StoreError{Store: "sqlite", Op: "get items rows", Err: err}
	}
	return out, nil
}

// Count returns the number of stored items.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, &feedback.StoreError{Store: "sqlite", Op: "count items", Err: err}
	}
	return n, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("items: close: %w", err)
	}
	return nil
}
