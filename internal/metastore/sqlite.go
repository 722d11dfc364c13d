package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/triage-go/internal/feedback"
)

// SQLiteStore implements Store on a local SQLite database. Hashes and sets
// live in two narrow tables keyed by the same key names Redis would use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metastore: open %s: %w", path, err)
	}
	// One connection serialises writers and keeps ":memory:" a single database.
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
CREATE TABLE IF NOT EXISTS kv_hash (
    key    TEXT NOT NULL,
    field  TEXT NOT NULL,
    value  TEXT NOT NULL,
    PRIMARY KEY (key, field)
);
CREATE TABLE IF NOT EXISTS kv_set (
    key     TEXT NOT NULL,
    member  TEXT NOT NULL,
    PRIMARY KEY (key, member)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("metastore: migrate: %w", err)
	}
	return nil
}

// Name returns "sqlite".
func (s *SQLiteStore) Name() string { return "sqlite" }

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// HashGet returns all fields of the hash at key.
func (s *SQLiteStore) HashGet(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM kv_hash WHERE key = ?`, key)
	if err != nil {
		return nil, s.storeErr("hgetall", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, s.storeErr("hgetall", err)
		}
		out[f] = v
	}
	if err := rows.Err(); err != nil {
		return nil, s.storeErr("hgetall", err)
	}
	return out, nil
}

// HashSet sets fields on the hash at key.
func (s *SQLiteStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	return s.Pipeline(ctx, []Op{HashSetOp(key, fields)})
}

// SetAdd adds members to the set at key.
func (s *SQLiteStore) SetAdd(ctx context.Context, key string, members ...string) error {
	return s.Pipeline(ctx, []Op{SetAddOp(key, members...)})
}

// SetRemove removes members from the set at key.
func (s *SQLiteStore) SetRemove(ctx context.Context, key string, members ...string) error {
	return s.Pipeline(ctx, []Op{SetRemoveOp(key, members...)})
}

// SetMembers returns the members of the set at key, sorted.
func (s *SQLiteStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM kv_set WHERE key = ? ORDER BY member`, key)
	if err != nil {
		return nil, s.storeErr("smembers", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, s.storeErr("smembers", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storeErr("smembers", err)
	}
	return out, nil
}

// Delete removes keys.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	ops := make([]Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, DeleteOp(k))
	}
	return s.Pipeline(ctx, ops)
}

// Pipeline applies every op inside one transaction, guards first.
func (s *SQLiteStore) Pipeline(ctx context.Context, ops []Op) error {
	guards, writes := splitGuards(compact(ops))
	ops = append(guards, writes...)
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storeErr("pipeline", err)
	}
	for i, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return s.storeErr("pipeline", fmt.Errorf("op %d (%s %s): %w", i, op.Kind, op.Key, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return s.storeErr("pipeline", err)
	}
	return nil
}

// applyOp executes one op against ex.
func applyOp(ctx context.Context, ex execer, op Op) error {
	switch op.Kind {
	case OpHashSet:
		for f, v := range op.Fields {
			if _, err := ex.ExecContext(ctx,
				`INSERT INTO kv_hash (key, field, value) VALUES (?, ?, ?)
				 ON CONFLICT (key, field) DO UPDATE SET value = excluded.value`,
				op.Key, f, v); err != nil {
				return err
			}
		}
	case OpHashDelete:
		for _, f := range op.Members {
			if _, err := ex.ExecContext(ctx, `DELETE FROM kv_hash WHERE key = ? AND field = ?`, op.Key, f); err != nil {
				return err
			}
		}
	case OpSetAdd:
		for _, m := range op.Members {
			if _, err := ex.ExecContext(ctx, `INSERT OR IGNORE INTO kv_set (key, member) VALUES (?, ?)`, op.Key, m); err != nil {
				return err
			}
		}
	case OpSetRemove:
		for _, m := range op.Members {
			if _, err := ex.ExecContext(ctx, `DELETE FROM kv_set WHERE key = ? AND member = ?`, op.Key, m); err != nil {
				return err
			}
		}
	case OpDelete:
		if _, err := ex.ExecContext(ctx, `DELETE FROM kv_hash WHERE key = ?`, op.Key); err != nil {
			return err
		}
		if _, err := ex.ExecContext(ctx, `DELETE FROM kv_set WHERE key = ?`, op.Key); err != nil {
			return err
		}
	case OpHashExpect:
		for f, want := range op.Fields {
			var got string
			err := ex.QueryRowContext(ctx, `SELECT value FROM kv_hash WHERE key = ? AND field = ?`, op.Key, f).Scan(&got)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if got != want {
				return fmt.Errorf("%s: %w", f, ErrConflict)
			}
		}
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.storeErr("ping", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("metastore: close: %w", err)
	}
	return nil
}

// storeErr wraps err as a StoreError attributed to SQLite.
func (s *SQLiteStore) storeErr(op string, err error) error {
	return &feedback.StoreError{Store: s.Name(), Op: op, Err: err}
}
