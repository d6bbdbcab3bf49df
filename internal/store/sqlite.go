package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS definitions (
	kind       TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (kind, key)
);`

// OpenSQLite ensures the parent directory exists, opens the database and
// applies the schema.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: concurrent writers would otherwise hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// SQLiteStore keeps one kind of definition in the shared definitions table,
// one JSON document per key.
type SQLiteStore[T Keyed] struct {
	db   *sql.DB
	kind string
}

// NewSQLiteStore creates a store over db for the given kind.
func NewSQLiteStore[T Keyed](db *sql.DB, kind string) *SQLiteStore[T] {
	return &SQLiteStore[T]{db: db, kind: kind}
}

// LoadAll returns all values of the kind ordered by key.
func (s *SQLiteStore[T]) LoadAll(ctx context.Context) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT value FROM definitions WHERE kind = ? ORDER BY key", s.kind)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.kind, err)
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var value T
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.kind, err)
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

// LoadByKey returns one value or ErrNotFound.
func (s *SQLiteStore[T]) LoadByKey(ctx context.Context, key string) (T, error) {
	var value T
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM definitions WHERE kind = ? AND key = ?", s.kind, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return value, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return value, fmt.Errorf("decode %s: %w", s.kind, err)
	}
	return value, nil
}

// Save upserts one value.
func (s *SQLiteStore[T]) Save(ctx context.Context, value T) error {
	return s.upsert(ctx, s.db, value)
}

// SaveAll replaces every value of the kind inside one transaction.
func (s *SQLiteStore[T]) SaveAll(ctx context.Context, values []T) error {
	trx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = trx.Rollback() }()

	if _, err := trx.ExecContext(ctx, "DELETE FROM definitions WHERE kind = ?", s.kind); err != nil {
		return fmt.Errorf("clear %s: %w", s.kind, err)
	}
	for _, value := range values {
		if err := s.upsert(ctx, trx, value); err != nil {
			return err
		}
	}
	return trx.Commit()
}

// Delete removes one value or returns ErrNotFound.
func (s *SQLiteStore[T]) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM definitions WHERE kind = ? AND key = ?", s.kind, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", s.kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore[T]) upsert(ctx context.Context, db execer, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO definitions (kind, key, value, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(kind, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.kind, value.StoreKey(), string(data))
	if err != nil {
		return fmt.Errorf("save %s %q: %w", s.kind, value.StoreKey(), err)
	}
	return nil
}
