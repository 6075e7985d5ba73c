// Package sqlitedb persists accounts, runs, tweets, images and API tokens in
// a single SQLite file.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("sqlitedb: not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("sqlitedb: conflict")
)

// DB wraps the application database.
type DB struct{ sql *sql.DB }

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" is accepted for tests.
func Open(path string) (*DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection: pragmas are per-connection and ":memory:" is too
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS accounts (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  handle TEXT NOT NULL UNIQUE,
	  provider TEXT NOT NULL DEFAULT 'x',
	  token_sealed TEXT NOT NULL,
	  refresh_sealed TEXT,
	  scopes TEXT,
	  created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS runs (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  submitted_at INTEGER NOT NULL,
	  account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	  url TEXT NOT NULL,
	  canonical_url TEXT NOT NULL,
	  mode TEXT NOT NULL,
	  type TEXT NOT NULL,
	  settings_json TEXT,
	  status TEXT NOT NULL,
	  cost_estimate REAL NOT NULL DEFAULT 0,
	  tokens_in INTEGER NOT NULL DEFAULT 0,
	  tokens_out INTEGER NOT NULL DEFAULT 0,
	  error_message TEXT,
	  scraped_title TEXT,
	  scraped_text TEXT,
	  word_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_dedupe ON runs(account_id, canonical_url, status);
	CREATE TABLE IF NOT EXISTS tweets (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	  idx INTEGER NOT NULL,
	  role TEXT NOT NULL,
	  text TEXT NOT NULL,
	  media_alt TEXT,
	  posted_tweet_id TEXT,
	  permalink TEXT,
	  posted_at INTEGER,
	  UNIQUE(run_id, role, idx)
	);
	CREATE TABLE IF NOT EXISTS images (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	  source_url TEXT NOT NULL,
	  width INTEGER NOT NULL,
	  height INTEGER NOT NULL,
	  used INTEGER NOT NULL DEFAULT 0,
	  data BLOB
	);
	CREATE TABLE IF NOT EXISTS api_tokens (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  label TEXT NOT NULL,
	  token_hash TEXT NOT NULL,
	  created_at INTEGER NOT NULL,
	  revoked_at INTEGER,
	  last_used_at INTEGER
	);
	`)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
