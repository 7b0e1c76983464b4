// Package ledger tracks archival failures per URL so a bounded number of
// retries can be replayed on later runs.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// FileName is the retry store under the log folder.
const FileName = "retries.db"

// RetryCeiling is the failure count at which a URL stops being replayed.
const RetryCeiling = 3

// Eligible reports whether a URL with the given failure count may be retried.
func Eligible(count int) bool {
	return count < RetryCeiling
}

const schema = `
CREATE TABLE IF NOT EXISTS retries (
	url      TEXT PRIMARY KEY,
	failures INTEGER NOT NULL CHECK (failures > 0)
)`

// Store is a SQLite-backed retry ledger. It assumes a single writer.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = FULL",
		schema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init ledger %s: %w", path, err)
		}
	}
	return &Store{db: db}, nil
}

// LoadAll returns a point-in-time copy of every entry.
func (s *Store) LoadAll(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, failures FROM retries`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			url   string
			count int
		)
		if err := rows.Scan(&url, &count); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out[url] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return out, nil
}

// RecordOutcome deletes the entry for url on success and increments it
// otherwise. Each call commits before returning.
func (s *Store) RecordOutcome(ctx context.Context, url string, success bool) error {
	if success {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM retries WHERE url = ?`, url); err != nil {
			return fmt.Errorf("clear ledger entry: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retries (url, failures) VALUES (?, 1)
		ON CONFLICT(url) DO UPDATE SET failures = failures + 1`, url)
	if err != nil {
		return fmt.Errorf("increment ledger entry: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}
