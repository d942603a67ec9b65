// Package history keeps a local SQLite record of settled runs so past
// questions, answers, and failures survive console restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one persisted terminal run.
type Entry struct {
	ID            int64
	Question      string
	Status        string
	Response      string
	SQL           string
	ErrorCategory string
	RequestID     string
	TraceID       string
	Duration      time.Duration
	FromCache     bool
	RowCount      int
	CreatedAt     time.Time
}

// Store is an append-mostly run journal backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the per-user history database location,
// ~/.kotae/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".kotae", "history.db"), nil
}

// Open opens (creating if needed) the history database at path. Parent
// directories are created.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("history: set journal mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout=3000`); err != nil {
		return fmt.Errorf("history: set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		status TEXT NOT NULL,
		response TEXT NOT NULL DEFAULT '',
		sql_text TEXT NOT NULL DEFAULT '',
		error_category TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		from_cache INTEGER NOT NULL DEFAULT 0,
		row_count INTEGER NOT NULL DEFAULT 0,
		created_at_unix_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at_unix_ms);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record appends one terminal run and returns its id. CreatedAt defaults
// to now when unset.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (question, status, response, sql_text, error_category,
		                   request_id, trace_id, duration_ms, from_cache, row_count,
		                   created_at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Question, e.Status, e.Response, e.SQL, e.ErrorCategory,
		e.RequestID, e.TraceID, e.Duration.Milliseconds(), e.FromCache, e.RowCount,
		createdAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("history: record run: %w", err)
	}
	return res.LastInsertId()
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, status, response, sql_text, error_category,
		        request_id, trace_id, duration_ms, from_cache, row_count,
		        created_at_unix_ms
		 FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMS, createdMS int64
		if err := rows.Scan(
			&e.ID, &e.Question, &e.Status, &e.Response, &e.SQL, &e.ErrorCategory,
			&e.RequestID, &e.TraceID, &durationMS, &e.FromCache, &e.RowCount,
			&createdMS,
		); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdMS).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count runs: %w", err)
	}
	return n, nil
}

// Purge deletes all recorded runs.
func (s *Store) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return fmt.Errorf("history: purge: %w", err)
	}
	return nil
}
