package seenset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS seen_keys (
	key      TEXT PRIMARY KEY,
	added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite is a file-backed seen-set. A single file serves one scraper
// process; it survives restarts, which is what keeps notifications from
// repeating across runs.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and ensures the schema.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time keeps "database is locked" errors away under
	// the dispatcher's serial add pattern.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Contains reports whether the key was added before.
func (s *SQLite) Contains(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM seen_keys WHERE key = ?", key).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query seen key: %w", err)
	}
	return true, nil
}

// Add records the key. Re-adding is a no-op.
func (s *SQLite) Add(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO seen_keys (key) VALUES (?)", key); err != nil {
		return fmt.Errorf("insert seen key: %w", err)
	}
	return nil
}

// Count returns the number of stored keys.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_keys").Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen keys: %w", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
