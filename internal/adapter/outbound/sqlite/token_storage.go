// Package sqlite provides a SQLite-backed token storage.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

const defaultOpTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS session_tokens (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// TokenStorage implements token.Storage on a SQLite table.
type TokenStorage struct {
	db        *sql.DB
	opTimeout time.Duration
	now       func() time.Time
}

var _ token.Storage = (*TokenStorage)(nil)

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*TokenStorage, error) {
	dsn := path
	if path != ":memory:" {
		q := url.Values{}
		q.Add("_pragma", "busy_timeout(5000)")
		q.Add("_pragma", "journal_mode(WAL)")
		dsn = "file:" + path + "?" + q.Encode()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := New(db)
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. The caller is responsible for the
// schema; use Open for a ready-to-use storage.
func New(db *sql.DB) *TokenStorage {
	return &TokenStorage{
		db:        db,
		opTimeout: defaultOpTimeout,
		now:       time.Now,
	}
}

func (s *TokenStorage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Get implements token.Storage.
func (s *TokenStorage) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session_tokens WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", token.ErrStorageUnavailable, err)
	}
	return value, true, nil
}

// Set implements token.Storage.
func (s *TokenStorage) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_tokens (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", token.ErrStorageUnavailable, err)
	}
	return nil
}

// Delete implements token.Storage.
func (s *TokenStorage) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: %v", token.ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the database.
func (s *TokenStorage) Close() error {
	return s.db.Close()
}
