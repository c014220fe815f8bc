// Package store provides the durable outbox store for the sync agent.
//
// The store owns four independent collections: pending actions, pending
// locations, cached response snapshots and the worker's geolocation
// configuration. It is the single source of truth for work not yet
// acknowledged by the remote API: a record exists until the replay attempt
// for that exact record succeeds, and is deleted inside the same pass that
// observed the success.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Queue identifies one of the two outbox collections.
type Queue string

const (
	// QueueActions holds captured mutating requests awaiting replay.
	QueueActions Queue = "actions"

	// QueueLocations holds location samples awaiting delivery. Location
	// writes get a dedicated queue because they target a fixed endpoint and
	// arrive at a much higher rate than generic actions.
	QueueLocations Queue = "locations"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store is closed")
)

// Store provides SQLite-backed persistence for the agent's collections.
type Store struct {
	db *sql.DB
}

// Open opens the store at the given path and applies any pending schema
// migrations. Opening an existing database never drops collections or rows:
// upgrades are purely additive.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	return nil
}
