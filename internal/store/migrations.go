package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations holds the ordered schema upgrade steps. The database's
// PRAGMA user_version records the last applied step. Steps only add tables
// and columns; existing rows are never rewritten or dropped.
var migrations = []string{
	// v1: the four base collections.
	`
CREATE TABLE IF NOT EXISTS pending_actions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	method      TEXT NOT NULL,
	url         TEXT NOT NULL,
	body        BLOB,
	content_type TEXT NOT NULL DEFAULT 'application/json',
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_locations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	latitude    REAL NOT NULL,
	longitude   REAL NOT NULL,
	accuracy    REAL NOT NULL DEFAULT 0,
	altitude    REAL NOT NULL DEFAULT 0,
	speed       REAL NOT NULL DEFAULT 0,
	heading     REAL NOT NULL DEFAULT 0,
	recorded_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	generation  TEXT NOT NULL,
	cache_key   TEXT NOT NULL,
	status      INTEGER NOT NULL,
	headers     TEXT NOT NULL DEFAULT '{}',
	body        BLOB,
	stored_at   INTEGER NOT NULL,
	PRIMARY KEY (generation, cache_key)
);
CREATE TABLE IF NOT EXISTS geo_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`,
	// v2: bounded-retry bookkeeping and the dead-letter collection.
	`
ALTER TABLE pending_actions ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0;
ALTER TABLE pending_actions ADD COLUMN next_attempt_at INTEGER NOT NULL DEFAULT 0;
ALTER TABLE pending_actions ADD COLUMN last_error TEXT NOT NULL DEFAULT '';
ALTER TABLE pending_locations ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0;
ALTER TABLE pending_locations ADD COLUMN next_attempt_at INTEGER NOT NULL DEFAULT 0;
ALTER TABLE pending_locations ADD COLUMN last_error TEXT NOT NULL DEFAULT '';
CREATE TABLE IF NOT EXISTS dead_letters (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	queue       TEXT NOT NULL,
	record_id   INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
`,
}

// migrate applies all schema steps beyond the database's current version.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		if err := s.applyMigration(ctx, i); err != nil {
			return fmt.Errorf("apply schema version %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, index int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, migrations[index]); err != nil {
		return err
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", index+1)); err != nil {
		return fmt.Errorf("bump schema version: %w", err)
	}
	return tx.Commit()
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
