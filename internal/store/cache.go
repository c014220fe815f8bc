package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PutEntry stores a response snapshot for the given generation and key,
// replacing any previous snapshot for the same pair. There is never more
// than one entry per key per generation.
func (s *Store) PutEntry(ctx context.Context, entry CacheEntry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if entry.Generation == "" {
		return fmt.Errorf("cache entry generation is required")
	}
	if entry.Key == "" {
		return fmt.Errorf("cache entry key is required")
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	headers := entry.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("encode cache headers: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
INSERT INTO cache_entries (generation, cache_key, status, headers, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (generation, cache_key) DO UPDATE SET
	status = excluded.status,
	headers = excluded.headers,
	body = excluded.body,
	stored_at = excluded.stored_at
`,
		entry.Generation,
		entry.Key,
		entry.Status,
		string(encoded),
		entry.Body,
		entry.StoredAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// GetEntry returns the snapshot for a generation and key, or ErrNotFound.
func (s *Store) GetEntry(ctx context.Context, generation, key string) (CacheEntry, error) {
	if err := s.ready(ctx); err != nil {
		return CacheEntry{}, err
	}

	var (
		entry    CacheEntry
		headers  string
		storedAt int64
	)
	row := s.db.QueryRowContext(ctx, `
SELECT generation, cache_key, status, headers, body, stored_at
FROM cache_entries
WHERE generation = ? AND cache_key = ?
`, generation, key)
	if err := row.Scan(&entry.Generation, &entry.Key, &entry.Status, &headers, &entry.Body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CacheEntry{}, ErrNotFound
		}
		return CacheEntry{}, fmt.Errorf("get cache entry: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &entry.Headers); err != nil {
		return CacheEntry{}, fmt.Errorf("decode cache headers: %w", err)
	}
	entry.StoredAt = time.UnixMilli(storedAt).UTC()
	return entry, nil
}

// PurgeGenerationsExcept atomically deletes every cache entry whose
// generation does not match the given one. It returns the number of entries
// removed.
func (s *Store) PurgeGenerationsExcept(ctx context.Context, generation string) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE generation != ?`, generation)
	if err != nil {
		return 0, fmt.Errorf("purge stale generations: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge stale generations: %w", err)
	}
	return purged, nil
}

// DeleteGeneration removes every entry belonging to one generation. Used to
// discard a partially preloaded generation after a failed install.
func (s *Store) DeleteGeneration(ctx context.Context, generation string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE generation = ?`, generation); err != nil {
		return fmt.Errorf("delete generation %q: %w", generation, err)
	}
	return nil
}

// ListGenerations returns the distinct generations currently present.
func (s *Store) ListGenerations(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT generation FROM cache_entries ORDER BY generation`)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var generations []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		generations = append(generations, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return generations, nil
}
