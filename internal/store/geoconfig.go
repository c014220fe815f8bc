package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Geolocation configuration keys. The worker persists its tracking settings
// here so a restarted worker rebuilds the same state.
const (
	ConfigTrackingEnabled  = "tracking_enabled"
	ConfigTrackingInterval = "tracking_interval_ms"
	ConfigLastPosition     = "last_position"
)

// GetConfig returns the value for a geolocation configuration key, or
// ErrNotFound if the key has never been set.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}

	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM geo_config WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get config %q: %w", key, err)
	}
	return value, nil
}

// SetConfig stores the value for a geolocation configuration key.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("config key is required")
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO geo_config (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value
`, key, value); err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}
