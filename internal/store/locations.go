package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AppendLocation persists one location sample and returns its assigned id.
func (s *Store) AppendLocation(ctx context.Context, sample LocationSample) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO pending_locations (latitude, longitude, accuracy, altitude, speed, heading, recorded_at, attempts, next_attempt_at, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, '')
`,
		sample.Latitude,
		sample.Longitude,
		sample.Accuracy,
		sample.Altitude,
		sample.Speed,
		sample.Heading,
		sample.Timestamp.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("append location: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read assigned location id: %w", err)
	}
	return id, nil
}

// ListLocations returns all pending locations in insertion order, read
// inside a transaction so no partial record is ever visible.
func (s *Store) ListLocations(ctx context.Context) ([]PendingLocation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin list tx: %w", err)
	}
	defer rollback(tx)

	rows, err := tx.QueryContext(ctx, `
SELECT id, latitude, longitude, accuracy, altitude, speed, heading, attempts, next_attempt_at, last_error, recorded_at
FROM pending_locations
ORDER BY id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var locations []PendingLocation
	for rows.Next() {
		var (
			l           PendingLocation
			recordedAt  int64
			nextAttempt int64
		)
		if err := rows.Scan(
			&l.ID,
			&l.Sample.Latitude,
			&l.Sample.Longitude,
			&l.Sample.Accuracy,
			&l.Sample.Altitude,
			&l.Sample.Speed,
			&l.Sample.Heading,
			&l.Attempts,
			&nextAttempt,
			&l.LastError,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		l.RecordedAt = time.UnixMilli(recordedAt).UTC()
		l.Sample.Timestamp = l.RecordedAt
		if nextAttempt > 0 {
			l.NextAttempt = time.UnixMilli(nextAttempt).UTC()
		}
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return locations, tx.Commit()
}

// RemoveLocation deletes one pending location. Removing an id that does not
// exist is not an error.
func (s *Store) RemoveLocation(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_locations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove location %d: %w", id, err)
	}
	return nil
}

// MarkLocationFailure records one failed delivery attempt and the earliest
// time the record may be retried.
func (s *Store) MarkLocationFailure(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE pending_locations
SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
WHERE id = ?
`,
		nextAttempt.UTC().UnixMilli(), lastError, id)
	if err != nil {
		return fmt.Errorf("mark location failure %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark location failure %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("mark location failure %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeadLetterLocation moves one pending location to the dead-letter
// collection inside a single record-scoped transaction.
func (s *Store) DeadLetterLocation(ctx context.Context, id int64, lastError string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer rollback(tx)

	var (
		l          PendingLocation
		recordedAt int64
	)
	row := tx.QueryRowContext(ctx, `
SELECT id, latitude, longitude, accuracy, altitude, speed, heading, attempts, recorded_at
FROM pending_locations WHERE id = ?
`, id)
	if err := row.Scan(
		&l.ID,
		&l.Sample.Latitude,
		&l.Sample.Longitude,
		&l.Sample.Accuracy,
		&l.Sample.Altitude,
		&l.Sample.Speed,
		&l.Sample.Heading,
		&l.Attempts,
		&recordedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load location %d: %w", id, err)
	}
	l.Sample.Timestamp = time.UnixMilli(recordedAt).UTC()

	payload, err := json.Marshal(l.Sample)
	if err != nil {
		return fmt.Errorf("encode dead-letter payload: %w", err)
	}

	// The move itself is the final failed attempt; book it so the dead
	// letter records the full attempt count.
	if _, err := tx.ExecContext(ctx, `
INSERT INTO dead_letters (queue, record_id, payload, attempts, last_error, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		string(QueueLocations), l.ID, string(payload), l.Attempts+1, lastError, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_locations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove dead-lettered location %d: %w", id, err)
	}
	return tx.Commit()
}

// CountLocations reports the number of pending locations.
func (s *Store) CountLocations(ctx context.Context) (int64, error) {
	return s.count(ctx, "pending_locations")
}

// ListDeadLetters returns dead-lettered records, newest first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, queue, record_id, payload, attempts, last_error, created_at
FROM dead_letters
ORDER BY id DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			d         DeadLetter
			queue     string
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &queue, &d.RecordID, &d.Payload, &d.Attempts, &d.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.Queue = Queue(queue)
		d.CreatedAt = time.UnixMilli(createdAt).UTC()
		letters = append(letters, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return letters, nil
}
