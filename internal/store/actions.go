package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AppendAction persists one captured request and returns its assigned id.
// The call never touches the network and succeeds unless storage itself
// fails, in which case the error is surfaced to the caller.
func (s *Store) AppendAction(ctx context.Context, action PendingAction) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	action.Method = strings.ToUpper(strings.TrimSpace(action.Method))
	action.URL = strings.TrimSpace(action.URL)
	if action.Method == "" {
		return 0, fmt.Errorf("action method is required")
	}
	if action.URL == "" {
		return 0, fmt.Errorf("action url is required")
	}
	if action.ContentType == "" {
		action.ContentType = "application/json"
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO pending_actions (method, url, body, content_type, created_at, attempts, next_attempt_at, last_error)
VALUES (?, ?, ?, ?, ?, 0, 0, '')
`,
		action.Method,
		action.URL,
		action.Body,
		action.ContentType,
		action.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("append action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read assigned action id: %w", err)
	}
	return id, nil
}

// ListActions returns all pending actions in insertion order. The read runs
// inside a transaction so no partially written record is ever visible.
func (s *Store) ListActions(ctx context.Context) ([]PendingAction, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin list tx: %w", err)
	}
	defer rollback(tx)

	rows, err := tx.QueryContext(ctx, `
SELECT id, method, url, body, content_type, attempts, next_attempt_at, last_error, created_at
FROM pending_actions
ORDER BY id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []PendingAction
	for rows.Next() {
		var (
			a           PendingAction
			createdAt   int64
			nextAttempt int64
		)
		if err := rows.Scan(&a.ID, &a.Method, &a.URL, &a.Body, &a.ContentType, &a.Attempts, &nextAttempt, &a.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		if nextAttempt > 0 {
			a.NextAttempt = time.UnixMilli(nextAttempt).UTC()
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, tx.Commit()
}

// RemoveAction deletes one pending action. Removing an id that does not
// exist is not an error.
func (s *Store) RemoveAction(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove action %d: %w", id, err)
	}
	return nil
}

// MarkActionFailure records one failed replay attempt and the earliest time
// the record may be retried. The captured request payload is not touched.
func (s *Store) MarkActionFailure(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE pending_actions
SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
WHERE id = ?
`,
		nextAttempt.UTC().UnixMilli(), lastError, id)
	if err != nil {
		return fmt.Errorf("mark action failure %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark action failure %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("mark action failure %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeadLetterAction moves one pending action to the dead-letter collection.
// The move is a single transaction scoped to this record.
func (s *Store) DeadLetterAction(ctx context.Context, id int64, lastError string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer rollback(tx)

	var (
		a         PendingAction
		createdAt int64
	)
	row := tx.QueryRowContext(ctx, `
SELECT id, method, url, body, content_type, attempts, created_at
FROM pending_actions WHERE id = ?
`, id)
	if err := row.Scan(&a.ID, &a.Method, &a.URL, &a.Body, &a.ContentType, &a.Attempts, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load action %d: %w", id, err)
	}
	a.CreatedAt = time.UnixMilli(createdAt).UTC()

	payload, err := json.Marshal(map[string]any{
		"method":       a.Method,
		"url":          a.URL,
		"body":         string(a.Body),
		"content_type": a.ContentType,
		"created_at":   a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode dead-letter payload: %w", err)
	}

	// The move itself is the final failed attempt; book it so the dead
	// letter records the full attempt count.
	if _, err := tx.ExecContext(ctx, `
INSERT INTO dead_letters (queue, record_id, payload, attempts, last_error, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		string(QueueActions), a.ID, string(payload), a.Attempts+1, lastError, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove dead-lettered action %d: %w", id, err)
	}
	return tx.Commit()
}

// CountActions reports the number of pending actions.
func (s *Store) CountActions(ctx context.Context) (int64, error) {
	return s.count(ctx, "pending_actions")
}

func (s *Store) count(ctx context.Context, table string) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var n int64
	// table is one of the fixed collection names, never caller input.
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
