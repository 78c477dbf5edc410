package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/notification-dispatch/internal/notification"
)

// BatchEvent is one pending row of a coalescing batch. Data holds the
// event payload exactly as it arrived; it is re-validated when the
// batch is flushed.
type BatchEvent struct {
	ID        int64
	UserID    string
	Type      notification.Type
	Data      json.RawMessage
	CreatedAt time.Time
}

// AppendToBatch adds the event to the (user, type) batch. The insert is
// the atomicity boundary; a batch exists exactly while it has rows.
func (s *Store) AppendToBatch(ctx context.Context, event *notification.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("serialize batch payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_notifications (user_id, type, data, created_at)
		VALUES ($1, $2, $3, $4)
	`, event.UserID, string(event.Type), data, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append to batch %s/%s: %w", event.UserID, event.Type, err)
	}
	return nil
}

// BatchOldest returns the timestamp of the oldest pending row, the
// anchor of the flush deadline. ErrNotFound when the batch is empty.
func (s *Store) BatchOldest(ctx context.Context, userID string, t notification.Type) (time.Time, error) {
	var oldest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(created_at) FROM batch_notifications
		WHERE user_id = $1 AND type = $2
	`, userID, string(t)).Scan(&oldest)
	if err != nil {
		return time.Time{}, fmt.Errorf("batch oldest %s/%s: %w", userID, t, err)
	}
	if !oldest.Valid {
		return time.Time{}, fmt.Errorf("batch %s/%s: %w", userID, t, ErrNotFound)
	}
	return oldest.Time.UTC(), nil
}

// GetBatch returns the pending rows in insertion order.
func (s *Store) GetBatch(ctx context.Context, userID string, t notification.Type) ([]BatchEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data, created_at FROM batch_notifications
		WHERE user_id = $1 AND type = $2
		ORDER BY id
	`, userID, string(t))
	if err != nil {
		return nil, fmt.Errorf("get batch %s/%s: %w", userID, t, err)
	}
	defer rows.Close()

	var events []BatchEvent
	for rows.Next() {
		ev := BatchEvent{UserID: userID, Type: t}
		if err := rows.Scan(&ev.ID, &ev.Data, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch rows: %w", err)
	}
	return events, nil
}

// EmptyBatch removes every pending row for (user, type). Used when the
// user is ineligible or unreachable and the batch is discarded unsent.
func (s *Store) EmptyBatch(ctx context.Context, userID string, t notification.Type) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM batch_notifications WHERE user_id = $1 AND type = $2
	`, userID, string(t))
	if err != nil {
		return fmt.Errorf("empty batch %s/%s: %w", userID, t, err)
	}
	return nil
}

// EmptyBatchThrough removes rows up to and including maxID. Flushes use
// this instead of EmptyBatch so an event appended between the batch
// read and the delete survives for the next flush.
func (s *Store) EmptyBatchThrough(ctx context.Context, userID string, t notification.Type, maxID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM batch_notifications
		WHERE user_id = $1 AND type = $2 AND id <= $3
	`, userID, string(t), maxID)
	if err != nil {
		return fmt.Errorf("empty batch %s/%s through %d: %w", userID, t, maxID, err)
	}
	return nil
}

// BatchUserIDs lists users with a pending batch of the given type, the
// work list for the sweep.
func (s *Store) BatchUserIDs(ctx context.Context, t notification.Type) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM batch_notifications
		WHERE type = $1
		ORDER BY user_id
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("list batches for %s: %w", t, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch user ids: %w", err)
	}
	return ids, nil
}
