package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

type eventPayload struct {
	UserID int64  `json:"user_id"`
	UID    string `json:"uid"`
}

func eventOutboxPayload(userID int64, uid string) []byte {
	b, _ := json.Marshal(eventPayload{UserID: userID, UID: uid})
	return b
}

func enqueueOutboxTx(ctx context.Context, tx pgx.Tx, messageType string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_messages (id, message_type, payload)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), messageType, payload)
	return err
}

// DequeueOutboxBatch pops up to limit pending-and-due rows, flipping them to
// processing in the same transaction via SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent worker goroutines never contend on the same row.
func (s *Store) DequeueOutboxBatch(ctx context.Context, limit int) ([]*store.OutboxMessage, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, message_type, payload, status, retry_count, scheduled_at, processed_at, coalesce(error_message, ''), created_at
		FROM outbox_messages
		WHERE status = 'pending' AND scheduled_at <= now()
		ORDER BY scheduled_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	var out []*store.OutboxMessage
	ids := make([]string, 0, limit)
	for rows.Next() {
		var m store.OutboxMessage
		if err := rows.Scan(&m.ID, &m.MessageType, &m.Payload, &m.Status, &m.RetryCount, &m.ScheduledAt, &m.ProcessedAt, &m.ErrorMessage, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, &m)
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE outbox_messages SET status = 'processing' WHERE id = $1`, id); err != nil {
			return nil, err
		}
	}
	for _, m := range out {
		m.Status = store.OutboxProcessing
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CompleteOutboxMessage(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages SET status = 'completed', processed_at = now() WHERE id = $1
	`, id)
	return err
}

// RetryOutboxMessage increments retry_count and reschedules the row for
// nextAttempt (the caller computes the backoff), or moves it to the terminal
// failed state once maxRetries is exceeded.
func (s *Store) RetryOutboxMessage(ctx context.Context, id, errMsg string, nextAttempt time.Time, maxRetries int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var retryCount int
	if err := tx.QueryRow(ctx, `SELECT retry_count FROM outbox_messages WHERE id = $1 FOR UPDATE`, id).Scan(&retryCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	retryCount++

	if retryCount > maxRetries {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_messages SET status = 'failed', retry_count = $1, error_message = $2 WHERE id = $3
		`, retryCount, errMsg, id); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_messages SET status = 'pending', retry_count = $1, error_message = $2, scheduled_at = $3 WHERE id = $4
		`, retryCount, errMsg, nextAttempt, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
