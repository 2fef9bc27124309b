package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/seatwatch/projector/projection"
)

// FailureStore implements the projection.FailureStore interface plus the
// queue operations the retry worker needs, backed by the append-only
// event_processing_failures table.
type FailureStore struct {
	db *DB
}

// NewFailureStore creates a new PostgreSQL failure store.
func NewFailureStore(db *DB) *FailureStore {
	return &FailureStore{db: db}
}

// Record appends one failure row.
func (s *FailureStore) Record(ctx context.Context, rec projection.FailureRecord) error {
	query := `
        INSERT INTO event_processing_failures
            (event_id, projection_name, handler_class, error_type, error_message,
             error_context, event_payload, retry_count, failed_at, retry_after, is_resolved)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE)
    `
	_, err := s.db.conn(ctx).Exec(ctx, query,
		rec.EventID,
		rec.ProjectionName,
		rec.HandlerClass,
		rec.ErrorType,
		rec.ErrorMessage,
		rec.ErrorContext,
		rec.EventPayload,
		rec.RetryCount,
		rec.FailedAt,
		rec.RetryAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to record projection failure: %w", err)
	}
	return nil
}

// ListDue returns up to limit unresolved failures whose retryAfter has
// passed, oldest first.
func (s *FailureStore) ListDue(ctx context.Context, limit int) ([]projection.FailureRecord, error) {
	query := `
        SELECT id, event_id, projection_name, handler_class, error_type, error_message,
               error_context, event_payload, retry_count, failed_at, retry_after, is_resolved
        FROM event_processing_failures
        WHERE is_resolved = FALSE AND retry_after <= NOW()
        ORDER BY retry_after ASC
        LIMIT $1
    `
	rows, err := s.db.conn(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due failures: %w", err)
	}
	defer rows.Close()

	recs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[projection.FailureRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to scan failure rows: %w", err)
	}
	return recs, nil
}

// MarkResolved flags a failure after a successful re-attempt.
func (s *FailureStore) MarkResolved(ctx context.Context, id int64) error {
	query := `UPDATE event_processing_failures SET is_resolved = TRUE WHERE id = $1`
	if _, err := s.db.conn(ctx).Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark failure %d resolved: %w", id, err)
	}
	return nil
}

// Reschedule increments the retry count and extends the retryAfter
// timestamp after a repeat failure.
func (s *FailureStore) Reschedule(ctx context.Context, id int64, retryAfter time.Time) error {
	query := `
        UPDATE event_processing_failures
        SET retry_count = retry_count + 1,
            retry_after = $2
        WHERE id = $1
    `
	if _, err := s.db.conn(ctx).Exec(ctx, query, id, retryAfter); err != nil {
		return fmt.Errorf("failed to reschedule failure %d: %w", id, err)
	}
	return nil
}
