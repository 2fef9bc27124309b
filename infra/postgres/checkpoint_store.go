package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/seatwatch/projector/projection"
)

// CheckpointStore implements the projection.CheckpointStore interface for
// PostgreSQL, one row per registered projection in event_projections.
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore creates a new PostgreSQL checkpoint store.
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Initialize idempotently creates the checkpoint row with position 0 and
// no lock held.
func (s *CheckpointStore) Initialize(ctx context.Context, name string) error {
	query := `
        INSERT INTO event_projections (projection_name, position, is_locked, last_updated_at)
        VALUES ($1, 0, FALSE, NOW())
        ON CONFLICT (projection_name) DO NOTHING
    `
	if _, err := s.db.conn(ctx).Exec(ctx, query, name); err != nil {
		return fmt.Errorf("failed to initialize checkpoint for %q: %w", name, err)
	}
	return nil
}

// Get returns the checkpoint row for a projection.
func (s *CheckpointStore) Get(ctx context.Context, name string) (projection.Checkpoint, error) {
	query := `
        SELECT projection_name, position, last_processed_event_id, last_updated_at,
               is_locked, locked_by, locked_at, state
        FROM event_projections
        WHERE projection_name = $1
    `
	var cp projection.Checkpoint
	err := s.db.conn(ctx).QueryRow(ctx, query, name).Scan(
		&cp.ProjectionName,
		&cp.Position,
		&cp.LastProcessedEventID,
		&cp.LastUpdatedAt,
		&cp.IsLocked,
		&cp.LockedBy,
		&cp.LockedAt,
		&cp.State,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return projection.Checkpoint{}, fmt.Errorf("no checkpoint row for projection %q", name)
		}
		return projection.Checkpoint{}, fmt.Errorf("failed to load checkpoint for %q: %w", name, err)
	}
	return cp, nil
}

// Advance moves the checkpoint forward by one event. The statement runs
// on the transaction carried by the context when there is one, so the
// materialization and the checkpoint advance commit together.
func (s *CheckpointStore) Advance(ctx context.Context, name string, eventID uuid.UUID) error {
	query := `
        UPDATE event_projections
        SET position = position + 1,
            last_processed_event_id = $2,
            last_updated_at = NOW()
        WHERE projection_name = $1
    `
	tag, err := s.db.conn(ctx).Exec(ctx, query, name, eventID)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint for %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no checkpoint row for projection %q", name)
	}
	return nil
}

// SavePosition overwrites the checkpoint position after a rebuild batch.
func (s *CheckpointStore) SavePosition(ctx context.Context, name string, position int64) error {
	query := `
        UPDATE event_projections
        SET position = $2,
            last_updated_at = NOW()
        WHERE projection_name = $1
    `
	tag, err := s.db.conn(ctx).Exec(ctx, query, name, position)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint position for %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no checkpoint row for projection %q", name)
	}
	return nil
}

// AcquireLock transitions the row from unlocked to locked with a single
// conditional update. Zero affected rows means the lock is already held
// (or the row is missing) and the caller gets ErrLockNotAcquired without
// any waiting.
func (s *CheckpointStore) AcquireLock(ctx context.Context, name, owner string) error {
	query := `
        UPDATE event_projections
        SET is_locked = TRUE,
            locked_by = $2,
            locked_at = NOW()
        WHERE projection_name = $1 AND is_locked = FALSE
    `
	tag, err := s.db.conn(ctx).Exec(ctx, query, name, owner)
	if err != nil {
		return fmt.Errorf("failed to lock projection %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", projection.ErrLockNotAcquired, name)
	}
	return nil
}

// ReleaseLock unconditionally clears the lock.
func (s *CheckpointStore) ReleaseLock(ctx context.Context, name string) error {
	query := `
        UPDATE event_projections
        SET is_locked = FALSE,
            locked_by = NULL,
            locked_at = NULL
        WHERE projection_name = $1
    `
	if _, err := s.db.conn(ctx).Exec(ctx, query, name); err != nil {
		return fmt.Errorf("failed to unlock projection %q: %w", name, err)
	}
	return nil
}
