package projection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/seatwatch/projector/eventsrc"
)

// Projection is a unit of materialization logic. Implementations derive a
// queryable read model from the stream of domain events.
type Projection interface {
	// Name returns the stable, unique identifier used as the checkpoint
	// and failure-log key.
	Name() string
	// HandledEventTypes returns the event types this projection consumes.
	HandledEventTypes() []string
	// Handles reports whether the projection consumes the given event
	// type. It must agree with HandledEventTypes.
	Handles(eventType string) bool
	// Project applies one event to the materialized state. It must be
	// safe to call with a replayed sequence that starts from a reset
	// state; rebuild correctness depends on this.
	Project(ctx context.Context, evt eventsrc.DomainEvent) error
	// Reset irreversibly clears all materialized state for this
	// projection. It is called before a rebuild begins.
	Reset(ctx context.Context) error
	// State returns a cheap, read-only diagnostic summary (counts,
	// last-updated time), not the full materialized dataset.
	State(ctx context.Context) (json.RawMessage, error)
}

// Checkpoint is the persisted replay position and lock state of one
// registered projection.
type Checkpoint struct {
	ProjectionName       string
	Position             int64
	LastProcessedEventID *uuid.UUID
	LastUpdatedAt        time.Time
	IsLocked             bool
	LockedBy             *string
	LockedAt             *time.Time
	State                json.RawMessage
}

// CheckpointStore persists per-projection replay positions and rebuild
// lock ownership.
type CheckpointStore interface {
	// Initialize idempotently creates the checkpoint row for a
	// projection with position 0 and no lock held.
	Initialize(ctx context.Context, name string) error
	// Get returns the checkpoint row for a projection.
	Get(ctx context.Context, name string) (Checkpoint, error)
	// Advance moves the checkpoint forward by one event. When the
	// context carries a transaction the update joins it, so the
	// materialization and the checkpoint advance commit together.
	Advance(ctx context.Context, name string, eventID uuid.UUID) error
	// SavePosition overwrites the checkpoint position after a rebuild
	// batch has been applied.
	SavePosition(ctx context.Context, name string, position int64) error
	// AcquireLock atomically transitions the row from unlocked to
	// locked, storing the owner token. It returns ErrLockNotAcquired
	// without blocking when the lock is already held.
	AcquireLock(ctx context.Context, name, owner string) error
	// ReleaseLock unconditionally clears the lock. It is also the
	// operator's escape hatch for a lock left behind by a crashed
	// process.
	ReleaseLock(ctx context.Context, name string) error
}

// FailureStore records per-event, per-projection processing failures for
// later retry or manual inspection.
type FailureStore interface {
	Record(ctx context.Context, rec FailureRecord) error
}

// TransactionalHandler defines a function that executes business logic within a transaction.
type TransactionalHandler func(ctx context.Context) error

// Transactor defines an interface for an object that can execute a function within a transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn TransactionalHandler) error
}
