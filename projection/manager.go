package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/seatwatch/projector/eventsrc"
)

// DefaultRebuildBatchSize is the number of events pulled from the event
// store per rebuild iteration.
const DefaultRebuildBatchSize = 1000

// Status is the merged view of a projection's checkpoint row and its live
// diagnostic state.
type Status struct {
	ProjectionName       string          `json:"projection_name"`
	Position             int64           `json:"position"`
	LastProcessedEventID *uuid.UUID      `json:"last_processed_event_id,omitempty"`
	LastUpdatedAt        time.Time       `json:"last_updated_at"`
	IsLocked             bool            `json:"is_locked"`
	LockedBy             *string         `json:"locked_by,omitempty"`
	LockedAt             *time.Time      `json:"locked_at,omitempty"`
	HandledEventTypes    []string        `json:"handled_event_types"`
	State                json.RawMessage `json:"state,omitempty"`
}

// Manager owns the registry of projections, fans live events out to every
// matching projection, and orchestrates rebuilds against the event store.
// One manager instance per process; the registry is populated by Register
// calls at startup and is not safe for concurrent mutation afterwards.
type Manager struct {
	store       eventsrc.Store
	checkpoints CheckpointStore
	failures    FailureStore
	transactor  Transactor
	projections map[string]Projection
	names       []string
	batchSize   int
	retryDelay  time.Duration
	strict      bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBatchSize overrides the rebuild batch size.
func WithBatchSize(size int) ManagerOption {
	return func(m *Manager) {
		m.batchSize = size
	}
}

// WithRetryDelay overrides the fixed backoff applied to new failure
// records.
func WithRetryDelay(delay time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retryDelay = delay
	}
}

// WithStrictRegistration makes Register return checkpoint initialization
// errors instead of logging and swallowing them. The default soft-fail
// keeps a misbehaving database from blocking process boot, at the cost of
// a silently uninitialized checkpoint.
func WithStrictRegistration() ManagerOption {
	return func(m *Manager) {
		m.strict = true
	}
}

// NewManager creates a projection manager.
func NewManager(
	store eventsrc.Store,
	checkpoints CheckpointStore,
	failures FailureStore,
	transactor Transactor,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		store:       store,
		checkpoints: checkpoints,
		failures:    failures,
		transactor:  transactor,
		projections: make(map[string]Projection),
		batchSize:   DefaultRebuildBatchSize,
		retryDelay:  DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Register adds a projection to the registry and idempotently ensures its
// checkpoint row exists. Under the default soft-fail mode an
// initialization error is logged and swallowed so that registration never
// fails the hosting process's boot sequence.
func (m *Manager) Register(ctx context.Context, p Projection) error {
	name := p.Name()
	if _, exists := m.projections[name]; exists {
		return fmt.Errorf("projection %q is already registered", name)
	}

	m.projections[name] = p
	m.names = append(m.names, name)

	if err := m.checkpoints.Initialize(ctx, name); err != nil {
		if m.strict {
			return fmt.Errorf("failed to initialize checkpoint for projection %q: %w", name, err)
		}
		slog.ErrorContext(ctx, "Failed to initialize projection checkpoint, continuing",
			"projection", name, "error", err)
	}

	slog.InfoContext(ctx, "Projection registered", "projection", name, "eventTypes", p.HandledEventTypes())
	return nil
}

// Projections returns the registered projection names in registration
// order.
func (m *Manager) Projections() []string {
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}

// Project dispatches one live event to every registered projection that
// handles its type. Each projection's apply and its checkpoint advance
// commit in a single transaction. Dispatch is fire-and-forget toward the
// producer: a failing projection is logged and recorded in the failure
// log, and delivery continues to the remaining projections.
func (m *Manager) Project(ctx context.Context, evt eventsrc.DomainEvent) {
	for _, name := range m.names {
		proj := m.projections[name]
		if !proj.Handles(evt.EventType) {
			continue
		}

		err := m.applyInTx(ctx, name, proj, evt)
		if err == nil {
			continue
		}

		slog.ErrorContext(ctx, "Projection failed to process event",
			"projection", name, "eventID", evt.EventID, "eventType", evt.EventType, "error", err)

		rec := newFailureRecord(proj, evt, err, m.retryDelay)
		if recErr := m.failures.Record(ctx, rec); recErr != nil {
			slog.ErrorContext(ctx, "Failed to record projection failure",
				"projection", name, "eventID", evt.EventID, "error", recErr)
		}
	}
}

// applyInTx commits one projection's apply together with its checkpoint
// advance, or neither.
func (m *Manager) applyInTx(ctx context.Context, name string, proj Projection, evt eventsrc.DomainEvent) error {
	return m.transactor.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := proj.Project(txCtx, evt); err != nil {
			return fmt.Errorf("projection handler failed: %w", err)
		}
		if err := m.checkpoints.Advance(txCtx, name, evt.EventID); err != nil {
			return fmt.Errorf("failed to advance checkpoint: %w", err)
		}
		return nil
	})
}

// Retry re-applies a previously failed event to a single projection,
// with the same apply-plus-advance transaction as live dispatch. Used by
// the failure retry worker.
func (m *Manager) Retry(ctx context.Context, name string, evt eventsrc.DomainEvent) error {
	proj, ok := m.projections[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrProjectionNotFound, name)
	}
	return m.applyInTx(ctx, name, proj, evt)
}

// RebuildAll sequentially rebuilds every registered projection from the
// given position. The first failure aborts the sequence.
func (m *Manager) RebuildAll(ctx context.Context, fromPosition int64) error {
	for _, name := range m.names {
		if err := m.Rebuild(ctx, name, fromPosition); err != nil {
			return fmt.Errorf("failed to rebuild projection %q: %w", name, err)
		}
	}
	return nil
}

// Rebuild replays the event store into a single projection: acquire the
// exclusive rebuild lock, reset the projection, replay batches from
// fromPosition, persist the checkpoint once per batch, and release the
// lock. Replay errors propagate to the caller after the lock is released;
// the projection is left in whatever partial state reset plus partial
// replay produced.
func (m *Manager) Rebuild(ctx context.Context, name string, fromPosition int64) (err error) {
	proj, ok := m.projections[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrProjectionNotFound, name)
	}

	owner := uuid.NewString()
	if err := m.checkpoints.AcquireLock(ctx, name, owner); err != nil {
		return fmt.Errorf("failed to lock projection %q for rebuild: %w", name, err)
	}
	// The lock must never be left held by a crashed rebuild.
	defer func() {
		if relErr := m.checkpoints.ReleaseLock(ctx, name); relErr != nil {
			slog.ErrorContext(ctx, "Failed to release rebuild lock",
				"projection", name, "lockedBy", owner, "error", relErr)
			if err == nil {
				err = fmt.Errorf("failed to release rebuild lock for %q: %w", name, relErr)
			}
		}
	}()

	slog.InfoContext(ctx, "Rebuild started", "projection", name, "fromPosition", fromPosition, "lockedBy", owner)

	if err := proj.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset projection %q: %w", name, err)
	}

	cursor := fromPosition
	total := 0
	for {
		events, loadErr := m.store.LoadAllEvents(ctx, cursor, m.batchSize)
		if loadErr != nil {
			return fmt.Errorf("failed to load events from position %d: %w", cursor, loadErr)
		}

		for _, evt := range events {
			if proj.Handles(evt.EventType) {
				if applyErr := proj.Project(ctx, evt); applyErr != nil {
					return fmt.Errorf("failed to apply event %s at position %d: %w",
						evt.EventID, evt.Position, applyErr)
				}
			}
			// Every event counts toward the position, handled or not.
			cursor++
			total++
		}

		if len(events) > 0 {
			if saveErr := m.checkpoints.SavePosition(ctx, name, cursor); saveErr != nil {
				return fmt.Errorf("failed to save checkpoint at position %d: %w", cursor, saveErr)
			}
		}

		// A short batch means the end of the store was reached.
		if len(events) < m.batchSize {
			break
		}
	}

	slog.InfoContext(ctx, "Rebuild finished", "projection", name, "events", total, "position", cursor)
	return nil
}

// Status returns the checkpoint row of a projection merged with its live
// diagnostic state.
func (m *Manager) Status(ctx context.Context, name string) (Status, error) {
	proj, ok := m.projections[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %q", ErrProjectionNotFound, name)
	}

	cp, err := m.checkpoints.Get(ctx, name)
	if err != nil {
		return Status{}, fmt.Errorf("failed to load checkpoint for %q: %w", name, err)
	}

	state, err := proj.State(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to load state of projection %q: %w", name, err)
	}

	return Status{
		ProjectionName:       name,
		Position:             cp.Position,
		LastProcessedEventID: cp.LastProcessedEventID,
		LastUpdatedAt:        cp.LastUpdatedAt,
		IsLocked:             cp.IsLocked,
		LockedBy:             cp.LockedBy,
		LockedAt:             cp.LockedAt,
		HandledEventTypes:    proj.HandledEventTypes(),
		State:                state,
	}, nil
}

// LockProjection acquires the exclusive lock for a projection on behalf of
// operational tooling.
func (m *Manager) LockProjection(ctx context.Context, name, owner string) error {
	if _, ok := m.projections[name]; !ok {
		return fmt.Errorf("%w: %q", ErrProjectionNotFound, name)
	}
	return m.checkpoints.AcquireLock(ctx, name, owner)
}

// UnlockProjection unconditionally releases a projection's lock. Intended
// for manual intervention on a lock left behind by a crashed rebuild.
func (m *Manager) UnlockProjection(ctx context.Context, name string) error {
	if _, ok := m.projections[name]; !ok {
		return fmt.Errorf("%w: %q", ErrProjectionNotFound, name)
	}
	return m.checkpoints.ReleaseLock(ctx, name)
}
