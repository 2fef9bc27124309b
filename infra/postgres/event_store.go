package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/seatwatch/projector/eventsrc"
)

// EventStore implements the eventsrc.Store interface for PostgreSQL.
// The projection engine only reads from the log; appending is the
// ingestion pipeline's concern.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new PostgreSQL event store.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// LoadAllEvents returns up to limit events with position strictly greater
// than fromPosition, ascending by position.
func (s *EventStore) LoadAllEvents(
	ctx context.Context,
	fromPosition int64,
	limit int,
) ([]eventsrc.DomainEvent, error) {
	query := `
        SELECT event_id, event_type, aggregate_root_id, payload, occurred_at, position
        FROM domain_events
        WHERE position > $1
        ORDER BY position ASC
        LIMIT $2
    `
	rows, err := s.db.conn(ctx).Query(ctx, query, fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query domain events: %w", err)
	}
	defer rows.Close()

	events, err := pgx.CollectRows(rows, pgx.RowToStructByPos[eventsrc.DomainEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan domain events: %w", err)
	}
	return events, nil
}
