package eventsrc

import "context"

// Store defines the read side of the event log consumed by the projection
// engine. Appending, snapshotting and subscriptions are the producer's
// concern and are not part of this contract.
type Store interface {
	// LoadAllEvents returns up to limit events with position strictly
	// greater than fromPosition, ascending by position. A result shorter
	// than limit means the end of the store has been reached; rebuild
	// loops use that as their termination signal.
	LoadAllEvents(ctx context.Context, fromPosition int64, limit int) ([]DomainEvent, error)
}
