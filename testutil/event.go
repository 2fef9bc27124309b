package testutil

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatwatch/projector/eventsrc"
	"github.com/seatwatch/projector/ticket"
)

// NewEvent builds a domain event with a marshaled payload. Panics on
// marshal failure; payloads in tests are plain structs.
func NewEvent(eventType, aggregateRootID string, payload any, occurredAt time.Time, position int64) eventsrc.DomainEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Panicf("failed to marshal test payload: %s", err)
	}
	return eventsrc.DomainEvent{
		EventID:         uuid.New(),
		EventType:       eventType,
		AggregateRootID: aggregateRootID,
		Payload:         data,
		OccurredAt:      occurredAt,
		Position:        position,
	}
}

// NewDiscoveredEvent builds a TicketDiscovered event with sensible
// defaults for fields tests rarely care about.
func NewDiscoveredEvent(ticketID string, price float64, quantity int, occurredAt time.Time, position int64) eventsrc.DomainEvent {
	return NewEvent(eventsrc.TicketDiscovered, ticketID, ticket.DiscoveredPayload{
		TicketID:       ticketID,
		PlatformSource: "stubhub",
		EventName:      "Mid-table fixture",
		EventCategory:  "football",
		Venue:          "Local Stadium",
		Price:          price,
		Currency:       "EUR",
		Quantity:       quantity,
	}, occurredAt, position)
}

// NewPriceChangedEvent builds a TicketPriceChanged event.
func NewPriceChangedEvent(ticketID string, price float64, occurredAt time.Time, position int64) eventsrc.DomainEvent {
	return NewEvent(eventsrc.TicketPriceChanged, ticketID, ticket.PriceChangedPayload{
		TicketID: ticketID,
		Price:    price,
		Currency: "EUR",
	}, occurredAt, position)
}

// NewAvailabilityChangedEvent builds a TicketAvailabilityChanged event.
func NewAvailabilityChangedEvent(ticketID, status string, occurredAt time.Time, position int64) eventsrc.DomainEvent {
	return NewEvent(eventsrc.TicketAvailabilityChanged, ticketID, ticket.AvailabilityChangedPayload{
		TicketID: ticketID,
		Status:   status,
	}, occurredAt, position)
}

// NewSoldOutEvent builds a TicketSoldOut event.
func NewSoldOutEvent(ticketID string, durationMinutes int, occurredAt time.Time, position int64) eventsrc.DomainEvent {
	return NewEvent(eventsrc.TicketSoldOut, ticketID, ticket.SoldOutPayload{
		TicketID:              ticketID,
		DurationOnSaleMinutes: durationMinutes,
	}, occurredAt, position)
}

// InsertEvents appends events to the domain_events table, preserving
// their positions. Used to seed the log for integration tests.
func InsertEvents(ctx context.Context, pool *pgxpool.Pool, events ...eventsrc.DomainEvent) error {
	stmt := `
        INSERT INTO domain_events (position, event_id, event_type, aggregate_root_id, payload, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	for _, evt := range events {
		_, err := pool.Exec(ctx, stmt,
			evt.Position, evt.EventID, evt.EventType, evt.AggregateRootID, evt.Payload, evt.OccurredAt)
		if err != nil {
			return err
		}
	}
	return nil
}
