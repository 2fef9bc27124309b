package eventsrc

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Ticket lifecycle event types emitted by the ingestion pipeline.
const (
	TicketDiscovered          = "TicketDiscovered"
	TicketPriceChanged        = "TicketPriceChanged"
	TicketAvailabilityChanged = "TicketAvailabilityChanged"
	TicketSoldOut             = "TicketSoldOut"
)

// DomainEvent is an immutable fact recorded in the event store.
// Position is the event's absolute offset in the store; positions are
// strictly increasing and gap-free within the store's visible range.
type DomainEvent struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	AggregateRootID string          `json:"aggregate_root_id"`
	Payload         json.RawMessage `json:"payload"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Position        int64           `json:"position"`
}
