package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/seatwatch/projector/eventsrc"
)

// ProjectionName is the checkpoint and failure-log key of the ticket read
// model projection.
const ProjectionName = "ticket_read_model"

var handledEventTypes = []string{
	eventsrc.TicketDiscovered,
	eventsrc.TicketPriceChanged,
	eventsrc.TicketAvailabilityChanged,
	eventsrc.TicketSoldOut,
}

// Projection materializes the four ticket lifecycle events into the
// ticket read model table.
type Projection struct {
	repo    Repository
	handled map[string]struct{}
}

// NewProjection creates the ticket read model projection.
func NewProjection(repo Repository) *Projection {
	handled := make(map[string]struct{}, len(handledEventTypes))
	for _, t := range handledEventTypes {
		handled[t] = struct{}{}
	}
	return &Projection{repo: repo, handled: handled}
}

func (p *Projection) Name() string { return ProjectionName }

func (p *Projection) HandledEventTypes() []string {
	types := make([]string, len(handledEventTypes))
	copy(types, handledEventTypes)
	return types
}

func (p *Projection) Handles(eventType string) bool {
	_, ok := p.handled[eventType]
	return ok
}

// Project applies one event to the materialized state.
func (p *Projection) Project(ctx context.Context, evt eventsrc.DomainEvent) error {
	switch evt.EventType {
	case eventsrc.TicketDiscovered:
		return p.applyDiscovered(ctx, evt)
	case eventsrc.TicketPriceChanged:
		return p.applyPriceChanged(ctx, evt)
	case eventsrc.TicketAvailabilityChanged:
		return p.applyAvailabilityChanged(ctx, evt)
	case eventsrc.TicketSoldOut:
		return p.applySoldOut(ctx, evt)
	default:
		return nil
	}
}

// Reset truncates all materialized rows.
func (p *Projection) Reset(ctx context.Context) error {
	if err := p.repo.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate ticket read models: %w", err)
	}
	return nil
}

// State returns aggregate counts over the read model table.
func (p *Projection) State(ctx context.Context) (json.RawMessage, error) {
	summary, err := p.repo.Summarize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize ticket read models: %w", err)
	}
	state, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ticket summary: %w", err)
	}
	return state, nil
}

func (p *Projection) applyDiscovered(ctx context.Context, evt eventsrc.DomainEvent) error {
	var payload DiscoveredPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal TicketDiscovered payload: %w", err)
	}

	rm, err := p.repo.Find(ctx, payload.TicketID)
	if err != nil {
		return fmt.Errorf("failed to look up ticket %q: %w", payload.TicketID, err)
	}

	occurredAt := evt.OccurredAt
	if rm == nil {
		firstDiscovered := occurredAt
		rm = &ReadModel{
			TicketID:            payload.TicketID,
			OriginalPrice:       payload.Price,
			FirstDiscoveredAt:   &firstDiscovered,
			PriceHistory:        []PricePoint{},
			AvailabilityHistory: []AvailabilityPoint{},
		}
	}

	rm.PlatformSource = payload.PlatformSource
	rm.EventName = payload.EventName
	rm.EventCategory = payload.EventCategory
	rm.Venue = payload.Venue
	rm.EventDate = payload.EventDate
	rm.CurrentPrice = payload.Price
	rm.Currency = payload.Currency
	rm.AvailabilityStatus = StatusAvailable
	rm.AvailableQuantity = payload.Quantity
	rm.IsSoldOut = false
	rm.IsHighDemand = isHighDemand(payload.EventName, payload.Venue)
	// Coalesce-on-insert: never overwritten once set.
	if rm.FirstDiscoveredAt == nil {
		first := occurredAt
		rm.FirstDiscoveredAt = &first
	}

	rm.PriceHistory = append(rm.PriceHistory, PricePoint{
		Price:     payload.Price,
		Currency:  payload.Currency,
		Timestamp: occurredAt,
	})
	rm.AvailabilityHistory = append(rm.AvailabilityHistory, AvailabilityPoint{
		Status:    StatusAvailable,
		Timestamp: occurredAt,
	})

	rm.touch(occurredAt)
	return p.repo.Save(ctx, rm)
}

func (p *Projection) applyPriceChanged(ctx context.Context, evt eventsrc.DomainEvent) error {
	var payload PriceChangedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal TicketPriceChanged payload: %w", err)
	}

	rm, err := p.repo.Find(ctx, payload.TicketID)
	if err != nil {
		return fmt.Errorf("failed to look up ticket %q: %w", payload.TicketID, err)
	}
	if rm == nil {
		slog.WarnContext(ctx, "Price change for unknown ticket, skipping",
			"ticketID", payload.TicketID, "eventID", evt.EventID)
		return nil
	}

	rm.PriceHistory = append(rm.PriceHistory, PricePoint{
		Price:     payload.Price,
		Currency:  payload.Currency,
		Timestamp: evt.OccurredAt,
	})
	rm.CurrentPrice = payload.Price
	if payload.Currency != "" {
		rm.Currency = payload.Currency
	}

	rm.touch(evt.OccurredAt)
	return p.repo.Save(ctx, rm)
}

func (p *Projection) applyAvailabilityChanged(ctx context.Context, evt eventsrc.DomainEvent) error {
	var payload AvailabilityChangedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal TicketAvailabilityChanged payload: %w", err)
	}

	rm, err := p.repo.Find(ctx, payload.TicketID)
	if err != nil {
		return fmt.Errorf("failed to look up ticket %q: %w", payload.TicketID, err)
	}
	if rm == nil {
		slog.WarnContext(ctx, "Availability change for unknown ticket, skipping",
			"ticketID", payload.TicketID, "eventID", evt.EventID)
		return nil
	}

	rm.AvailabilityHistory = append(rm.AvailabilityHistory, AvailabilityPoint{
		Status:    payload.Status,
		Timestamp: evt.OccurredAt,
	})
	rm.AvailabilityStatus = payload.Status
	// A sold-out transition flips the flag but leaves the quantity to the
	// dedicated TicketSoldOut event.
	if payload.Status == StatusSoldOut {
		rm.IsSoldOut = true
	}

	rm.touch(evt.OccurredAt)
	return p.repo.Save(ctx, rm)
}

func (p *Projection) applySoldOut(ctx context.Context, evt eventsrc.DomainEvent) error {
	var payload SoldOutPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal TicketSoldOut payload: %w", err)
	}

	rm, err := p.repo.Find(ctx, payload.TicketID)
	if err != nil {
		return fmt.Errorf("failed to look up ticket %q: %w", payload.TicketID, err)
	}
	if rm == nil {
		slog.WarnContext(ctx, "Sold-out event for unknown ticket, skipping",
			"ticketID", payload.TicketID, "eventID", evt.EventID)
		return nil
	}

	duration := payload.DurationOnSaleMinutes
	rm.AvailabilityHistory = append(rm.AvailabilityHistory, AvailabilityPoint{
		Status:                StatusSoldOut,
		Timestamp:             evt.OccurredAt,
		DurationOnSaleMinutes: &duration,
	})
	rm.AvailabilityStatus = StatusSoldOut
	rm.IsSoldOut = true
	rm.AvailableQuantity = 0

	rm.touch(evt.OccurredAt)
	return p.repo.Save(ctx, rm)
}
