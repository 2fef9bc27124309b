package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/seatwatch/projector/ticket"
)

// TicketReadModelRepository implements the ticket.Repository interface
// for PostgreSQL. The history arrays are stored as JSONB blobs and
// read-modify-written on every event; ordering and append-only semantics
// are the projection's responsibility.
type TicketReadModelRepository struct {
	db *DB
}

// NewTicketReadModelRepository creates a new PostgreSQL ticket read model
// repository.
func NewTicketReadModelRepository(db *DB) *TicketReadModelRepository {
	return &TicketReadModelRepository{db: db}
}

// Find returns the read model for a ticket id, or nil when no row exists.
func (r *TicketReadModelRepository) Find(ctx context.Context, ticketID string) (*ticket.ReadModel, error) {
	query := `
        SELECT ticket_id, platform_source, event_name, event_category, venue, event_date,
               current_price, original_price, currency, availability_status, available_quantity,
               is_high_demand, is_sold_out, price_history, availability_history,
               first_discovered_at, last_updated_at, version
        FROM ticket_read_models
        WHERE ticket_id = $1
    `
	var rm ticket.ReadModel
	var priceHistory, availabilityHistory []byte
	err := r.db.conn(ctx).QueryRow(ctx, query, ticketID).Scan(
		&rm.TicketID,
		&rm.PlatformSource,
		&rm.EventName,
		&rm.EventCategory,
		&rm.Venue,
		&rm.EventDate,
		&rm.CurrentPrice,
		&rm.OriginalPrice,
		&rm.Currency,
		&rm.AvailabilityStatus,
		&rm.AvailableQuantity,
		&rm.IsHighDemand,
		&rm.IsSoldOut,
		&priceHistory,
		&availabilityHistory,
		&rm.FirstDiscoveredAt,
		&rm.LastUpdatedAt,
		&rm.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ticket read model %q: %w", ticketID, err)
	}

	if err := json.Unmarshal(priceHistory, &rm.PriceHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal price history for %q: %w", ticketID, err)
	}
	if err := json.Unmarshal(availabilityHistory, &rm.AvailabilityHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal availability history for %q: %w", ticketID, err)
	}
	return &rm, nil
}

// Save upserts the full read model row.
func (r *TicketReadModelRepository) Save(ctx context.Context, rm *ticket.ReadModel) error {
	priceHistory, err := json.Marshal(rm.PriceHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal price history for %q: %w", rm.TicketID, err)
	}
	availabilityHistory, err := json.Marshal(rm.AvailabilityHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal availability history for %q: %w", rm.TicketID, err)
	}

	query := `
        INSERT INTO ticket_read_models
            (ticket_id, platform_source, event_name, event_category, venue, event_date,
             current_price, original_price, currency, availability_status, available_quantity,
             is_high_demand, is_sold_out, price_history, availability_history,
             first_discovered_at, last_updated_at, version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
        ON CONFLICT (ticket_id) DO UPDATE SET
            platform_source = EXCLUDED.platform_source,
            event_name = EXCLUDED.event_name,
            event_category = EXCLUDED.event_category,
            venue = EXCLUDED.venue,
            event_date = EXCLUDED.event_date,
            current_price = EXCLUDED.current_price,
            original_price = EXCLUDED.original_price,
            currency = EXCLUDED.currency,
            availability_status = EXCLUDED.availability_status,
            available_quantity = EXCLUDED.available_quantity,
            is_high_demand = EXCLUDED.is_high_demand,
            is_sold_out = EXCLUDED.is_sold_out,
            price_history = EXCLUDED.price_history,
            availability_history = EXCLUDED.availability_history,
            first_discovered_at = EXCLUDED.first_discovered_at,
            last_updated_at = EXCLUDED.last_updated_at,
            version = EXCLUDED.version
    `
	_, err = r.db.conn(ctx).Exec(ctx, query,
		rm.TicketID,
		rm.PlatformSource,
		rm.EventName,
		rm.EventCategory,
		rm.Venue,
		rm.EventDate,
		rm.CurrentPrice,
		rm.OriginalPrice,
		rm.Currency,
		rm.AvailabilityStatus,
		rm.AvailableQuantity,
		rm.IsHighDemand,
		rm.IsSoldOut,
		priceHistory,
		availabilityHistory,
		rm.FirstDiscoveredAt,
		rm.LastUpdatedAt,
		rm.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save ticket read model %q: %w", rm.TicketID, err)
	}
	return nil
}

// Truncate removes all materialized rows.
func (r *TicketReadModelRepository) Truncate(ctx context.Context) error {
	if _, err := r.db.conn(ctx).Exec(ctx, `TRUNCATE TABLE ticket_read_models`); err != nil {
		return fmt.Errorf("failed to truncate ticket read models: %w", err)
	}
	return nil
}

// Summarize returns aggregate counts over the read model table.
func (r *TicketReadModelRepository) Summarize(ctx context.Context) (ticket.Summary, error) {
	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE availability_status = 'available'),
               COUNT(*) FILTER (WHERE is_sold_out),
               COUNT(*) FILTER (WHERE is_high_demand),
               COUNT(DISTINCT platform_source),
               MAX(last_updated_at)
        FROM ticket_read_models
    `
	var summary ticket.Summary
	err := r.db.conn(ctx).QueryRow(ctx, query).Scan(
		&summary.TotalTickets,
		&summary.AvailableTickets,
		&summary.SoldOutTickets,
		&summary.HighDemandTickets,
		&summary.DistinctPlatforms,
		&summary.LastUpdatedAt,
	)
	if err != nil {
		return ticket.Summary{}, fmt.Errorf("failed to summarize ticket read models: %w", err)
	}
	return summary, nil
}
