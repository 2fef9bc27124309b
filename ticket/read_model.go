package ticket

import (
	"context"
	"time"
)

// Availability statuses recorded on the read model and its history.
const (
	StatusAvailable = "available"
	StatusSoldOut   = "sold_out"
)

// PricePoint is one append-only price history entry.
type PricePoint struct {
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// AvailabilityPoint is one append-only availability history entry.
// DurationOnSaleMinutes is only set on the sold-out entry.
type AvailabilityPoint struct {
	Status                string    `json:"status"`
	Timestamp             time.Time `json:"timestamp"`
	DurationOnSaleMinutes *int      `json:"duration_on_sale_minutes,omitempty"`
}

// ReadModel is the materialized "current state + history" view of one
// ticket, one row per ticket id.
type ReadModel struct {
	TicketID            string              `json:"ticket_id"`
	PlatformSource      string              `json:"platform_source"`
	EventName           string              `json:"event_name"`
	EventCategory       string              `json:"event_category"`
	Venue               string              `json:"venue"`
	EventDate           *time.Time          `json:"event_date,omitempty"`
	CurrentPrice        float64             `json:"current_price"`
	OriginalPrice       float64             `json:"original_price"`
	Currency            string              `json:"currency"`
	AvailabilityStatus  string              `json:"availability_status"`
	AvailableQuantity   int                 `json:"available_quantity"`
	IsHighDemand        bool                `json:"is_high_demand"`
	IsSoldOut           bool                `json:"is_sold_out"`
	PriceHistory        []PricePoint        `json:"price_history"`
	AvailabilityHistory []AvailabilityPoint `json:"availability_history"`
	FirstDiscoveredAt   *time.Time          `json:"first_discovered_at,omitempty"`
	LastUpdatedAt       time.Time           `json:"last_updated_at"`
	Version             int64               `json:"version"`
}

// touch bumps the version and update timestamp after a mutation.
func (r *ReadModel) touch(ts time.Time) {
	r.Version++
	r.LastUpdatedAt = ts
}

// Summary is the cheap aggregate snapshot reported as projection state.
type Summary struct {
	TotalTickets      int64      `json:"total_tickets"`
	AvailableTickets  int64      `json:"available_tickets"`
	SoldOutTickets    int64      `json:"sold_out_tickets"`
	HighDemandTickets int64      `json:"high_demand_tickets"`
	DistinctPlatforms int64      `json:"distinct_platforms"`
	LastUpdatedAt     *time.Time `json:"last_updated_at,omitempty"`
}

// Repository persists ticket read models.
type Repository interface {
	// Find returns the read model for a ticket id, or nil when no row
	// exists yet.
	Find(ctx context.Context, ticketID string) (*ReadModel, error)
	// Save upserts the full read model row.
	Save(ctx context.Context, rm *ReadModel) error
	// Truncate removes all materialized rows.
	Truncate(ctx context.Context) error
	// Summarize returns aggregate counts over the materialized rows.
	Summarize(ctx context.Context) (Summary, error)
}
