package ticket

import "time"

// DiscoveredPayload is the payload of a TicketDiscovered event.
type DiscoveredPayload struct {
	TicketID       string     `json:"ticket_id"`
	PlatformSource string     `json:"platform_source"`
	EventName      string     `json:"event_name"`
	EventCategory  string     `json:"event_category"`
	Venue          string     `json:"venue"`
	EventDate      *time.Time `json:"event_date,omitempty"`
	Price          float64    `json:"price"`
	Currency       string     `json:"currency"`
	Quantity       int        `json:"quantity"`
}

// PriceChangedPayload is the payload of a TicketPriceChanged event.
type PriceChangedPayload struct {
	TicketID string  `json:"ticket_id"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

// AvailabilityChangedPayload is the payload of a TicketAvailabilityChanged
// event.
type AvailabilityChangedPayload struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
}

// SoldOutPayload is the payload of a TicketSoldOut event.
type SoldOutPayload struct {
	TicketID              string `json:"ticket_id"`
	DurationOnSaleMinutes int    `json:"duration_on_sale_minutes"`
}
