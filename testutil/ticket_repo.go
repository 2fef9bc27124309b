package testutil

import (
	"context"
	"sync"

	"github.com/seatwatch/projector/ticket"
)

// MemTicketRepository is an in-memory ticket.Repository for unit tests.
type MemTicketRepository struct {
	mu   sync.Mutex
	rows map[string]ticket.ReadModel
}

// NewMemTicketRepository creates an empty in-memory repository.
func NewMemTicketRepository() *MemTicketRepository {
	return &MemTicketRepository{rows: make(map[string]ticket.ReadModel)}
}

func (r *MemTicketRepository) Find(ctx context.Context, ticketID string) (*ticket.ReadModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rows[ticketID]
	if !ok {
		return nil, nil
	}
	cp := rm
	cp.PriceHistory = append([]ticket.PricePoint(nil), rm.PriceHistory...)
	cp.AvailabilityHistory = append([]ticket.AvailabilityPoint(nil), rm.AvailabilityHistory...)
	return &cp, nil
}

func (r *MemTicketRepository) Save(ctx context.Context, rm *ticket.ReadModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rm
	cp.PriceHistory = append([]ticket.PricePoint(nil), rm.PriceHistory...)
	cp.AvailabilityHistory = append([]ticket.AvailabilityPoint(nil), rm.AvailabilityHistory...)
	r.rows[rm.TicketID] = cp
	return nil
}

func (r *MemTicketRepository) Truncate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[string]ticket.ReadModel)
	return nil
}

func (r *MemTicketRepository) Summarize(ctx context.Context) (ticket.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var summary ticket.Summary
	platforms := make(map[string]struct{})
	for _, rm := range r.rows {
		summary.TotalTickets++
		if rm.AvailabilityStatus == ticket.StatusAvailable {
			summary.AvailableTickets++
		}
		if rm.IsSoldOut {
			summary.SoldOutTickets++
		}
		if rm.IsHighDemand {
			summary.HighDemandTickets++
		}
		platforms[rm.PlatformSource] = struct{}{}
		if summary.LastUpdatedAt == nil || rm.LastUpdatedAt.After(*summary.LastUpdatedAt) {
			ts := rm.LastUpdatedAt
			summary.LastUpdatedAt = &ts
		}
	}
	summary.DistinctPlatforms = int64(len(platforms))
	return summary, nil
}

// Len returns the number of materialized rows.
func (r *MemTicketRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
