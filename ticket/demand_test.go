package ticket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seatwatch/projector/eventsrc"
	"github.com/seatwatch/projector/testutil"
	"github.com/seatwatch/projector/ticket"
)

func TestHighDemandHeuristic(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		venue     string
		want      bool
	}{
		{"plain fixture", "League match round 12", "Local Stadium", false},
		{"cup final", "FA Cup Final", "Neutral Ground", true},
		{"keyword case insensitive", "CHAMPIONS LEAGUE semi", "Somewhere", true},
		{"derby in name", "North London Derby", "Random Park", true},
		{"playoff", "Promotion playoff leg 2", "Small Arena", true},
		{"marquee venue", "Friendly", "Wembley Stadium", true},
		{"marquee venue case insensitive", "Friendly", "OLD TRAFFORD", true},
		{"keyword in venue", "Concert", "Championship Hall", true},
		{"no signal", "Concert", "Community Hall", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := testutil.NewMemTicketRepository()
			proj := ticket.NewProjection(repo)

			evt := testutil.NewEvent(eventsrc.TicketDiscovered, "T1", ticket.DiscoveredPayload{
				TicketID:       "T1",
				PlatformSource: "stubhub",
				EventName:      tt.eventName,
				Venue:          tt.venue,
				Price:          50,
				Currency:       "GBP",
				Quantity:       2,
			}, time.Now().UTC(), 1)
			require.NoError(t, proj.Project(context.Background(), evt))

			rm, err := repo.Find(context.Background(), "T1")
			require.NoError(t, err)
			require.NotNil(t, rm)
			require.Equal(t, tt.want, rm.IsHighDemand)
		})
	}
}
