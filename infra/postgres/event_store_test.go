package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/seatwatch/projector/infra/postgres"
	"github.com/seatwatch/projector/testutil"
)

type EventStoreSuite struct {
	testutil.DBIntegrationSuite
	store *postgres.EventStore
}

func TestEventStoreSuite(t *testing.T) {
	suite.Run(t, new(EventStoreSuite))
}

func (s *EventStoreSuite) SetupTest() {
	s.store = postgres.NewEventStore(&postgres.DB{Pool: s.Pool})
	s.TruncateTables("domain_events")
}

func (s *EventStoreSuite) seed(count int) {
	now := time.Now().UTC()
	for i := 1; i <= count; i++ {
		evt := testutil.NewDiscoveredEvent("T1", 100, 5, now.Add(time.Duration(i)*time.Second), int64(i))
		s.Require().NoError(testutil.InsertEvents(context.Background(), s.Pool, evt))
	}
}

func (s *EventStoreSuite) TestLoadAllEvents_ReturnsEventsInPositionOrder() {
	// GIVEN
	s.seed(3)

	// WHEN loading from the beginning
	events, err := s.store.LoadAllEvents(context.Background(), 0, 10)

	// THEN
	s.NoError(err)
	s.Require().Len(events, 3)
	for i, evt := range events {
		s.Equal(int64(i+1), evt.Position)
	}
}

func (s *EventStoreSuite) TestLoadAllEvents_LowerBoundIsExclusive() {
	// GIVEN
	s.seed(5)

	// WHEN loading from position 3
	events, err := s.store.LoadAllEvents(context.Background(), 3, 10)

	// THEN positions 4 and 5 come back, 3 itself does not
	s.NoError(err)
	s.Require().Len(events, 2)
	s.Equal(int64(4), events[0].Position)
	s.Equal(int64(5), events[1].Position)
}

func (s *EventStoreSuite) TestLoadAllEvents_RespectsLimit() {
	// GIVEN
	s.seed(5)

	// WHEN
	events, err := s.store.LoadAllEvents(context.Background(), 0, 2)

	// THEN
	s.NoError(err)
	s.Require().Len(events, 2)
	s.Equal(int64(1), events[0].Position)
	s.Equal(int64(2), events[1].Position)
}

func (s *EventStoreSuite) TestLoadAllEvents_EmptyPastEndOfLog() {
	// GIVEN
	s.seed(2)

	// WHEN
	events, err := s.store.LoadAllEvents(context.Background(), 2, 10)

	// THEN
	s.NoError(err)
	s.Empty(events)
}

func (s *EventStoreSuite) TestLoadAllEvents_RoundTripsEventFields() {
	// GIVEN
	now := time.Now().UTC().Truncate(time.Microsecond)
	seeded := testutil.NewDiscoveredEvent("T42", 75, 3, now, 1)
	s.Require().NoError(testutil.InsertEvents(context.Background(), s.Pool, seeded))

	// WHEN
	events, err := s.store.LoadAllEvents(context.Background(), 0, 1)

	// THEN
	s.NoError(err)
	s.Require().Len(events, 1)
	loaded := events[0]
	s.Equal(seeded.EventID, loaded.EventID)
	s.Equal(seeded.EventType, loaded.EventType)
	s.Equal("T42", loaded.AggregateRootID)
	s.JSONEq(string(seeded.Payload), string(loaded.Payload))
	s.WithinDuration(now, loaded.OccurredAt, time.Millisecond)
}
