package retry_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/seatwatch/projector/eventsrc"
	"github.com/seatwatch/projector/projection"
	"github.com/seatwatch/projector/retry"
	"github.com/seatwatch/projector/testutil"
)

type memQueue struct {
	mu          sync.Mutex
	due         []projection.FailureRecord
	resolved    []int64
	rescheduled map[int64]time.Time
}

func newMemQueue(recs ...projection.FailureRecord) *memQueue {
	return &memQueue{due: recs, rescheduled: make(map[int64]time.Time)}
}

// ListDue hands out the pending records once; the worker owns them from
// then on, mirroring the retry_after filter of the real store.
func (q *memQueue) ListDue(ctx context.Context, limit int) ([]projection.FailureRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.due
	if len(out) > limit {
		out = out[:limit]
	}
	q.due = q.due[len(out):]
	return out, nil
}

func (q *memQueue) MarkResolved(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resolved = append(q.resolved, id)
	return nil
}

func (q *memQueue) Reschedule(ctx context.Context, id int64, retryAfter time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rescheduled[id] = retryAfter
	return nil
}

func (q *memQueue) resolvedIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.resolved...)
}

func (q *memQueue) rescheduledAt(id int64) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	at, ok := q.rescheduled[id]
	return at, ok
}

type fakeApplier struct {
	mu    sync.Mutex
	err   error
	calls []eventsrc.DomainEvent
}

func (a *fakeApplier) Retry(ctx context.Context, projectionName string, evt eventsrc.DomainEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, evt)
	return a.err
}

func (a *fakeApplier) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeApplier) call(i int) eventsrc.DomainEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[i]
}

type WorkerSuite struct {
	suite.Suite
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func failureFor(id int64, evt eventsrc.DomainEvent, projectionName string) projection.FailureRecord {
	payload, _ := json.Marshal(evt)
	now := time.Now().UTC()
	return projection.FailureRecord{
		ID:             id,
		EventID:        evt.EventID,
		ProjectionName: projectionName,
		EventPayload:   payload,
		FailedAt:       now.Add(-10 * time.Minute),
		RetryAfter:     now.Add(-5 * time.Minute),
	}
}

func (s *WorkerSuite) TestResolvesSuccessfulRetry() {
	// GIVEN one due failure and an applier that now succeeds
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evt := testutil.NewDiscoveredEvent("T1", 100, 5, time.Now().UTC(), 1)
	queue := newMemQueue(failureFor(7, evt, "ticket_read_model"))
	applier := &fakeApplier{}

	// WHEN
	worker := retry.NewWorker(queue, applier, retry.WithInterval(20*time.Millisecond))
	worker.Start(ctx)
	defer worker.Stop()

	// THEN
	s.Eventually(func() bool {
		return len(queue.resolvedIDs()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	s.Equal([]int64{7}, queue.resolvedIDs())

	s.Require().Equal(1, applier.callCount())
	s.Equal(evt.EventID, applier.call(0).EventID)
	s.Equal(evt.EventType, applier.call(0).EventType)
}

func (s *WorkerSuite) TestReschedulesOnRepeatFailure() {
	// GIVEN an applier that keeps failing
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evt := testutil.NewDiscoveredEvent("T1", 100, 5, time.Now().UTC(), 1)
	rec := failureFor(3, evt, "ticket_read_model")
	rec.RetryCount = 1
	queue := newMemQueue(rec)
	applier := &fakeApplier{err: errors.New("still broken")}

	// WHEN
	worker := retry.NewWorker(queue, applier,
		retry.WithInterval(20*time.Millisecond),
		retry.WithMaxElapsedTime(50*time.Millisecond),
	)
	worker.Start(ctx)
	defer worker.Stop()

	// THEN the failure is pushed further into the future, not resolved
	s.Eventually(func() bool {
		_, ok := queue.rescheduledAt(3)
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	at, _ := queue.rescheduledAt(3)
	s.True(at.After(time.Now()), "retryAfter should be extended into the future")
	s.Empty(queue.resolvedIDs())
	s.GreaterOrEqual(applier.callCount(), 1)
}

func (s *WorkerSuite) TestUndecodablePayloadIsResolvedNotRetried() {
	// GIVEN a failure row whose stored payload is corrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now().UTC()
	rec := projection.FailureRecord{
		ID:             11,
		ProjectionName: "ticket_read_model",
		EventPayload:   json.RawMessage(`{"event_id":`),
		FailedAt:       now.Add(-10 * time.Minute),
		RetryAfter:     now.Add(-5 * time.Minute),
	}
	queue := newMemQueue(rec)
	applier := &fakeApplier{}

	// WHEN
	worker := retry.NewWorker(queue, applier, retry.WithInterval(20*time.Millisecond))
	worker.Start(ctx)
	defer worker.Stop()

	// THEN the row is resolved without any apply attempt or reschedule
	s.Eventually(func() bool {
		return len(queue.resolvedIDs()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	s.Equal([]int64{11}, queue.resolvedIDs())
	s.Equal(0, applier.callCount())
	_, rescheduled := queue.rescheduledAt(11)
	s.False(rescheduled)
}

func (s *WorkerSuite) TestUnknownProjectionIsNotHammered() {
	// GIVEN a failure for a projection that is no longer registered
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evt := testutil.NewDiscoveredEvent("T1", 100, 5, time.Now().UTC(), 1)
	queue := newMemQueue(failureFor(9, evt, "retired_projection"))
	applier := &fakeApplier{err: fmt.Errorf("%w: %q", projection.ErrProjectionNotFound, "retired_projection")}

	// WHEN
	worker := retry.NewWorker(queue, applier,
		retry.WithInterval(20*time.Millisecond),
		retry.WithMaxElapsedTime(2*time.Second),
	)
	worker.Start(ctx)
	defer worker.Stop()

	// THEN the attempt is permanent: exactly one call, then rescheduled
	s.Eventually(func() bool {
		_, ok := queue.rescheduledAt(9)
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	s.Equal(1, applier.callCount(), "ErrProjectionNotFound must not be retried by the backoff loop")
	s.Empty(queue.resolvedIDs())
}
