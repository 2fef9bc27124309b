// Package retry re-attempts projection failures recorded in the failure
// log once their retryAfter timestamp has passed.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/seatwatch/projector/eventsrc"
	"github.com/seatwatch/projector/projection"
)

// FailureQueue is the slice of the failure log the worker consumes.
type FailureQueue interface {
	// ListDue returns unresolved failures whose retryAfter has passed,
	// oldest first.
	ListDue(ctx context.Context, limit int) ([]projection.FailureRecord, error)
	// MarkResolved flags a failure after a successful re-attempt.
	MarkResolved(ctx context.Context, id int64) error
	// Reschedule increments the retry count and extends retryAfter.
	Reschedule(ctx context.Context, id int64, retryAfter time.Time) error
}

// Applier re-applies one event to one projection. Satisfied by
// projection.Manager.
type Applier interface {
	Retry(ctx context.Context, projectionName string, evt eventsrc.DomainEvent) error
}

// Worker is a background loop that polls the failure log and re-attempts
// due failures.
type Worker struct {
	queue          FailureQueue
	applier        Applier
	batchSize      int
	interval       time.Duration
	retryDelay     time.Duration
	maxElapsedTime time.Duration
	wg             sync.WaitGroup
	quit           chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithBatchSize overrides how many due failures are fetched per tick.
func WithBatchSize(size int) WorkerOption {
	return func(w *Worker) {
		w.batchSize = size
	}
}

// WithInterval overrides the polling interval.
func WithInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		w.interval = interval
	}
}

// WithMaxElapsedTime is an option to provide a custom backoff max elapsed time.
func WithMaxElapsedTime(maxElapsedTime time.Duration) WorkerOption {
	return func(w *Worker) {
		w.maxElapsedTime = maxElapsedTime
	}
}

// NewWorker creates a retry worker.
func NewWorker(queue FailureQueue, applier Applier, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:          queue,
		applier:        applier,
		batchSize:      50,
		interval:       30 * time.Second,
		retryDelay:     projection.DefaultRetryDelay,
		maxElapsedTime: 30 * time.Second,
		quit:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start begins the worker's polling process in a separate goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		slog.InfoContext(ctx, "Failure retry worker started")
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := w.processBatch(ctx); err != nil {
					slog.ErrorContext(ctx, "Failed to process retry batch", "error", err)
				}
			case <-w.quit:
				slog.InfoContext(ctx, "Failure retry worker shutting down")
				return
			case <-ctx.Done():
				slog.InfoContext(ctx, "Context cancelled, failure retry worker shutting down")
				return
			}
		}
	}()
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	close(w.quit)
	w.wg.Wait()
}

func (w *Worker) processBatch(ctx context.Context) error {
	recs, err := w.queue.ListDue(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list due failures: %w", err)
	}

	for _, rec := range recs {
		w.attempt(ctx, rec)
	}
	return nil
}

// attempt re-applies one failed event. Success resolves the failure row;
// a repeat failure reschedules it with a longer delay.
func (w *Worker) attempt(ctx context.Context, rec projection.FailureRecord) {
	var evt eventsrc.DomainEvent
	if err := json.Unmarshal(rec.EventPayload, &evt); err != nil {
		// The stored payload will never decode on a later attempt either.
		// Resolve the row so one poisonous entry cannot occupy the queue
		// forever; the row itself stays in the log for inspection.
		slog.ErrorContext(ctx, "Stored event payload is undecodable, resolving failure",
			"failureID", rec.ID, "projection", rec.ProjectionName, "error", err)
		if markErr := w.queue.MarkResolved(ctx, rec.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark failure resolved",
				"failureID", rec.ID, "projection", rec.ProjectionName, "error", markErr)
		}
		return
	}

	operation := func() (any, error) {
		err := w.applier.Retry(ctx, rec.ProjectionName, evt)
		// The registration set may have changed since the failure was
		// recorded; retrying cannot fix that.
		if errors.Is(err, projection.ErrProjectionNotFound) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(w.maxElapsedTime))
	if err == nil {
		if markErr := w.queue.MarkResolved(ctx, rec.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark failure resolved",
				"failureID", rec.ID, "projection", rec.ProjectionName, "error", markErr)
			return
		}
		slog.InfoContext(ctx, "Projection failure resolved",
			"failureID", rec.ID, "projection", rec.ProjectionName, "eventID", rec.EventID)
		return
	}

	if errors.Is(err, projection.ErrProjectionNotFound) {
		slog.WarnContext(ctx, "Projection no longer registered, rescheduling failure",
			"failureID", rec.ID, "projection", rec.ProjectionName)
	} else {
		slog.ErrorContext(ctx, "Projection failure re-attempt failed",
			"failureID", rec.ID, "projection", rec.ProjectionName, "retryCount", rec.RetryCount, "error", err)
	}
	w.reschedule(ctx, rec)
}

func (w *Worker) reschedule(ctx context.Context, rec projection.FailureRecord) {
	// Linear backoff on repeat failures.
	delay := w.retryDelay * time.Duration(rec.RetryCount+2)
	if err := w.queue.Reschedule(ctx, rec.ID, time.Now().UTC().Add(delay)); err != nil {
		slog.ErrorContext(ctx, "Failed to reschedule failure",
			"failureID", rec.ID, "projection", rec.ProjectionName, "error", err)
	}
}
