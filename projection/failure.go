package projection

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/seatwatch/projector/eventsrc"
)

// DefaultRetryDelay is the fixed backoff added to a failure's retryAfter
// timestamp on first failure.
const DefaultRetryDelay = 5 * time.Minute

// FailureRecord is one failed application of one event to one projection.
// Rows are append-only; a retry worker marks them resolved once a
// re-attempt succeeds.
type FailureRecord struct {
	ID             int64
	EventID        uuid.UUID
	ProjectionName string
	HandlerClass   string
	ErrorType      string
	ErrorMessage   string
	ErrorContext   json.RawMessage
	EventPayload   json.RawMessage
	RetryCount     int
	FailedAt       time.Time
	RetryAfter     time.Time
	IsResolved     bool
}

// failureContext is the diagnostic payload stored alongside a failure.
type failureContext struct {
	EventType       string `json:"event_type"`
	AggregateRootID string `json:"aggregate_root_id"`
	Stack           string `json:"stack"`
}

// newFailureRecord captures a handler error together with the full event
// so the failure can be replayed later.
func newFailureRecord(proj Projection, evt eventsrc.DomainEvent, cause error, retryDelay time.Duration) FailureRecord {
	now := time.Now().UTC()

	errCtx, _ := json.Marshal(failureContext{
		EventType:       evt.EventType,
		AggregateRootID: evt.AggregateRootID,
		Stack:           string(debug.Stack()),
	})
	payload, _ := json.Marshal(evt)

	return FailureRecord{
		EventID:        evt.EventID,
		ProjectionName: proj.Name(),
		HandlerClass:   fmt.Sprintf("%T", proj),
		ErrorType:      fmt.Sprintf("%T", cause),
		ErrorMessage:   cause.Error(),
		ErrorContext:   errCtx,
		EventPayload:   payload,
		RetryCount:     0,
		FailedAt:       now,
		RetryAfter:     now.Add(retryDelay),
	}
}
