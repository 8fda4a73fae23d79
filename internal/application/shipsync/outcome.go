package shipsync

import (
	"context"

	"github.com/shipsync/backend/internal/domain/shipping"
)

// Outcome is the terminal classification of one message in a batch
type Outcome string

const (
	// OutcomeCompleted means the message was resolved and its results persisted
	OutcomeCompleted Outcome = "completed"
	// OutcomeRetried means the message goes back to the queue with its retry count bumped
	OutcomeRetried Outcome = "retried"
	// OutcomeDeadLettered means the failure was recorded and the message is finished
	OutcomeDeadLettered Outcome = "dead_lettered"
	// OutcomeInvalid means the message could not be interpreted; it is finished and logged
	OutcomeInvalid Outcome = "invalid"
	// OutcomeDeferred means the remote platform refused the call for quota; the
	// message returns to the queue unchanged with the rest of the batch
	OutcomeDeferred Outcome = "deferred"
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	return string(o)
}

// Result is what a handler reports for one message
type Result struct {
	Outcome Outcome
	// Retry is the message to put back when Outcome is OutcomeRetried
	Retry *shipping.SyncMessage
	// KeepInflight leaves the message in the in-flight set because its terminal
	// record could not be written; RestoreInflight brings it back later
	KeepInflight bool
}

// Handler resolves one message of a queue class. It must observe every remote
// response on the gate before returning.
type Handler interface {
	Handle(ctx context.Context, msg *shipping.SyncMessage, gate *Gate) Result
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *shipping.SyncMessage, gate *Gate) Result

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, msg *shipping.SyncMessage, gate *Gate) Result {
	return f(ctx, msg, gate)
}

// Metrics receives worker counters. Implementations must be safe for concurrent use.
type Metrics interface {
	RecordOutcome(ctx context.Context, queue, outcome string)
	RecordRateLimitStop(ctx context.Context, queue string)
	RecordQueueDepth(ctx context.Context, queue string, depth int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordOutcome(context.Context, string, string)   {}
func (noopMetrics) RecordRateLimitStop(context.Context, string)     {}
func (noopMetrics) RecordQueueDepth(context.Context, string, int64) {}
