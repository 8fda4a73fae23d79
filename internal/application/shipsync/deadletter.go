package shipsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shipsync/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// DeadLetterLogger records messages that reached a terminal failure
type DeadLetterLogger struct {
	repo   shipping.DeadLetterRepository
	logger *zap.Logger
}

// NewDeadLetterLogger creates a dead-letter logger
func NewDeadLetterLogger(repo shipping.DeadLetterRepository, logger *zap.Logger) *DeadLetterLogger {
	return &DeadLetterLogger{
		repo:   repo,
		logger: logger,
	}
}

// Record appends a failure with the request and response that led to it. A nil
// request snapshot is replaced by the message itself.
func (l *DeadLetterLogger) Record(
	ctx context.Context,
	queue shipping.QueueClass,
	msg *shipping.SyncMessage,
	cause error,
	request, response json.RawMessage,
) error {
	if request == nil {
		request, _ = json.Marshal(msg)
	}
	errMsg := "unknown failure"
	if cause != nil {
		errMsg = cause.Error()
	}

	failure := shipping.NewDeadLetterFailure(queue, msg, errMsg, request, response)
	l.logger.Warn("sync message dead-lettered",
		zap.String("queue", queue.String()),
		zap.String("message_id", msg.ID),
		zap.String("order_number", msg.OrderNumber),
		zap.String("tracking_number", msg.TrackingNumber),
		zap.String("reason", msg.Reason.String()),
		zap.Int("retry_count", msg.RetryCount),
		zap.String("error", errMsg),
	)

	if err := l.repo.Append(ctx, failure); err != nil {
		l.logger.Error("failed to write dead letter",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to write dead letter for message %s: %w", msg.ID, err)
	}
	return nil
}

// Finish dead-letters msg and returns the terminal result. When the failure cannot be
// written the message stays in-flight rather than disappearing without a record.
func (l *DeadLetterLogger) Finish(
	ctx context.Context,
	queue shipping.QueueClass,
	msg *shipping.SyncMessage,
	cause error,
	request, response json.RawMessage,
) Result {
	if err := l.Record(ctx, queue, msg, cause, request, response); err != nil {
		return Result{Outcome: OutcomeDeadLettered, KeepInflight: true}
	}
	return Result{Outcome: OutcomeDeadLettered}
}
