package shipsync

import (
	"context"
	"fmt"
	"time"

	"github.com/shipsync/backend/internal/domain/shared"
	"github.com/shipsync/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// WorkerConfig holds configuration for one queue worker
type WorkerConfig struct {
	Queue           shipping.QueueClass
	BatchSize       int
	CourtesyDelay   time.Duration
	RateLimitBuffer time.Duration
}

// DefaultWorkerConfig returns default configuration for the queue
func DefaultWorkerConfig(queue shipping.QueueClass) WorkerConfig {
	return WorkerConfig{
		Queue:           queue,
		BatchSize:       25,
		CourtesyDelay:   250 * time.Millisecond,
		RateLimitBuffer: 5 * time.Second,
	}
}

// BatchReport summarizes one batch
type BatchReport struct {
	RunID        int64
	Dequeued     int
	Completed    int
	Retried      int
	DeadLettered int
	Invalid      int
	Deferred     int
	// Requeued counts messages returned to the queue unprocessed after a stop
	Requeued    int
	RateLimited bool
}

// Processed returns the number of messages that reached a terminal outcome
func (r BatchReport) Processed() int {
	return r.Completed + r.DeadLettered + r.Invalid
}

func (r *BatchReport) count(o Outcome) {
	switch o {
	case OutcomeCompleted:
		r.Completed++
	case OutcomeRetried:
		r.Retried++
	case OutcomeDeadLettered:
		r.DeadLettered++
	case OutcomeInvalid:
		r.Invalid++
	case OutcomeDeferred:
		r.Deferred++
	}
}

// Worker runs batches of one queue class through a Handler. Messages in a batch are
// handled strictly one after another; the remote quota is shared by the whole batch.
type Worker struct {
	queue      shipping.QueueStore
	handler    Handler
	deadLetter *DeadLetterLogger
	publisher  shared.EventPublisher
	metrics    Metrics
	config     WorkerConfig
	logger     *zap.Logger
}

// WorkerOption configures optional worker collaborators
type WorkerOption func(*Worker)

// WithPublisher sets the change broadcaster that receives queue_status events
func WithPublisher(p shared.EventPublisher) WorkerOption {
	return func(w *Worker) {
		w.publisher = p
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) WorkerOption {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// NewWorker creates a worker for config.Queue
func NewWorker(
	queue shipping.QueueStore,
	handler Handler,
	deadLetter *DeadLetterLogger,
	config WorkerConfig,
	logger *zap.Logger,
	opts ...WorkerOption,
) *Worker {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultWorkerConfig(config.Queue).BatchSize
	}
	w := &Worker{
		queue:      queue,
		handler:    handler,
		deadLetter: deadLetter,
		metrics:    noopMetrics{},
		config:     config,
		logger:     logger.Named("worker").With(zap.String("queue", config.Queue.String())),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Queue returns the queue class this worker consumes
func (w *Worker) Queue() shipping.QueueClass {
	return w.config.Queue
}

// RunBatch dequeues up to BatchSize messages and handles them in order.
//
// Once the gate reports exhausted quota the current message is finished (its data is
// already persisted) and every message after it goes back to the front of the queue
// in one atomic requeue. A deferred message goes back together with that tail.
func (w *Worker) RunBatch(ctx context.Context, runID int64) (BatchReport, error) {
	report := BatchReport{RunID: runID}
	log := w.logger.With(zap.Int64("run_id", runID))

	msgs, err := w.queue.DequeueBatch(ctx, w.config.Queue, w.config.BatchSize)
	if err != nil {
		// indistinguishable from an empty queue for scheduling purposes
		log.Warn("dequeue failed, skipping tick", zap.Error(err))
		return report, nil
	}
	if len(msgs) == 0 {
		return report, nil
	}
	report.Dequeued = len(msgs)
	log.Debug("batch started", zap.Int("messages", len(msgs)))

	gate := NewGate(w.config.RateLimitBuffer)
	for i, msg := range msgs {
		if i > 0 && !w.courtesyPause(ctx) {
			// shutting down: the store calls must outlive the cancelled ctx
			report.Requeued += w.requeueTail(context.WithoutCancel(ctx), log, msgs[i:])
			break
		}

		res := w.handle(ctx, msg, gate)
		report.count(res.Outcome)
		w.metrics.RecordOutcome(ctx, w.config.Queue.String(), res.Outcome.String())
		w.finalize(ctx, log, msg, res)

		if res.Outcome == OutcomeDeferred {
			report.RateLimited = true
			report.Requeued += w.requeueTail(ctx, log, append([]*shipping.SyncMessage{msg}, msgs[i+1:]...))
			break
		}
		if gate.Stopped() {
			report.RateLimited = true
			report.Requeued += w.requeueTail(ctx, log, msgs[i+1:])
			break
		}
	}

	if report.RateLimited {
		w.metrics.RecordRateLimitStop(ctx, w.config.Queue.String())
		window := gate.Window()
		log.Info("rate limit exhausted, batch stopped early",
			zap.Int("limit", window.Limit),
			zap.Int("remaining", window.Remaining),
			zap.Duration("resume_after", gate.ResumeAfter()),
			zap.Int("requeued", report.Requeued),
		)
	}

	log.Info("batch finished",
		zap.Int("dequeued", report.Dequeued),
		zap.Int("completed", report.Completed),
		zap.Int("retried", report.Retried),
		zap.Int("dead_lettered", report.DeadLettered),
		zap.Int("invalid", report.Invalid),
		zap.Int("requeued", report.Requeued),
	)
	w.broadcastStatus(ctx, report)
	return report, nil
}

// handle isolates the handler so one message cannot abort the batch
func (w *Worker) handle(ctx context.Context, msg *shipping.SyncMessage, gate *Gate) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while handling sync message",
				zap.String("message_id", msg.ID),
				zap.Any("panic", r),
			)
			res = w.deadLetter.Finish(ctx, w.config.Queue, msg, fmt.Errorf("panic: %v", r), nil, nil)
		}
	}()
	return w.handler.Handle(ctx, msg, gate)
}

// finalize settles the in-flight entry of msg exactly once
func (w *Worker) finalize(ctx context.Context, log *zap.Logger, msg *shipping.SyncMessage, res Result) {
	switch res.Outcome {
	case OutcomeDeferred:
		// settled by the tail requeue
		return
	case OutcomeRetried:
		if res.Retry != nil {
			err := w.queue.Requeue(ctx, w.config.Queue, []*shipping.SyncMessage{res.Retry})
			if err == nil {
				return
			}
			log.Error("failed to requeue message for retry",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			if w.deadLetter.Finish(ctx, w.config.Queue, res.Retry, fmt.Errorf("retry requeue failed: %w", err), nil, nil).KeepInflight {
				return
			}
		}
	}
	if res.KeepInflight {
		log.Error("terminal failure not recorded, message left in-flight",
			zap.String("message_id", msg.ID),
			zap.String("outcome", res.Outcome.String()),
		)
		return
	}
	if err := w.queue.RemoveInflight(ctx, w.config.Queue, msg); err != nil {
		log.Error("failed to remove in-flight message",
			zap.String("message_id", msg.ID),
			zap.String("outcome", res.Outcome.String()),
			zap.Error(err),
		)
	}
}

// requeueTail returns unprocessed messages to the front of the queue in one call
func (w *Worker) requeueTail(ctx context.Context, log *zap.Logger, tail []*shipping.SyncMessage) int {
	if len(tail) == 0 {
		return 0
	}
	if err := w.queue.Requeue(ctx, w.config.Queue, tail); err != nil {
		log.Error("failed to requeue unprocessed messages, they remain in-flight",
			zap.Int("messages", len(tail)),
			zap.Error(err),
		)
		return 0
	}
	return len(tail)
}

// courtesyPause waits between remote calls; false when ctx ended first
func (w *Worker) courtesyPause(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if w.config.CourtesyDelay <= 0 {
		return true
	}
	timer := time.NewTimer(w.config.CourtesyDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// broadcastStatus publishes the queue state after a batch
func (w *Worker) broadcastStatus(ctx context.Context, report BatchReport) {
	length, err := w.queue.Length(ctx, w.config.Queue)
	if err != nil {
		w.logger.Warn("failed to read queue length", zap.Error(err))
		return
	}
	w.metrics.RecordQueueDepth(ctx, w.config.Queue.String(), length)
	if w.publisher == nil {
		return
	}

	inflight, err := w.queue.InflightCount(ctx, w.config.Queue)
	if err != nil {
		w.logger.Warn("failed to read in-flight count", zap.Error(err))
	}
	oldest, err := w.queue.OldestEnqueuedAt(ctx, w.config.Queue)
	if err != nil {
		w.logger.Warn("failed to read oldest message", zap.Error(err))
	}

	event := shipping.NewQueueStatusEvent(shipping.QueueStatusPayload{
		Queue:            w.config.Queue.String(),
		Length:           length,
		Inflight:         inflight,
		OldestEnqueuedAt: oldest,
		Processed:        report.Processed(),
		Requeued:         report.Requeued + report.Retried,
		RateLimited:      report.RateLimited,
	})
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.logger.Warn("failed to broadcast queue status", zap.Error(err))
	}
}
