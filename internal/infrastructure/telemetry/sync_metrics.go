package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys of the sync instruments
const (
	AttrQueue   = attribute.Key("queue")
	AttrOutcome = attribute.Key("outcome")
)

// SyncMetrics records per-message outcomes, rate-limit stops and queue depth.
// It satisfies shipsync.Metrics.
type SyncMetrics struct {
	messages       metric.Int64Counter
	rateLimitStops metric.Int64Counter
	queueDepth     metric.Int64ObservableGauge

	mu     sync.Mutex
	depths map[string]int64
}

// NewSyncMetrics registers the sync instruments on meter. Queue depth is an
// observable gauge reporting the last depth recorded per queue.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &SyncMetrics{depths: make(map[string]int64)}

	var err error
	m.messages, err = meter.Int64Counter(
		"shipsync_messages_total",
		metric.WithDescription("Sync messages handled, by queue and outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shipsync_messages_total: %w", err)
	}
	m.rateLimitStops, err = meter.Int64Counter(
		"shipsync_rate_limit_stops_total",
		metric.WithDescription("Batches cut short by a remote rate limit"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shipsync_rate_limit_stops_total: %w", err)
	}
	m.queueDepth, err = meter.Int64ObservableGauge(
		"shipsync_queue_depth",
		metric.WithDescription("Messages waiting in a sync queue"),
		metric.WithUnit("{message}"),
		metric.WithInt64Callback(m.observeDepth),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shipsync_queue_depth: %w", err)
	}
	return m, nil
}

// RecordOutcome counts one handled message
func (m *SyncMetrics) RecordOutcome(ctx context.Context, queue, outcome string) {
	m.messages.Add(ctx, 1, metric.WithAttributes(AttrQueue.String(queue), AttrOutcome.String(outcome)))
}

// RecordRateLimitStop counts one batch stopped by the gate
func (m *SyncMetrics) RecordRateLimitStop(ctx context.Context, queue string) {
	m.rateLimitStops.Add(ctx, 1, metric.WithAttributes(AttrQueue.String(queue)))
}

// RecordQueueDepth stores the depth reported on the next collection
func (m *SyncMetrics) RecordQueueDepth(_ context.Context, queue string, depth int64) {
	m.mu.Lock()
	m.depths[queue] = depth
	m.mu.Unlock()
}

func (m *SyncMetrics) observeDepth(_ context.Context, o metric.Int64Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for queue, depth := range m.depths {
		o.Observe(depth, metric.WithAttributes(AttrQueue.String(queue)))
	}
	return nil
}
