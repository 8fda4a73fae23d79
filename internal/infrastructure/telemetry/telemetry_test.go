package telemetry_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shipsync/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func newTestProvider(t *testing.T) (*telemetry.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp, err := telemetry.NewMeterProviderWithReader(telemetry.DefaultConfig(), reader, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestSyncMetrics(t *testing.T) {
	ctx := context.Background()
	mp, reader := newTestProvider(t)
	m, err := telemetry.NewSyncMetrics(mp.Meter("shipsync"))
	require.NoError(t, err)

	m.RecordOutcome(ctx, "shipment_sync", "completed")
	m.RecordOutcome(ctx, "shipment_sync", "completed")
	m.RecordOutcome(ctx, "shipment_sync", "dead_lettered")
	m.RecordOutcome(ctx, "order_import", "completed")
	m.RecordRateLimitStop(ctx, "shipment_sync")
	m.RecordQueueDepth(ctx, "shipment_sync", 7)
	m.RecordQueueDepth(ctx, "shipment_sync", 4)

	metrics := collect(t, reader)

	messages := metrics["shipsync_messages_total"]
	assert.Equal(t, int64(2), sumFor(t, messages, telemetry.AttrQueue.String("shipment_sync"), telemetry.AttrOutcome.String("completed")))
	assert.Equal(t, int64(1), sumFor(t, messages, telemetry.AttrQueue.String("shipment_sync"), telemetry.AttrOutcome.String("dead_lettered")))
	assert.Equal(t, int64(1), sumFor(t, messages, telemetry.AttrQueue.String("order_import"), telemetry.AttrOutcome.String("completed")))
	assert.Equal(t, int64(1), sumFor(t, metrics["shipsync_rate_limit_stops_total"], telemetry.AttrQueue.String("shipment_sync")))

	gauge, ok := metrics["shipsync_queue_depth"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)
}

func TestNewSyncMetrics_NilMeter(t *testing.T) {
	_, err := telemetry.NewSyncMetrics(nil)
	assert.ErrorIs(t, err, telemetry.ErrMeterNil)
}

func TestRegisterPoolMetrics(t *testing.T) {
	mp, reader := newTestProvider(t)
	err := telemetry.RegisterPoolMetrics(mp.Meter("db"), func() sql.DBStats {
		return sql.DBStats{OpenConnections: 5, InUse: 2, WaitCount: 9}
	})
	require.NoError(t, err)

	metrics := collect(t, reader)
	open, ok := metrics["db_pool_open_connections"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(5), open.DataPoints[0].Value)
	assert.Equal(t, int64(9), sumFor(t, metrics["db_pool_wait_total"]))
}

func TestProviders_Disabled(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	cfg := telemetry.DefaultConfig()

	mp, err := telemetry.NewMeterProvider(ctx, cfg, logger)
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("noop"))
	assert.NoError(t, mp.ForceFlush(ctx))
	assert.NoError(t, mp.Shutdown(ctx))

	tp, err := telemetry.NewTracerProvider(ctx, cfg, logger)
	require.NoError(t, err)
	assert.False(t, tp.IsEnabled())
	assert.NoError(t, tp.Shutdown(ctx))

	lp, err := telemetry.NewLoggerProvider(ctx, cfg, logger)
	require.NoError(t, err)
	assert.False(t, lp.IsEnabled())
	base := zap.NewNop()
	assert.Same(t, base, lp.Bridge(base, "shipsync", zapcore.InfoLevel))
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestStartSpan_NoProvider(t *testing.T) {
	ctx, span := telemetry.StartSpan(context.Background(), "sync.batch", telemetry.AttrQueue.String("shipment_sync"))
	defer telemetry.EndSpan(span, nil)
	assert.Equal(t, "", telemetry.TraceID(ctx))
}
