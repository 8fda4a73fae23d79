package telemetry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InstrumentGorm registers the otelgorm plugin so every statement gets a span.
// Query variables are never attached to spans.
func InstrumentGorm(db *gorm.DB, cfg Config, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if err := db.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName("shipsync"),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return fmt.Errorf("failed to register otelgorm: %w", err)
	}
	logger.Info("Database tracing enabled")
	return nil
}

// RegisterPoolMetrics exposes connection pool gauges read from stats on each collection
func RegisterPoolMetrics(meter metric.Meter, stats func() sql.DBStats) error {
	if meter == nil {
		return ErrMeterNil
	}
	open, err := meter.Int64ObservableGauge("db_pool_open_connections",
		metric.WithDescription("Open database connections"))
	if err != nil {
		return fmt.Errorf("failed to create db_pool_open_connections: %w", err)
	}
	inUse, err := meter.Int64ObservableGauge("db_pool_in_use_connections",
		metric.WithDescription("Database connections in use"))
	if err != nil {
		return fmt.Errorf("failed to create db_pool_in_use_connections: %w", err)
	}
	waits, err := meter.Int64ObservableCounter("db_pool_wait_total",
		metric.WithDescription("Connections waited for"))
	if err != nil {
		return fmt.Errorf("failed to create db_pool_wait_total: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(open, int64(s.OpenConnections))
		o.ObserveInt64(inUse, int64(s.InUse))
		o.ObserveInt64(waits, s.WaitCount)
		return nil
	}, open, inUse, waits)
	if err != nil {
		return fmt.Errorf("failed to register pool callback: %w", err)
	}
	return nil
}
