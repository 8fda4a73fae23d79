// Package telemetry wires OpenTelemetry metrics, traces and logs for the sync engine.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// ErrMeterNil is returned when an instrument is requested from a nil meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// Config holds the OTLP collector settings shared by every signal
type Config struct {
	Enabled           bool
	CollectorEndpoint string
	Insecure          bool
	ServiceName       string
	ServiceVersion    string
	// SamplingRatio applies to traces only
	SamplingRatio float64
	// ExportInterval applies to metrics only
	ExportInterval time.Duration
	// LogsEnabled additionally ships zap records to the collector
	LogsEnabled bool
}

// DefaultConfig returns telemetry disabled with sensible exporter settings
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		CollectorEndpoint: "localhost:4317",
		Insecure:          true,
		ServiceName:       "shipsync",
		ServiceVersion:    "1.0.0",
		SamplingRatio:     1.0,
		ExportInterval:    30 * time.Second,
	}
}

func newResource(cfg Config) (*resource.Resource, error) {
	version := cfg.ServiceVersion
	if version == "" {
		version = "1.0.0"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
