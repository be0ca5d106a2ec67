package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"identity-service/backend/internal/telemetry"
)

// metricsEmitter turns auth events into an attempt counter and a latency histogram.
type metricsEmitter struct {
	attempts otelmetric.Int64Counter
	latency  otelmetric.Float64Histogram
}

// NewMetricsEmitter registers the auth instruments on mp.
func NewMetricsEmitter(mp otelmetric.MeterProvider) (telemetry.EventEmitter, error) {
	meter := mp.Meter(InstrumentationName)
	attempts, err := meter.Int64Counter("auth.attempts",
		otelmetric.WithDescription("Identity flow attempts by type and outcome."))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("auth.duration",
		otelmetric.WithDescription("Identity flow latency."),
		otelmetric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &metricsEmitter{attempts: attempts, latency: latency}, nil
}

func (m *metricsEmitter) Emit(ctx context.Context, event *telemetry.AuthEvent) error {
	if event == nil {
		return nil
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("event_type", string(event.Type)),
		attribute.String("outcome", string(event.Outcome)),
		attribute.String("method", event.Method),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.latency.Record(ctx, event.Duration, attrs)
	return nil
}
