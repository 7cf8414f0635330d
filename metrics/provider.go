// Package metrics wires the OpenTelemetry metrics SDK to a Prometheus
// exporter, grounded on MrWong99-glyphoxa's internal/observe/provider.go
// (trimmed to the metrics half — this module carries no tracing surface,
// see DESIGN.md).
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ProviderConfig configures the meter provider.
type ProviderConfig struct {
	// ServiceName is not read by InitProvider; the meter provider carries no
	// resource attributes.
	ServiceName string
}

// InitProvider installs a Prometheus-backed MeterProvider as the global OTel
// meter provider and returns a shutdown function to call from main().
func InitProvider(cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExp))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Instruments bundles the counters/histograms the lifecycle manager and
// event bus publish to (spec §8's observable invariants: activation
// duration, dropped-event counts).
type Instruments struct {
	ActivationDuration metric.Float64Histogram
	ActivationTotal    metric.Int64Counter
	ActivationFailures metric.Int64Counter
	EventsDropped      metric.Int64Counter
}

// NewInstruments creates the instrument set on the named meter.
func NewInstruments(meterName string) (*Instruments, error) {
	meter := otel.Meter(meterName)

	duration, err := meter.Float64Histogram(
		"model_activation_duration_seconds",
		metric.WithDescription("time from activation start to ready or failure"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	total, err := meter.Int64Counter(
		"model_activations_total",
		metric.WithDescription("count of activation attempts"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"model_activation_failures_total",
		metric.WithDescription("count of activations that ended in an error event"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter(
		"event_bus_dropped_events_total",
		metric.WithDescription("count of non-terminal events dropped by a full subscription buffer"),
	)
	if err != nil {
		return nil, err
	}

	return &Instruments{
		ActivationDuration: duration,
		ActivationTotal:    total,
		ActivationFailures: failures,
		EventsDropped:      dropped,
	}, nil
}
