// Package observe provides application-wide observability primitives for
// Vigil: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vigil metrics.
const meterName = "github.com/vigil-video/vigil"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// PipelineStageDuration tracks the latency of one analysis pipeline
	// stage. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	PipelineStageDuration metric.Float64Histogram

	// PipelineDuration tracks the end-to-end latency of one
	// process-recording invocation.
	PipelineDuration metric.Float64Histogram

	// MonitorTickDuration tracks the wall time of one safety-monitor tick.
	MonitorTickDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// SafetyFlags counts fired safety flags. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("source", ...)
	SafetyFlags metric.Int64Counter

	// MonitorTicksSkipped counts ticks dropped because the previous tick
	// was still running.
	MonitorTicksSkipped metric.Int64Counter

	// ProviderErrors counts external provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveMonitors tracks the number of running safety monitors.
	ActiveMonitors metric.Int64UpDownCounter

	// ActiveSessions tracks the number of sessions in status active.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets accommodate whole-pipeline runs that include a transcription call.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PipelineStageDuration, err = m.Float64Histogram("vigil.pipeline.stage.duration",
		metric.WithDescription("Latency of one analysis pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("vigil.pipeline.duration",
		metric.WithDescription("End-to-end latency of one process-recording invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MonitorTickDuration, err = m.Float64Histogram("vigil.monitor.tick.duration",
		metric.WithDescription("Wall time of one safety-monitor tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("vigil.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SafetyFlags, err = m.Int64Counter("vigil.safety.flags",
		metric.WithDescription("Total fired safety flags by kind and source."),
	); err != nil {
		return nil, err
	}
	if met.MonitorTicksSkipped, err = m.Int64Counter("vigil.monitor.ticks_skipped",
		metric.WithDescription("Monitor ticks dropped due to a still-running previous tick."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("vigil.provider.errors",
		metric.WithDescription("Total external provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveMonitors, err = m.Int64UpDownCounter("vigil.active_monitors",
		metric.WithDescription("Number of running safety monitors."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("vigil.active_sessions",
		metric.WithDescription("Number of sessions in status active."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records one pipeline stage duration with its outcome.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PipelineStageDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordSafetyFlag records one fired safety flag.
func (m *Metrics) RecordSafetyFlag(ctx context.Context, kind, source string) {
	m.SafetyFlags.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("source", source),
		),
	)
}

// RecordProviderError records one external provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
