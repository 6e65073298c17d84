// Package observe provides application-wide observability primitives for
// VocalParam: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// Nothing in this package may be called from an audio callback.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VocalParam metrics.
const meterName = "github.com/MrWong99/vocalparam"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// EstimationDuration tracks how long Auto-OTO takes for one take.
	EstimationDuration metric.Float64Histogram

	// AnalysisDuration tracks a full analysis job: spectrogram, estimation
	// and the WAV artifact write.
	AnalysisDuration metric.Float64Histogram

	// --- Counters ---

	// Takes counts finished takes. Use with attribute:
	//   attribute.String("outcome", "accepted"|"discarded"|"rejected")
	Takes metric.Int64Counter

	// MarkerEdits counts marker mutation requests. Use with attributes:
	//   attribute.String("marker", ...), attribute.String("source", ...),
	//   attribute.String("result", "committed"|"rejected")
	MarkerEdits metric.Int64Counter

	// EstimationFallbacks counts estimates that found no onset and fell back
	// to the start of the search range.
	EstimationFallbacks metric.Int64Counter

	// --- Error counters ---

	// DeviceErrors counts device acquisition failures. Use with attribute:
	//   attribute.String("kind", "unavailable"|"busy"|"invalid")
	DeviceErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks recording sessions attached to the device.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for offline
// analysis of one take.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EstimationDuration, err = m.Float64Histogram("vocalparam.estimation.duration",
		metric.WithDescription("Latency of automatic oto parameter estimation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("vocalparam.analysis.duration",
		metric.WithDescription("Latency of a full take analysis job."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Takes, err = m.Int64Counter("vocalparam.takes",
		metric.WithDescription("Total finished takes by outcome."),
	); err != nil {
		return nil, err
	}
	if met.MarkerEdits, err = m.Int64Counter("vocalparam.marker.edits",
		metric.WithDescription("Total marker edit requests by marker, source, and result."),
	); err != nil {
		return nil, err
	}
	if met.EstimationFallbacks, err = m.Int64Counter("vocalparam.estimation.fallbacks",
		metric.WithDescription("Total estimates that found no onset."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DeviceErrors, err = m.Int64Counter("vocalparam.device.errors",
		metric.WithDescription("Total audio device errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocalparam.active_sessions",
		metric.WithDescription("Number of recording sessions attached to the device."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalparam.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordTake records a finished take with the given outcome.
func (m *Metrics) RecordTake(ctx context.Context, outcome string) {
	m.Takes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordMarkerEdit records one marker edit request with its outcome.
func (m *Metrics) RecordMarkerEdit(ctx context.Context, marker, source string, committed bool) {
	result := "committed"
	if !committed {
		result = "rejected"
	}
	m.MarkerEdits.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("marker", marker),
			attribute.String("source", source),
			attribute.String("result", result),
		),
	)
}

// RecordDeviceError records a device error of the given kind.
func (m *Metrics) RecordDeviceError(ctx context.Context, kind string) {
	m.DeviceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
