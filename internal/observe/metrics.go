// Package observe provides application-wide observability primitives for
// cuecard: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all cuecard metrics.
const meterName = "github.com/MrWong99/cuecard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AlignDuration tracks how long one matcher call takes. Use with attribute:
	//   attribute.String("strategy", ...)
	AlignDuration metric.Float64Histogram

	// STTConnectDuration tracks how long opening a recognition stream takes.
	STTConnectDuration metric.Float64Histogram

	// --- Counters ---

	// Snapshots counts transcript snapshots applied to reading sessions. Use
	// with attributes:
	//   attribute.String("source", ...), attribute.Bool("final", ...)
	Snapshots metric.Int64Counter

	// Advances counts snapshots that moved a progress pointer. Use with
	// attribute:
	//   attribute.String("strategy", ...)
	Advances metric.Int64Counter

	// SourceRestarts counts recognition streams reopened after the service
	// ended them.
	SourceRestarts metric.Int64Counter

	// AudioDropped counts audio chunks that never reached a recogniser. Use
	// with attribute:
	//   attribute.String("cause", ...)
	AudioDropped metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// RecognitionErrors counts recognition errors. Use with attributes:
	//   attribute.String("reason", ...), attribute.Bool("fatal", ...)
	RecognitionErrors metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected reading sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks the number of open server-side recognition streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for network
// round-trips to recognition services.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// alignBuckets covers matcher calls, which run in-process on short texts.
var alignBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AlignDuration, err = m.Float64Histogram("cuecard.align.duration",
		metric.WithDescription("Latency of a single alignment call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(alignBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTConnectDuration, err = m.Float64Histogram("cuecard.stt.connect.duration",
		metric.WithDescription("Latency of opening a recognition stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Snapshots, err = m.Int64Counter("cuecard.snapshots",
		metric.WithDescription("Total transcript snapshots by source and finality."),
	); err != nil {
		return nil, err
	}
	if met.Advances, err = m.Int64Counter("cuecard.advances",
		metric.WithDescription("Total snapshots that advanced a reading position, by strategy."),
	); err != nil {
		return nil, err
	}
	if met.SourceRestarts, err = m.Int64Counter("cuecard.source.restarts",
		metric.WithDescription("Total recognition streams reopened after the service ended them."),
	); err != nil {
		return nil, err
	}
	if met.AudioDropped, err = m.Int64Counter("cuecard.audio.dropped",
		metric.WithDescription("Total audio chunks dropped before recognition, by cause."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("cuecard.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.RecognitionErrors, err = m.Int64Counter("cuecard.recognition.errors",
		metric.WithDescription("Total recognition errors by reason and fatality."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("cuecard.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("cuecard.active_sessions",
		metric.WithDescription("Number of connected reading sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("cuecard.active_streams",
		metric.WithDescription("Number of open server-side recognition streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cuecard.http.request.duration",
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

// RecordAlignment records the duration of one matcher call and, when the
// pointer moved, an advance.
func (m *Metrics) RecordAlignment(ctx context.Context, strategy string, d time.Duration, advanced bool) {
	attrs := metric.WithAttributes(attribute.String("strategy", strategy))
	m.AlignDuration.Record(ctx, d.Seconds(), attrs)
	if advanced {
		m.Advances.Add(ctx, 1, attrs)
	}
}

// RecordSnapshot records a transcript snapshot from the named source
// ("client" or "server").
func (m *Metrics) RecordSnapshot(ctx context.Context, source string, final bool) {
	m.Snapshots.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.Bool("final", final),
		),
	)
}

// RecordRecognitionError records a recognition error with its reason code.
func (m *Metrics) RecordRecognitionError(ctx context.Context, reason string, fatal bool) {
	m.RecognitionErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.Bool("fatal", fatal),
		),
	)
}

// RecordAudioDropped records one audio chunk lost for cause, e.g.
// "no_stream" or "send_failed".
func (m *Metrics) RecordAudioDropped(ctx context.Context, cause string) {
	m.AudioDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
