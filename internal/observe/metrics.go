// Package observe provides application-wide observability primitives for
// Oratio: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Oratio metrics.
const meterName = "github.com/evandegr/oratio"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EncodeDuration tracks codec encode latency per frame.
	EncodeDuration metric.Float64Histogram

	// DecodeDuration tracks codec decode latency per frame.
	DecodeDuration metric.Float64Histogram

	// StepDuration tracks generation step latency per frame.
	StepDuration metric.Float64Histogram

	// --- Counters ---

	// StepFailures counts failed generation steps. Use with attribute:
	//   attribute.String("reason", ...): "error", "deadline", or "shape"
	StepFailures metric.Int64Counter

	// Suggestions counts suggestion channel outcomes. Use with attribute:
	//   attribute.String("outcome", ...): "accepted", "rejected", or "consumed"
	Suggestions metric.Int64Counter

	// PlaybackUnderflows counts playback pulls served with silence.
	PlaybackUnderflows metric.Int64Counter

	// TranscriptDrops counts transcript entries dropped by slow consumers.
	TranscriptDrops metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks the number of live conversations.
	ActiveConversations metric.Int64UpDownCounter

	// PlaybackDepth tracks buffered playback frames across conversations.
	PlaybackDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame pipeline work, where one frame is tens of milliseconds.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EncodeDuration, err = m.Float64Histogram("oratio.codec.encode.duration",
		metric.WithDescription("Latency of one codec encode step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("oratio.codec.decode.duration",
		metric.WithDescription("Latency of one codec decode step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StepDuration, err = m.Float64Histogram("oratio.gen.step.duration",
		metric.WithDescription("Latency of one generation step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StepFailures, err = m.Int64Counter("oratio.gen.step.failures",
		metric.WithDescription("Total failed generation steps by reason."),
	); err != nil {
		return nil, err
	}
	if met.Suggestions, err = m.Int64Counter("oratio.suggestions",
		metric.WithDescription("Total suggestion channel events by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnderflows, err = m.Int64Counter("oratio.playback.underflows",
		metric.WithDescription("Total playback pulls served with a silence frame."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptDrops, err = m.Int64Counter("oratio.transcript.drops",
		metric.WithDescription("Total transcript entries dropped by slow consumers."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("oratio.active_conversations",
		metric.WithDescription("Number of live conversations."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDepth, err = m.Int64UpDownCounter("oratio.playback.depth",
		metric.WithDescription("Buffered playback frames across all conversations."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("oratio.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStepFailure records a failed generation step with the given reason.
func (m *Metrics) RecordStepFailure(ctx context.Context, reason string) {
	m.StepFailures.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordSuggestion records a suggestion channel event with the given outcome.
func (m *Metrics) RecordSuggestion(ctx context.Context, outcome string) {
	m.Suggestions.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordStageDuration records d on the given stage histogram.
func RecordStageDuration(ctx context.Context, h metric.Float64Histogram, d time.Duration) {
	h.Record(ctx, d.Seconds())
}
