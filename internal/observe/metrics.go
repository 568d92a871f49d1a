// Package observe provides application-wide observability primitives for
// Vocalis: OpenTelemetry metrics, distributed tracing, structured logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be scraped
// via the standard /metrics endpoint. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vocalis metrics.
const meterName = "github.com/MrWong99/vocalis"

// Provider kinds used as the "kind" attribute.
const (
	KindLLM = "llm"
	KindSTT = "stt"
	KindTTS = "tts"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks text generation latency per provider attempt.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks voice synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end assistant turn latency.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// Turns counts finished assistant turns. Attributes: mode, status.
	Turns metric.Int64Counter

	// StreamEvents counts NDJSON events written. Attribute: type.
	StreamEvents metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of open streaming turns.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path (route pattern), status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Model
// inference and cloning run into tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "vocalis.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "vocalis.llm.duration", "Latency of text generation per provider attempt."},
		{&met.TTSDuration, "vocalis.tts.duration", "Latency of voice synthesis."},
		{&met.TurnDuration, "vocalis.turn.duration", "End-to-end assistant turn latency."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ProviderRequests, err = m.Int64Counter("vocalis.provider.requests",
		metric.WithDescription("Total provider calls by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("vocalis.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("vocalis.turns",
		metric.WithDescription("Total assistant turns by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.StreamEvents, err = m.Int64Counter("vocalis.stream.events",
		metric.WithDescription("Total streamed turn events by type."),
	); err != nil {
		return nil, err
	}

	if met.ActiveStreams, err = m.Int64UpDownCounter("vocalis.active_streams",
		metric.WithDescription("Number of open streaming turns."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalis.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records a finished turn. mode is "chat", "stream" or "voice";
// status is "ok" or an error kind.
func (m *Metrics) RecordTurn(ctx context.Context, mode, status string, took time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, took.Seconds(), attrs)
}

// RecordStreamEvent counts one streamed event of the given type.
func (m *Metrics) RecordStreamEvent(ctx context.Context, eventType string) {
	m.StreamEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// ProviderObserver returns a callback suitable for resilience.FallbackConfig
// that records one attempt against provider: the kind latency histogram, the
// request counter and, on failure, the error counter.
func (m *Metrics) ProviderObserver(kind string) func(provider string, took time.Duration, err error) {
	hist := m.histogramFor(kind)
	return func(provider string, took time.Duration, err error) {
		ctx := context.Background()
		status := "ok"
		if err != nil {
			status = "error"
			m.RecordProviderError(ctx, provider, kind)
		}
		m.RecordProviderRequest(ctx, provider, kind, status)
		if hist != nil {
			hist.Record(ctx, took.Seconds(), metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("status", status),
			))
		}
	}
}

func (m *Metrics) histogramFor(kind string) metric.Float64Histogram {
	switch kind {
	case KindLLM:
		return m.LLMDuration
	case KindSTT:
		return m.STTDuration
	case KindTTS:
		return m.TTSDuration
	default:
		return nil
	}
}
