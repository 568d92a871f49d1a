package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// DefaultServiceName is reported when ProviderConfig.ServiceName is empty.
const DefaultServiceName = "vocalis"

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string

	// Registerer receives the Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer, which promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter receives finished spans. Nil records spans without
	// exporting them.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of new traces sampled, in (0, 1]. Zero
	// samples everything. Incoming sampled parents are always honoured.
	SampleRatio float64
}

// InitProvider installs global meter and tracer providers and the W3C trace
// context propagator. Metrics are exported through Prometheus. The returned
// func flushes and stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("observe: sample ratio %v out of range [0, 1]", cfg.SampleRatio)
	}

	// The service attributes carry no schema URL so the merge cannot conflict
	// with whatever schema the SDK stamps on resource.Default.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	mp, err := newMeterProvider(res, cfg.Registerer)
	if err != nil {
		return nil, err
	}
	tp := newTracerProvider(res, cfg)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		// Spans first so the batcher can still flush while metrics stop.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newMeterProvider(res *resource.Resource, reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	var opts []promexporter.Option
	if reg != nil {
		opts = append(opts, promexporter.WithRegisterer(reg))
	}
	exp, err := promexporter.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp)), nil
}

func newTracerProvider(res *resource.Resource, cfg ProviderConfig) *sdktrace.TracerProvider {
	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if cfg.TraceExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	return sdktrace.NewTracerProvider(opts...)
}
