package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Turn stages reported as span names by [StartStage].
const (
	StageTurn       = "turn"
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
)

// Tracer returns the vocalis tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(meterName)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStage starts the span for one turn stage ("vocalis.<stage>"). The
// returned func ends it and marks it failed when err is non-nil.
func StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := StartSpan(ctx, "vocalis."+stage, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// The HTTP middleware reports it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id of the span in
// ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
