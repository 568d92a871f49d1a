package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test. Tests using it must not run in parallel.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestStartStage_RecordsSpan(t *testing.T) {
	exp := useTestTracer(t)

	ctx, end := StartStage(context.Background(), StageGenerate, Attr("model", "ollama/qwen"))
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("correlation id = %q, want 32 hex chars", cid)
	}
	end(nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "vocalis.generate" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "vocalis.generate")
	}
	if spans[0].Status.Code == codes.Error {
		t.Errorf("status = %v, want unset", spans[0].Status.Code)
	}
	if len(spans[0].Attributes) != 1 || spans[0].Attributes[0].Value.AsString() != "ollama/qwen" {
		t.Errorf("attributes = %v, want model=ollama/qwen", spans[0].Attributes)
	}
}

func TestStartStage_MarksFailure(t *testing.T) {
	exp := useTestTracer(t)

	_, end := StartStage(context.Background(), StageSynthesize)
	end(errors.New("worker returned 503"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "worker returned 503" {
		t.Errorf("status = %v %q, want error", spans[0].Status.Code, spans[0].Status.Description)
	}
	if len(spans[0].Events) != 1 {
		t.Errorf("events = %d, want the recorded error", len(spans[0].Events))
	}
}

func TestStartStage_NestsUnderTurn(t *testing.T) {
	exp := useTestTracer(t)

	ctx, endTurn := StartStage(context.Background(), StageTurn)
	_, endSTT := StartStage(ctx, StageTranscribe)
	endSTT(nil)
	endTurn(nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	stt, turn := spans[0], spans[1]
	if stt.Parent.SpanID() != turn.SpanContext.SpanID() {
		t.Errorf("transcribe parent = %s, want turn span %s", stt.Parent.SpanID(), turn.SpanContext.SpanID())
	}
	if stt.SpanContext.TraceID() != turn.SpanContext.TraceID() {
		t.Error("stages of one turn must share a trace id")
	}
}

func TestLogger_AddsTraceAttributes(t *testing.T) {
	useTestTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}

	buf.Reset()
	ctx, end := StartStage(context.Background(), StageTurn)
	defer end(nil)
	Logger(ctx).Info("with span")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) || !strings.Contains(out, "span_id=") {
		t.Errorf("log line = %q, want trace_id and span_id", out)
	}
}
