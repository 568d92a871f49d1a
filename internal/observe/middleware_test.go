package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// serve runs one request through the middleware in front of a mux with the
// vocalis route shapes.
func serve(t *testing.T, m *Metrics, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /api/v1/voice/audio/{name}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("RIFF"))
	})
	mux.HandleFunc("POST /api/v1/assistant/chat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, req)
	return rec
}

func newMiddlewareFixture(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, useTestTracer(t)
}

func TestMiddleware_CorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "continues incoming trace",
			traceparent: "00-" + incomingTraceID + "-00f067aa0ba902b7-01",
			want:        incomingTraceID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, exp := newMiddlewareFixture(t)
			req := httptest.NewRequest("GET", "/api/v1/health", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := serve(t, m, req)

			got := rec.Header().Get(CorrelationHeader)
			if len(got) != 32 {
				t.Fatalf("%s = %q, want 32 hex chars", CorrelationHeader, got)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("%s = %q, want %q", CorrelationHeader, got, tt.want)
			}
			if spans := exp.GetSpans(); len(spans) != 1 || spans[0].SpanContext.TraceID().String() != got {
				t.Errorf("span trace id does not match %s", CorrelationHeader)
			}
		})
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	tests := []struct {
		method, path string
		wantName     string
		wantErr      bool
	}{
		{method: "GET", path: "/api/v1/voice/audio/aliya_0123456789ab.wav", wantName: "GET /api/v1/voice/audio/{name}"},
		{method: "POST", path: "/api/v1/assistant/chat", wantName: "POST /api/v1/assistant/chat", wantErr: true},
		{method: "GET", path: "/nowhere", wantName: "GET unmatched"},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			m, _, exp := newMiddlewareFixture(t)
			serve(t, m, httptest.NewRequest(tt.method, tt.path, nil))

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Name != tt.wantName {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.wantName)
			}
			if gotErr := spans[0].Status.Code == codes.Error; gotErr != tt.wantErr {
				t.Errorf("span error = %v, want %v", gotErr, tt.wantErr)
			}
		})
	}
}

func TestMiddleware_RecordsDurationByPattern(t *testing.T) {
	m, reader, _ := newMiddlewareFixture(t)
	for _, name := range []string{"a_000000000001.wav", "b_000000000002.wav"} {
		serve(t, m, httptest.NewRequest("GET", "/api/v1/voice/audio/"+name, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "vocalis.http.request.duration")
	if met == nil {
		t.Fatal("vocalis.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data = %T, want histogram", met.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 (one route)", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	if v, _ := dp.Attributes.Value("path"); v.AsString() != "GET /api/v1/voice/audio/{name}" {
		t.Errorf("path = %q, want the route pattern", v.AsString())
	}
	if v, _ := dp.Attributes.Value("status"); v.AsInt64() != http.StatusOK {
		t.Errorf("status = %d, want 200", v.AsInt64())
	}
}

func TestMiddleware_LogsRequest(t *testing.T) {
	m, _, _ := newMiddlewareFixture(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	serve(t, m, httptest.NewRequest("GET", "/api/v1/health", nil))
	if buf.Len() != 0 {
		t.Errorf("health probe logged at info: %s", buf.String())
	}

	serve(t, m, httptest.NewRequest("GET", "/api/v1/voice/audio/a_000000000001.wav", nil))
	line := buf.String()
	for _, want := range []string{"request completed", "status=200", "bytes=4", "level=INFO"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}

	buf.Reset()
	serve(t, m, httptest.NewRequest("POST", "/api/v1/assistant/chat", nil))
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("5xx log line = %q, want level=WARN", buf.String())
	}
}

func TestMiddleware_SupportsFlush(t *testing.T) {
	m, _, _ := newMiddlewareFixture(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"type":"text","content":"При"}` + "\n"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush: %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/assistant/chat-stream", nil))
	if !rec.Flushed {
		t.Error("response was not flushed through the middleware")
	}
}
