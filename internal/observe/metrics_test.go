package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the counter value for the data point whose attributes
// contain all of want.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if hasAttrs(dp.Attributes, want) {
			total += dp.Value
		}
	}
	return total
}

func hasAttrs(set attribute.Set, want []attribute.KeyValue) bool {
	for _, kv := range want {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestProviderObserver(t *testing.T) {
	m, reader := newTestMetrics(t)

	obs := m.ProviderObserver(KindLLM)
	obs("ollama", 200*time.Millisecond, errors.New("connection refused"))
	obs("openai", 300*time.Millisecond, nil)

	rm := collect(t, reader)

	if got := sumValue(t, rm, "vocalis.provider.requests", Attr("provider", "ollama"), Attr("status", "error")); got != 1 {
		t.Errorf("ollama error requests = %d, want 1", got)
	}
	if got := sumValue(t, rm, "vocalis.provider.requests", Attr("provider", "openai"), Attr("status", "ok")); got != 1 {
		t.Errorf("openai ok requests = %d, want 1", got)
	}
	if got := sumValue(t, rm, "vocalis.provider.errors", Attr("kind", KindLLM)); got != 1 {
		t.Errorf("llm errors = %d, want 1", got)
	}

	met := findMetric(rm, "vocalis.llm.duration")
	if met == nil {
		t.Fatal("vocalis.llm.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("vocalis.llm.duration is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("llm duration samples = %d, want 2", count)
	}
}

func TestProviderObserver_UnknownKindSkipsHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.ProviderObserver("converter")("rvc", time.Second, nil)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "vocalis.provider.requests", Attr("kind", "converter")); got != 1 {
		t.Errorf("converter requests = %d, want 1", got)
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "chat", "ok", 2*time.Second)
	m.RecordTurn(ctx, "chat", "provider", time.Second)
	m.RecordTurn(ctx, "stream", "ok", time.Second)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "vocalis.turns", Attr("mode", "chat")); got != 2 {
		t.Errorf("chat turns = %d, want 2", got)
	}
	if got := sumValue(t, rm, "vocalis.turns", Attr("status", "ok")); got != 2 {
		t.Errorf("ok turns = %d, want 2", got)
	}
	if findMetric(rm, "vocalis.turn.duration") == nil {
		t.Error("vocalis.turn.duration not recorded")
	}
}

func TestStreamEventsAndActiveStreams(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)
	for _, typ := range []string{"text", "text", "emotion", "done"} {
		m.RecordStreamEvent(ctx, typ)
	}

	rm := collect(t, reader)
	if got := sumValue(t, rm, "vocalis.active_streams"); got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
	if got := sumValue(t, rm, "vocalis.stream.events", Attr("type", "text")); got != 2 {
		t.Errorf("text events = %d, want 2", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
