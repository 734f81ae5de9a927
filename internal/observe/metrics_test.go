package observe

import (
	"context"
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

// hasAttr reports whether set contains key=value.
func hasAttr(set attribute.Set, key, value string) bool {
	v, ok := set.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

// int64Sum returns the data points of the named int64 sum.
func int64Sum(t *testing.T, rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	return sum.DataPoints
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRoundTrip(ctx, 300*time.Millisecond)
	m.RecordRoundTrip(ctx, 700*time.Millisecond)

	met := findMetric(collect(t, reader), "livetalk.roundtrip.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	if dp.Sum < 0.999 || dp.Sum > 1.001 {
		t.Errorf("sum = %v, want 1.0", dp.Sum)
	}
}

func TestRecordUtterance(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "manual", 2*time.Second)
	m.RecordUtterance(ctx, "manual", time.Second)
	m.RecordUtterance(ctx, "auto", time.Second)

	rm := collect(t, reader)
	var manual int64
	for _, dp := range int64Sum(t, rm, "livetalk.utterances") {
		if hasAttr(dp.Attributes, "gate", "manual") {
			manual = dp.Value
		}
	}
	if manual != 2 {
		t.Errorf("manual utterances = %d, want 2", manual)
	}

	met := findMetric(rm, "livetalk.utterance.duration")
	if met == nil {
		t.Fatal("utterance duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Count != 3 {
		t.Errorf("utterance duration count = %d, want 3", hist.DataPoints[0].Count)
	}
}

func TestPlaybackMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlayback(ctx, 1500*time.Millisecond)
	m.RecordPlayback(ctx, 500*time.Millisecond)
	m.RecordUnderrun(ctx)

	rm := collect(t, reader)
	met := findMetric(rm, "livetalk.playback.seconds")
	if met == nil {
		t.Fatal("playback seconds not found")
	}
	sum, ok := met.Data.(metricdata.Sum[float64])
	if !ok {
		t.Fatal("playback seconds is not a float sum")
	}
	if got := sum.DataPoints[0].Value; got < 1.999 || got > 2.001 {
		t.Errorf("playback seconds = %v, want 2", got)
	}
	if got := int64Sum(t, rm, "livetalk.playback.underruns")[0].Value; got != 1 {
		t.Errorf("underruns = %d, want 1", got)
	}
}

func TestTransitionAndErrorCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "idle", "connecting")
	m.RecordTransition(ctx, "connecting", "ready")
	m.RecordTransition(ctx, "idle", "connecting")
	m.RecordSessionError(ctx, "connection")
	m.RecordProtocolMessage(ctx, "out", "setup")

	rm := collect(t, reader)

	found := false
	for _, dp := range int64Sum(t, rm, "livetalk.session.transitions") {
		if hasAttr(dp.Attributes, "from", "idle") && hasAttr(dp.Attributes, "to", "connecting") {
			found = true
			if dp.Value != 2 {
				t.Errorf("idle->connecting = %d, want 2", dp.Value)
			}
		}
	}
	if !found {
		t.Error("idle->connecting data point not found")
	}

	errs := int64Sum(t, rm, "livetalk.session.errors")
	if len(errs) != 1 || !hasAttr(errs[0].Attributes, "kind", "connection") {
		t.Errorf("session errors = %+v, want one connection error", errs)
	}

	msgs := int64Sum(t, rm, "livetalk.protocol.messages")
	if len(msgs) != 1 || !hasAttr(msgs[0].Attributes, "type", "setup") {
		t.Errorf("protocol messages = %+v, want one setup", msgs)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "stt", "ok")
	m.RecordProviderRequest(ctx, "openai", "stt", "ok")
	m.RecordProviderRequest(ctx, "openai", "stt", "error")
	m.RecordProviderError(ctx, "openai", "stt")

	rm := collect(t, reader)
	for _, dp := range int64Sum(t, rm, "livetalk.provider.requests") {
		if hasAttr(dp.Attributes, "status", "ok") && dp.Value != 2 {
			t.Errorf("ok requests = %d, want 2", dp.Value)
		}
	}
	if got := int64Sum(t, rm, "livetalk.provider.errors")[0].Value; got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	if got := int64Sum(t, collect(t, reader), "livetalk.active_sessions")[0].Value; got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a == nil {
		t.Fatal("DefaultMetrics returned nil")
	}
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
