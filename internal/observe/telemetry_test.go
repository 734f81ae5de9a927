package observe_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/livetalk/internal/observe"
)

// setup runs observe.Setup and restores the global providers afterwards.
func setup(t *testing.T, opts ...observe.TelemetryOption) *observe.Telemetry {
	t.Helper()
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})
	tel, err := observe.Setup(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return tel
}

// familyNames gathers the registry and returns the metric family names.
func familyNames(t *testing.T, tel *observe.Telemetry) []string {
	t.Helper()
	mfs, err := tel.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	return names
}

func hasPrefix(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

func TestSetup_ExportsSessionMetrics(t *testing.T) {
	ctx := context.Background()
	tel := setup(t, observe.WithService("livetalk-test", "v0"))
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.Metrics.RecordUtterance(ctx, "manual", 1500*time.Millisecond)
	tel.Metrics.RecordRoundTrip(ctx, 400*time.Millisecond)

	names := familyNames(t, tel)
	for _, want := range []string{"livetalk_utterance", "livetalk_roundtrip", "go_goroutines"} {
		if !hasPrefix(names, want) {
			t.Errorf("no metric family starting with %q in %v", want, names)
		}
	}
}

func TestSetup_WithoutRuntimeMetrics(t *testing.T) {
	tel := setup(t, observe.WithoutRuntimeMetrics())
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if names := familyNames(t, tel); hasPrefix(names, "go_") || hasPrefix(names, "process_") {
		t.Errorf("runtime collectors registered: %v", names)
	}
}

func TestSetup_ExportsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel := setup(t, observe.WithSpanExporter(exp), observe.WithoutRuntimeMetrics())

	_, span := observe.StartSpan(context.Background(), "live.turn")
	span.End()

	// Shutdown flushes the batcher.
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "live.turn" {
		t.Fatalf("exported spans = %v, want one live.turn", spans.Snapshots())
	}
}

func TestSetup_TurnSamplingZeroDropsRootSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel := setup(t, observe.WithSpanExporter(exp), observe.WithTurnSampling(0), observe.WithoutRuntimeMetrics())

	_, span := observe.StartSpan(context.Background(), "live.turn")
	span.End()
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("exported %d spans with sampling 0, want 0", n)
	}
}
