package playback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/playback"
	"github.com/MrWong99/livetalk/pkg/audio/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const rate = 24000

func seconds(s float64) []float32 {
	return make([]float32, int(s*rate))
}

func newScheduler(t *testing.T, opts ...playback.Option) (*playback.Scheduler, *mock.Sink) {
	t.Helper()
	sink := &mock.Sink{}
	s, err := playback.New(sink, rate, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, sink
}

func TestSchedule_BackToBack(t *testing.T) {
	t.Parallel()
	s, sink := newScheduler(t)
	ctx := context.Background()

	wantStarts := []time.Duration{0, time.Second, 1500 * time.Millisecond}
	for i, d := range []float64{1.0, 0.5, 2.0} {
		slot, err := s.Schedule(ctx, seconds(d), 0)
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if slot.Start != wantStarts[i] {
			t.Errorf("buffer %d starts at %v, want %v", i, slot.Start, wantStarts[i])
		}
	}
	if got := s.Next(); got != 3500*time.Millisecond {
		t.Errorf("Next = %v, want 3.5s", got)
	}

	calls := sink.Calls()
	if len(calls) != 3 {
		t.Fatalf("sink received %d buffers, want 3", len(calls))
	}
	for i, c := range calls {
		if c.At != wantStarts[i] || c.SampleRate != rate {
			t.Errorf("play %d: at %v rate %d", i, c.At, c.SampleRate)
		}
	}
}

func TestSchedule_NoOverlap(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	ctx := context.Background()

	var prev playback.Slot
	for i, now := range []time.Duration{0, 100 * time.Millisecond, 2 * time.Second, 2100 * time.Millisecond} {
		slot, err := s.Schedule(ctx, seconds(0.5), now)
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if slot.Start < now {
			t.Errorf("buffer %d starts at %v, before now %v", i, slot.Start, now)
		}
		if i > 0 && slot.Start < prev.End() {
			t.Errorf("buffer %d at %v overlaps previous ending %v", i, slot.Start, prev.End())
		}
		prev = slot
	}
}

func TestSchedule_LateChunkStartsNow(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	ctx := context.Background()

	if _, err := s.Schedule(ctx, seconds(0.5), 0); err != nil {
		t.Fatal(err)
	}
	slot, err := s.Schedule(ctx, seconds(0.5), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if slot.Start != 2*time.Second {
		t.Errorf("late buffer starts at %v, want 2s", slot.Start)
	}
	if got := s.Next(); got != 2500*time.Millisecond {
		t.Errorf("Next = %v, want 2.5s", got)
	}
}

func TestSchedule_SinkErrorKeepsTimeline(t *testing.T) {
	t.Parallel()
	s, sink := newScheduler(t)
	ctx := context.Background()

	sink.PlayError = errors.New("device gone")
	if _, err := s.Schedule(ctx, seconds(1), 0); err == nil {
		t.Fatal("expected error from sink")
	}
	if s.Next() != 0 {
		t.Errorf("Next = %v after failed render, want 0", s.Next())
	}
}

func TestSchedule_EmptyBuffer(t *testing.T) {
	t.Parallel()
	s, sink := newScheduler(t)

	slot, err := s.Schedule(context.Background(), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if slot.Duration != 0 || len(sink.Calls()) != 0 {
		t.Errorf("empty buffer should not reach the sink: slot %+v", slot)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)

	_, _ = s.Schedule(context.Background(), seconds(1), 0)
	s.Reset()
	if s.Next() != 0 {
		t.Errorf("Next = %v after Reset, want 0", s.Next())
	}
	slot, _ := s.Schedule(context.Background(), seconds(1), 0)
	if slot.Start != 0 {
		t.Errorf("first buffer after Reset starts at %v, want 0", slot.Start)
	}
}

func TestSchedule_RecordsUnderrun(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	s, _ := newScheduler(t, playback.WithMetrics(m))
	ctx := context.Background()
	_, _ = s.Schedule(ctx, seconds(0.5), 0)
	_, _ = s.Schedule(ctx, seconds(0.5), 0)              // back-to-back
	_, _ = s.Schedule(ctx, seconds(0.5), 3*time.Second) // gap

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var underruns int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == "livetalk.playback.underruns" {
				underruns = met.Data.(metricdata.Sum[int64]).DataPoints[0].Value
			}
		}
	}
	if underruns != 1 {
		t.Errorf("underruns = %d, want 1", underruns)
	}
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := playback.New(nil, rate); err == nil {
		t.Error("expected error for nil sink")
	}
	if _, err := playback.New(&mock.Sink{}, 0); err == nil {
		t.Error("expected error for zero rate")
	}
}
