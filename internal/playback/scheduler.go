// Package playback schedules decoded reply audio on the output timeline so
// consecutive buffers play back-to-back, never overlapping and never leaving a
// gap unless the stream itself ran dry.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/pkg/audio"
)

// Slot describes where a buffer was placed on the timeline.
type Slot struct {
	Start    time.Duration
	Duration time.Duration
}

// End returns the timeline offset at which the slot finishes.
func (s Slot) End() time.Duration { return s.Start + s.Duration }

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMetrics records playback totals and underruns to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler places buffers on a [audio.Sink] timeline. It is owned by the live
// session loop and not safe for concurrent use.
type Scheduler struct {
	sink    audio.Sink
	rate    int
	next    time.Duration
	metrics *observe.Metrics
}

// New creates a Scheduler that renders mono audio at rate Hz to sink.
func New(sink audio.Sink, rate int, opts ...Option) (*Scheduler, error) {
	if sink == nil {
		return nil, errors.New("playback: nil sink")
	}
	if rate <= 0 {
		return nil, fmt.Errorf("playback: invalid output rate %d", rate)
	}
	s := &Scheduler{sink: sink, rate: rate}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Schedule renders samples at max(now, next start) and advances the next
// start by the buffer's duration. When the sink rejects the buffer the
// timeline is left unchanged.
func (s *Scheduler) Schedule(ctx context.Context, samples []float32, now time.Duration) (Slot, error) {
	start := max(now, s.next)
	slot := Slot{Start: start, Duration: audio.SamplesDuration(len(samples), s.rate)}
	if slot.Duration == 0 {
		return slot, nil
	}

	if err := s.sink.Play(samples, s.rate, start); err != nil {
		return Slot{}, fmt.Errorf("playback: render at %v: %w", start, err)
	}

	// The previous buffer had already finished: the listener heard a gap.
	underrun := s.next > 0 && start > s.next
	s.next = slot.End()

	if s.metrics != nil {
		s.metrics.RecordPlayback(ctx, slot.Duration)
		if underrun {
			s.metrics.RecordUnderrun(ctx)
		}
	}
	return slot, nil
}

// Next returns the offset where the next buffer will start at the earliest.
func (s *Scheduler) Next() time.Duration { return s.next }

// Reset returns the schedule to the start of the timeline. Call at every
// session start.
func (s *Scheduler) Reset() { s.next = 0 }
