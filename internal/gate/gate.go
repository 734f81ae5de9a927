// Package gate decides which captured frames belong to the utterance that is
// sent to the remote service.
//
// Two interchangeable policies implement [Gate]:
//
//   - [Auto] classifies every frame through a VAD session and closes an
//     utterance after a configurable run of silence.
//   - [Manual] follows an explicit open/close control (push-to-talk) and
//     ignores frame content entirely.
//
// A Gate is owned by a single goroutine (the live session loop) and is not
// safe for concurrent use. Timing is driven by the caller: the gate never
// starts timers itself, it only reports a [Gate.Deadline] the owner arms a
// timer for and later passes back to [Gate.Expire].
package gate

import (
	"fmt"
	"time"

	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/provider/vad"
	"github.com/MrWong99/livetalk/pkg/provider/vad/energy"
)

// Mode selects the gate policy.
type Mode string

const (
	// ModeAuto ends utterances after a run of silence.
	ModeAuto Mode = "auto"

	// ModeManual follows explicit open/close control.
	ModeManual Mode = "manual"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultThreshold    = energy.DefaultThreshold
	DefaultSilence      = 1000 * time.Millisecond
	DefaultMaxUtterance = 30 * time.Second
)

// Decision is the outcome of feeding a frame or a control event to a [Gate].
type Decision struct {
	// Started is true when a new utterance began with this event.
	Started bool

	// Buffering is true when the frame was appended to the utterance buffer.
	Buffering bool

	// Utterance holds the concatenated samples of a completed utterance. It is
	// nil unless this event flushed the buffer, and never empty when set.
	Utterance []float32
}

// Gate buffers frames into utterances under one policy.
type Gate interface {
	// OnFrame feeds one captured frame observed at now.
	OnFrame(samples []float32, now time.Time) Decision

	// SetOpen applies explicit gate control. It is a no-op for [Auto].
	SetOpen(open bool, now time.Time) Decision

	// Expire flushes the buffer if the pending silence deadline has passed at
	// now. It is a no-op for [Manual].
	Expire(now time.Time) Decision

	// Deadline returns the pending silence deadline, if any.
	Deadline() (time.Time, bool)

	// Mode reports the policy.
	Mode() Mode

	// Reset drops any buffered audio and pending deadline.
	Reset()

	// Close releases the gate's resources.
	Close() error
}

// Config configures a [Gate].
type Config struct {
	Mode Mode

	// SampleRate of incoming frames, used to enforce MaxUtterance.
	SampleRate int

	// Threshold is the activity level above which a frame counts as speech.
	// Auto only.
	Threshold float64

	// Silence is how long activity must stay below threshold before the
	// utterance ends. Auto only.
	Silence time.Duration

	// MaxUtterance caps the audio length of a single utterance. A buffer that
	// reaches it is flushed immediately.
	MaxUtterance time.Duration

	// VAD classifies frames for the auto policy. Nil selects the energy engine.
	VAD vad.Engine
}

// New builds the gate selected by cfg.Mode, filling zero fields with defaults.
func New(cfg Config) (Gate, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("gate: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = DefaultMaxUtterance
	}
	switch cfg.Mode {
	case ModeAuto, "":
		return NewAuto(cfg)
	case ModeManual:
		return NewManual(cfg), nil
	default:
		return nil, fmt.Errorf("gate: unknown mode %q", cfg.Mode)
	}
}

// buffer accumulates frames for one utterance and enforces the length cap.
type buffer struct {
	frames  [][]float32
	samples int
	limit   int
}

func newBuffer(cfg Config) buffer {
	return buffer{limit: audio.SamplesFor(cfg.MaxUtterance, cfg.SampleRate)}
}

func (b *buffer) append(samples []float32) {
	cp := make([]float32, len(samples))
	copy(cp, samples)
	b.frames = append(b.frames, cp)
	b.samples += len(cp)
}

func (b *buffer) empty() bool { return b.samples == 0 }

func (b *buffer) full() bool { return b.limit > 0 && b.samples >= b.limit }

// flush returns the concatenated utterance and clears the buffer. It returns
// nil when nothing was buffered.
func (b *buffer) flush() []float32 {
	if b.empty() {
		b.frames = nil
		return nil
	}
	out := audio.Concat(b.frames)
	b.frames = nil
	b.samples = 0
	return out
}
