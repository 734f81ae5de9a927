// Package audio defines the audio primitives shared by the live session engine:
// the mono [Frame] type, the PCM16 and transport codec, and the two platform
// capabilities the engine consumes.
//
// The two capability interfaces are:
//
//   - [Source]: delivers fixed-size frames of mono samples at a configured rate.
//   - [Sink]: renders a buffer of mono samples starting at a timeline offset.
//
// Implementations live in adapter packages (e.g., audio/pipe for subprocess
// capture and playback, audio/mock for tests).
package audio

import (
	"context"
	"time"
)

// Source is the microphone capability. A Source is single-use: Start may be
// called once, and Close releases the device.
//
// Implementations must be safe for concurrent use of Close with the frame
// producer.
type Source interface {
	// Start begins capture and returns the channel on which frames arrive in
	// capture order. The channel is closed when capture stops, either because
	// Close was called, ctx was cancelled, or the device failed.
	//
	// Returns an error if capture cannot begin (permission denied, missing
	// device, bad configuration).
	Start(ctx context.Context) (<-chan Frame, error)

	// Close stops capture and releases the device. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Sink is the speaker capability. It renders buffers on a single output
// timeline measured from the moment the sink was opened.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Play schedules samples (mono, at sampleRate Hz) to begin rendering at the
	// timeline offset at. Play must not block for the duration of the audio.
	Play(samples []float32, sampleRate int, at time.Duration) error

	// Now returns the current position of the output timeline.
	Now() time.Duration

	// Close stops output and releases the device. Calling Close more than once
	// is safe and returns nil.
	Close() error
}
