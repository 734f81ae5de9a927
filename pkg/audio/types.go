package audio

import "time"

// Frame is one capture callback's worth of mono audio. Frames are the atomic
// unit of audio transport: delivered by a [Source], classified by the voice
// gate, concatenated into utterances and finally encoded for the wire.
//
// A Frame is owned by whichever stage is currently processing it and must not
// be retained after it has been handed to the next stage.
type Frame struct {
	// Samples holds mono samples in the range [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for the wire input, 48000 for many
	// capture devices).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration returns the playback length of n mono samples at rate Hz.
// Returns zero for a non-positive rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// SamplesFor returns how many mono samples cover d at rate Hz.
func SamplesFor(d time.Duration, rate int) int {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(d) * int64(rate) / int64(time.Second))
}
