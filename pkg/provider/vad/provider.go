// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own detection history so
// that independent capture streams never influence one another.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection result,
// which suits the voice gate that calls it once per captured frame.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session. Thresholds are expressed in the
// engine's native score scale; see each Engine's documentation.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the expected duration of each frame in milliseconds.
	// Zero accepts frames of any length.
	FrameSizeMs int

	// SpeechThreshold is the score above which a frame is classified as speech.
	SpeechThreshold float64

	// SilenceThreshold is the score at or below which an active speech segment
	// is considered ended. Must be ≤ SpeechThreshold. Zero means "same as
	// SpeechThreshold".
	SilenceThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame classifies a single frame of mono float samples in [-1, 1].
	// Returns an error if the frame size does not match the configured
	// FrameSizeMs or the session is closed. Must not block.
	ProcessFrame(samples []float32) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
