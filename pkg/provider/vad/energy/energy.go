// Package energy provides a VAD engine that classifies frames by their RMS
// energy. It needs no model and adds no latency, which makes it the default
// activity detector for the voice gate.
//
// Scores reported in [vad.VADEvent.Probability] are raw RMS values in [0, 1].
// A SpeechThreshold of 0.01 works well for close-talking microphones.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/provider/vad"
)

// DefaultThreshold is the RMS level above which a frame counts as speech.
const DefaultThreshold = 0.01

var errClosed = errors.New("energy: session closed")

// Engine creates RMS-based VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns an [Engine].
func New() Engine { return Engine{} }

// NewSession implements [vad.Engine]. A zero SpeechThreshold selects
// [DefaultThreshold].
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = cfg.SpeechThreshold
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v above speech threshold %v",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.FrameSizeMs < 0 {
		return nil, fmt.Errorf("energy: negative frame size %d ms", cfg.FrameSizeMs)
	}

	s := &session{cfg: cfg}
	if cfg.FrameSizeMs > 0 && cfg.SampleRate > 0 {
		s.frameLen = cfg.SampleRate * cfg.FrameSizeMs / 1000
	}
	return s, nil
}

type session struct {
	cfg      vad.Config
	frameLen int
	speaking bool
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *session) ProcessFrame(samples []float32) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, errClosed
	}
	if s.frameLen > 0 && len(samples) != s.frameLen {
		return vad.VADEvent{}, fmt.Errorf("energy: frame has %d samples, want %d", len(samples), s.frameLen)
	}

	rms := audio.RMS(samples)
	ev := vad.VADEvent{Probability: rms}
	switch {
	case !s.speaking && rms > s.cfg.SpeechThreshold:
		s.speaking = true
		ev.Type = vad.VADSpeechStart
	case s.speaking && rms > s.cfg.SilenceThreshold:
		ev.Type = vad.VADSpeechContinue
	case s.speaking:
		s.speaking = false
		ev.Type = vad.VADSpeechEnd
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() { s.speaking = false }

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.closed = true
	return nil
}
