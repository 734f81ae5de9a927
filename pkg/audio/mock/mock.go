// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := mock.NewSource(16000)
//	sink := &mock.Sink{}
//	frames, _ := src.Start(ctx)
//	src.Push([]float32{0.2, 0.2})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Frames are injected with
// [Source.Push]; [Source.End] closes the stream as if the device had stopped.
type Source struct {
	mu sync.Mutex

	// SampleRate is stamped on every pushed frame.
	SampleRate int

	// StartError is returned by Start. When non-nil no channel is created.
	StartError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	ch     chan audio.Frame
	closed bool
	pos    time.Duration
}

// NewSource returns a [Source] that stamps frames with rate.
func NewSource(rate int) *Source {
	return &Source{SampleRate: rate}
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return nil, s.StartError
	}
	s.ch = make(chan audio.Frame, 64)
	s.closed = false
	s.pos = 0
	return s.ch, nil
}

// Push delivers one frame of samples. It returns false if the source is not
// started or already closed.
func (s *Source) Push(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil || s.closed {
		return false
	}
	f := audio.Frame{Samples: samples, SampleRate: s.SampleRate, Timestamp: s.pos}
	s.pos += f.Duration()
	s.ch <- f
	return true
}

// Buffered returns the number of pushed frames the consumer has not received
// yet.
func (s *Source) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ch)
}

// End closes the frame channel without counting as a Close call.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closeLocked()
	return s.CloseError
}

// Closed reports whether the frame channel has been closed.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Source) closeLocked() {
	if s.ch != nil && !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Sink.Play] invocation.
type PlayCall struct {
	// Samples is a copy of the samples argument.
	Samples []float32
	// SampleRate is the rate argument.
	SampleRate int
	// At is the timeline offset argument.
	At time.Duration
}

// Sink is a mock implementation of [audio.Sink]. Its timeline does not advance
// on its own; set it with [Sink.SetNow].
type Sink struct {
	mu sync.Mutex

	// PlayError is returned by Play.
	PlayError error

	// PlayCalls records all Play invocations in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now time.Duration
}

// Play implements [audio.Sink].
func (s *Sink) Play(samples []float32, sampleRate int, at time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.PlayCalls = append(s.PlayCalls, PlayCall{Samples: cp, SampleRate: sampleRate, At: at})
	return s.PlayError
}

// Now implements [audio.Sink].
func (s *Sink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetNow moves the mock timeline to d.
func (s *Sink) SetNow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = d
}

// Calls returns a snapshot of the recorded Play invocations.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.PlayCalls))
	copy(out, s.PlayCalls)
	return out
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}
