// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script inbound events and inspect which utterances the
// caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Ack()                                  // setupComplete
//	sess.Emit(s2s.Event{Type: s2s.EventAudio, PCM: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livetalk/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh Session from NewSession.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectHook, if set, runs inside Connect before it returns. Tests use it
	// to block the dial until they are ready.
	ConnectHook func(ctx context.Context)

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ValidateErr is returned by Validate.
	ValidateErr error

	// ValidateCallCount is the number of times Validate was called.
	ValidateCallCount int

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	hook, connErr, sess := p.ConnectHook, p.ConnectErr, p.Session
	p.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if connErr != nil {
		return nil, connErr
	}
	if sess != nil {
		return sess, nil
	}
	return NewSession(), nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Validate records the call and returns ValidateErr.
func (p *Provider) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ValidateCallCount++
	return p.ValidateErr
}

// Calls returns a snapshot of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
	p.ValidateCallCount = 0
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// SendUtteranceCall records a single invocation of Session.SendUtterance.
type SendUtteranceCall struct {
	// PCM is a copy of the bytes passed to SendUtterance.
	PCM []byte
}

// Session is a mock implementation of s2s.SessionHandle. A new session starts
// in StateAwaitingSetupAck, mirroring a real Connect.
type Session struct {
	mu sync.Mutex

	events chan s2s.Event
	state  s2s.State
	err    error
	ended  bool

	// SendErr, if non-nil, is returned by every SendUtterance call on an open
	// session.
	SendErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendUtteranceCalls records every accepted SendUtterance call in order.
	SendUtteranceCalls []SendUtteranceCall

	// RejectedSends counts SendUtterance calls refused with ErrNotOpen.
	RejectedSends int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session awaiting its setup acknowledgement.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 64),
		state:  s2s.StateAwaitingSetupAck,
	}
}

// Ack opens the session and emits EventSetupComplete.
func (s *Session) Ack() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.state = s2s.StateOpen
	s.mu.Unlock()
	s.Emit(s2s.Event{Type: s2s.EventSetupComplete})
}

// Emit delivers ev on the Events channel. It reports false once the session
// has ended.
func (s *Session) Emit(ev s2s.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.events <- ev
	return true
}

// Fail ends the session as if the transport dropped with err. A nil err
// simulates nothing more than the events channel closing.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.err = err
	s.endLocked()
}

// SetState overrides the lifecycle state.
func (s *Session) SetState(st s2s.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// SendUtterance records the call. It enforces the same Open precondition as a
// real session.
func (s *Session) SendUtterance(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != s2s.StateOpen {
		s.RejectedSends++
		return s2s.ErrNotOpen
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.SendUtteranceCalls = append(s.SendUtteranceCalls, SendUtteranceCall{PCM: cp})
	return nil
}

// Sent returns a snapshot of the recorded SendUtterance calls.
func (s *Session) Sent() []SendUtteranceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SendUtteranceCall, len(s.SendUtteranceCalls))
	copy(out, s.SendUtteranceCalls)
	return out
}

// Events returns the event channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// State returns the current lifecycle state.
func (s *Session) State() s2s.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error passed to Fail.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call, closes the events channel and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.endLocked()
	return s.CloseErr
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

func (s *Session) endLocked() {
	s.state = s2s.StateClosed
	if !s.ended {
		s.ended = true
		close(s.events)
	}
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
