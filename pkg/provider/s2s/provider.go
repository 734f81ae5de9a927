// Package s2s defines the Provider interface for speech-to-speech backends that
// hold a duplex protocol session with a remote generative-audio service.
//
// A session moves through a fixed lifecycle:
//
//	Disconnected → Connecting → AwaitingSetupAck → Open → Closed
//
// Connect performs the transport dial and sends exactly one setup message; the
// session then waits for the service's acknowledgement. Only an Open session
// accepts utterances. Every inbound payload is parsed independently and
// surfaced on the Events channel in arrival order.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
)

var (
	// ErrNotOpen is returned by SendUtterance when the session has not
	// completed its handshake or has already closed. Nothing is sent in that
	// case.
	ErrNotOpen = errors.New("s2s: session not open")

	// ErrMissingCredential is wrapped by providers that cannot connect because
	// no credential was configured.
	ErrMissingCredential = errors.New("s2s: missing credential")

	// ErrRemoteClosed is wrapped by Err when the service ended the session
	// with an orderly close.
	ErrRemoteClosed = errors.New("s2s: connection closed by remote")
)

// State is the protocol-level lifecycle state of a session.
type State int

const (
	// StateDisconnected is the state before any connection attempt.
	StateDisconnected State = iota

	// StateConnecting covers the transport dial.
	StateConnecting

	// StateAwaitingSetupAck means the setup message was sent and the service
	// has not acknowledged it yet.
	StateAwaitingSetupAck

	// StateOpen means the handshake completed; utterances may be sent.
	StateOpen

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSetupAck:
		return "awaiting_setup_ack"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Model is the remote model identifier. Providers apply their own default
	// when empty.
	Model string

	// Voice is the prebuilt voice name for synthesised replies.
	Voice string

	// Instructions is an optional system instruction for the model.
	Instructions string

	// InputSampleRate is the rate of PCM sent with SendUtterance.
	InputSampleRate int

	// Transcribe asks the service to return transcriptions of both the user's
	// speech and its own spoken reply, if supported.
	Transcribe bool
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// DefaultModel is used when SessionConfig.Model is empty.
	DefaultModel string

	// OutputSampleRate is the rate of PCM delivered in EventAudio.
	OutputSampleRate int

	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string
}

// SessionHandle represents an open protocol session. It is an interface so that
// test code can supply mock implementations without a live connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendUtterance frames one complete utterance of 16-bit PCM and sends it.
	// Returns [ErrNotOpen] unless the session is in [StateOpen].
	SendUtterance(pcm []byte) error

	// Events returns the channel of inbound events in arrival order. It is
	// closed when the session ends, either through Close or a transport
	// failure. After it closes, Err reports the cause, if any.
	Events() <-chan Event

	// State returns the current lifecycle state.
	State() State

	// Err returns the transport error that ended the session, or nil if it
	// ended through Close.
	Err() error

	// Close releases the connection and moves the session to [StateClosed].
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over a speech-to-speech backend.
type Provider interface {
	// Connect dials the service and sends the setup message. The returned
	// session is in [StateAwaitingSetupAck]; an [EventSetupComplete] follows
	// once the service acknowledges.
	//
	// Returns an error if the transport cannot be established or the setup
	// message cannot be written. The caller owns the SessionHandle.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities

	// Validate reports configuration that makes Connect certain to fail,
	// such as a missing credential (wrapping [ErrMissingCredential]). It does
	// no I/O.
	Validate() error
}
