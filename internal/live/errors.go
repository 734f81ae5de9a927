package live

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session errors.
type ErrorKind int

const (
	// KindConfig is a configuration problem such as a missing credential. The
	// session never starts.
	KindConfig ErrorKind = iota + 1

	// KindCapture is a capture device failure. Fatal for the attempt.
	KindCapture

	// KindConnection is a dial, handshake or transport failure. Fatal.
	KindConnection

	// KindProtocol is a malformed inbound message. The message is dropped.
	KindProtocol

	// KindPlayback is a decode or render failure of one reply chunk. The
	// chunk is dropped.
	KindPlayback
)

// String returns the kind name used in status and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindCapture:
		return "capture"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindPlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Fatal reports whether errors of this kind end the session.
func (k ErrorKind) Fatal() bool {
	return k == KindConfig || k == KindCapture || k == KindConnection
}

// Error is a classified session error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("live: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Short returns the message shown to users: the operation and kind without
// the wrapped detail.
func (e *Error) Short() string {
	return e.Kind.String() + " error during " + e.Op
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

var (
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("live: session closed")

	// ErrAlreadyRunning is returned by Start while a session is running.
	ErrAlreadyRunning = errors.New("live: session already running")

	// ErrNotReady is returned by gate commands while no protocol session is
	// open.
	ErrNotReady = errors.New("live: session not ready")

	// ErrManualGateOnly is returned by gate commands when the gate follows
	// voice activity.
	ErrManualGateOnly = errors.New("live: gate is not in manual mode")
)
