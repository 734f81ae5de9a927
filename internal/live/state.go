package live

// State is the orchestrator-level session state shown to the user.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota

	// StateConnecting covers the dial and the setup handshake.
	StateConnecting

	// StateReady means the protocol session is open and nothing is in flight.
	StateReady

	// StateCapturing means an utterance is being buffered.
	StateCapturing

	// StateAwaitingResponse means an utterance was sent and no reply audio has
	// arrived yet.
	StateAwaitingResponse

	// StateSpeaking means reply audio is being scheduled for playback.
	StateSpeaking

	// StateError means the session ended because of a fatal error.
	StateError

	// StateStopped means the remote service ended the session.
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateCapturing:
		return "capturing"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states serialise by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Running reports whether a session is live in s: connecting or open.
func (s State) Running() bool {
	return s >= StateConnecting && s <= StateSpeaking
}

// open reports whether the protocol session accepts utterances in s.
func (s State) open() bool {
	return s >= StateReady && s <= StateSpeaking
}
