package s2s

// EventType enumerates inbound session events.
type EventType int

const (
	// EventSetupComplete signals the handshake finished; the session is Open.
	EventSetupComplete EventType = iota

	// EventAudio carries one decoded reply audio part as 16-bit PCM.
	EventAudio

	// EventText carries one text part of the model's reply.
	EventText

	// EventTurnComplete marks the end of the model's reply turn.
	EventTurnComplete

	// EventInterrupted reports that the service cut its reply short.
	EventInterrupted

	// EventTranscript carries a transcription of user or model speech.
	EventTranscript

	// EventMalformed reports an inbound payload that could not be parsed. The
	// payload was dropped; the session continues.
	EventMalformed

	// EventServerError carries an error payload sent by the service. The
	// session continues unless the transport closes afterwards.
	EventServerError
)

// String returns the event type name, used as a metric label.
func (t EventType) String() string {
	switch t {
	case EventSetupComplete:
		return "setup_complete"
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventTranscript:
		return "transcript"
	case EventMalformed:
		return "malformed"
	case EventServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Role identifies whose speech a transcript belongs to.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Event is one inbound occurrence on a session.
type Event struct {
	Type EventType

	// PCM holds 16-bit little-endian mono audio for EventAudio.
	PCM []byte

	// Text holds reply text (EventText) or transcript text (EventTranscript).
	Text string

	// Role is set for EventTranscript.
	Role Role

	// Err describes the problem for EventMalformed and EventServerError.
	Err error
}
