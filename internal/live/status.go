package live

import "time"

// Status is a snapshot of the session for presentation layers.
type Status struct {
	SessionID string    `json:"session_id,omitempty"`
	State     State     `json:"state"`
	GateMode  string    `json:"gate_mode"`
	GateOpen  bool      `json:"gate_open"`
	UpdatedAt time.Time `json:"updated_at"`

	// LastError is the short message of the most recent error, and ErrorKind
	// its classification. Both are cleared by the next Start.
	LastError string    `json:"last_error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// Latency is the last measured send-to-first-audio delay. LatencyPending
	// is true while an utterance awaits its first reply audio.
	Latency        time.Duration `json:"latency_ns"`
	LatencyPending bool          `json:"latency_pending"`

	// Partial is the recogniser's interim text for the utterance in progress.
	Partial string `json:"partial,omitempty"`
	// UserText is the final transcript of the last utterance.
	UserText string `json:"user_text,omitempty"`
	// ModelText accumulates the text of the current reply.
	ModelText string `json:"model_text,omitempty"`

	Utterances int `json:"utterances"`

	// Playback is the timeline offset at which the next reply chunk would
	// start, zero until reply audio has been scheduled.
	Playback time.Duration `json:"playback_ns"`
}

// subscriber receives the latest snapshot; stale ones are replaced.
type subscriber struct {
	ch chan Status
}

func (s *subscriber) offer(st Status) {
	for {
		select {
		case s.ch <- st:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}
