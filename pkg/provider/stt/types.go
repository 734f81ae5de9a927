package stt

import "time"

// Transcript is a speech-to-text result. Both partial and final transcripts
// use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal distinguishes authoritative results from interim guesses.
	IsFinal bool

	// Confidence is the overall confidence score in [0, 1]. Zero when the
	// provider does not report one.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail

	// Duration is the length of the transcribed audio, when known.
	Duration time.Duration
}

// WordDetail holds per-word metadata from providers that report it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a recognition hint for an uncommon word.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
