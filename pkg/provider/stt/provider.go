// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (a streaming one such as
// Deepgram, or a request/response one such as the OpenAI transcription API)
// behind a uniform session abstraction. Audio of the utterance being captured
// is streamed in with SendAudio; Commit marks the end of the utterance. The
// session emits low-latency partials and authoritative finals.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned by SendAudio and Commit after Close.
var ErrClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the rate of the 16-bit mono PCM passed to SendAudio.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT session. It is an interface so that
// test code can provide mock implementations without a live provider.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian mono PCM.
	SendAudio(chunk []byte) error

	// Commit marks the end of the current utterance. Providers flush any
	// buffered audio and emit a final transcript for it.
	Commit() error

	// Partials returns interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns authoritative transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new transcription session. The returned handle is
	// ready to accept audio immediately. The caller owns it and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
