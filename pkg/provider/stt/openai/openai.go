// Package openai provides an utterance-level STT provider backed by the OpenAI
// audio transcription API.
//
// The API is request/response, so a session buffers the PCM streamed in with
// SendAudio and transcribes it as one WAV file on Commit. No partials are
// produced.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/provider/stt"
)

// DefaultModel is the default transcription model.
const DefaultModel = string(oai.AudioModelWhisper1)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// ModelID returns the configured transcription model.
func (p *Provider) ModelID() string { return p.model }

// StartStream implements stt.Provider. No network activity happens until the
// first Commit.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("openai stt: invalid sample rate %d", cfg.SampleRate)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		p:        p,
		cfg:      cfg,
		partials: make(chan stt.Transcript),
		finals:   make(chan stt.Transcript, 16),
		jobs:     make(chan []byte, 8),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

// transcribe sends one WAV-wrapped utterance and returns the recognised text.
func (p *Provider) transcribe(ctx context.Context, pcm []byte, cfg stt.StreamConfig) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wavFile(pcm, cfg.SampleRate)), "utterance.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if cfg.Language != "" {
		params.Language = oai.String(cfg.Language)
	}
	if len(cfg.Keywords) > 0 {
		params.Prompt = oai.String(keywordPrompt(cfg.Keywords))
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return resp.Text, nil
}

// keywordPrompt turns boost hints into a vocabulary prompt, the only biasing
// mechanism the transcription endpoint offers.
func keywordPrompt(kws []stt.KeywordBoost) string {
	var b bytes.Buffer
	for i, kw := range kws {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(kw.Keyword)
	}
	return b.String()
}

// wavFile wraps 16-bit mono PCM in a canonical 44-byte RIFF header.
func wavFile(pcm []byte, rate int) []byte {
	const headerLen = 44
	buf := make([]byte, headerLen, headerLen+len(pcm))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(rate*2))
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	return append(buf, pcm...)
}

// ---- session ----

type session struct {
	p   *Provider
	cfg stt.StreamConfig

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool

	partials chan stt.Transcript
	finals   chan stt.Transcript
	jobs     chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// SendAudio appends chunk to the pending utterance.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrClosed
	}
	s.buf.Write(chunk)
	return nil
}

// Commit hands the buffered utterance to the worker. Empty commits are no-ops.
func (s *session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrClosed
	}
	if s.buf.Len() == 0 {
		return nil
	}
	pcm := bytes.Clone(s.buf.Bytes())
	s.buf.Reset()
	select {
	case s.jobs <- pcm:
		return nil
	default:
		return fmt.Errorf("openai stt: transcription queue full")
	}
}

// worker transcribes committed utterances in order.
func (s *session) worker() {
	defer s.wg.Done()
	defer close(s.finals)
	defer close(s.partials)

	for pcm := range s.jobs {
		start := time.Now()
		text, err := s.p.transcribe(s.ctx, pcm, s.cfg)
		if err != nil {
			if s.ctx.Err() == nil {
				slog.Warn("openai stt: transcription failed", "err", err)
			}
			continue
		}
		slog.Debug("openai stt: transcribed utterance", "latency", time.Since(start), "bytes", len(pcm))
		if text == "" {
			continue
		}
		t := stt.Transcript{
			Text:     text,
			IsFinal:  true,
			Duration: audio.SamplesDuration(len(pcm)/2, s.cfg.SampleRate),
		}
		select {
		case s.finals <- t:
		case <-s.ctx.Done():
		}
	}
}

// Partials returns a channel that never yields; closed with the session.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the channel of transcripts, one per committed utterance.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close cancels in-flight requests and waits for the worker.
func (s *session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.jobs)
		s.mu.Unlock()
		s.cancel()
		s.wg.Wait()
	})
	return nil
}
