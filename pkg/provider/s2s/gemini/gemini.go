// Package gemini implements the s2s.Provider interface for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Utterances are transmitted as base64-encoded PCM chunks; replies arrive as
// inline audio parts, text parts and turn markers.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/provider/s2s"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultVoice   = "Puck"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	endpointPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// outputSampleRate is the fixed rate of reply audio.
	outputSampleRate = 24000

	// readLimit bounds a single inbound message. Reply audio parts routinely
	// exceed the websocket library's 32 KiB default.
	readLimit = 16 << 20

	defaultSetupTimeout = 15 * time.Second
	keepaliveInterval   = 20 * time.Second
	keepaliveTimeout    = 5 * time.Second
	writeTimeout        = 10 * time.Second
)

var (
	// ErrMissingAPIKey is returned by Connect when no credential is configured.
	ErrMissingAPIKey = fmt.Errorf("gemini: %w", s2s.ErrMissingCredential)

	// ErrSetupTimeout is reported by Err when the service never acknowledged
	// the setup message.
	ErrSetupTimeout = errors.New("gemini: setup acknowledgement timed out")
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used when the session config names none.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithSetupTimeout bounds how long a session waits for setupComplete.
func WithSetupTimeout(d time.Duration) Option {
	return func(p *Provider) { p.setupTimeout = d }
}

// WithKeepalive sets the interval between websocket pings.
func WithKeepalive(d time.Duration) Option {
	return func(p *Provider) { p.keepalive = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey       string
	model        string
	baseURL      string
	setupTimeout time.Duration
	keepalive    time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		setupTimeout: defaultSetupTimeout,
		keepalive:    keepaliveInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		DefaultModel:     p.model,
		OutputSampleRate: outputSampleRate,
		Voices:           []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

// Validate reports a missing API key.
func (p *Provider) Validate() error {
	if p.apiKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// endpoint returns the full BidiGenerateContent URL with the key attached.
func (p *Provider) endpoint() string {
	return p.baseURL + endpointPath + "?key=" + url.QueryEscape(p.apiKey)
}

// Connect dials the Gemini Live endpoint and sends the setup message. The
// returned session is awaiting the setupComplete acknowledgement.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		events:   make(chan s2s.Event, 64),
		setupAck: make(chan struct{}),
		ctx:      sessCtx,
		cancel:   sessCancel,
		state:    s2s.StateConnecting,
	}

	conn, _, err := websocket.Dial(ctx, p.endpoint(), nil)
	if err != nil {
		sessCancel()
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	sess.conn = conn

	setup := buildSetup(p.model, cfg)
	if err := sess.writeJSON(ctx, setup); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	sess.setState(s2s.StateAwaitingSetupAck)
	slog.Debug("gemini: setup sent", "model", setup.Setup.Model)

	sess.wg.Add(3)
	go sess.receiveLoop()
	go sess.keepaliveLoop(p.keepalive)
	go sess.setupWatchdog(p.setupTimeout)

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities string       `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// buildSetup assembles the single setup message sent after the dial.
func buildSetup(fallbackModel string, cfg s2s.SessionConfig) setupMessage {
	model := cfg.Model
	if model == "" {
		model = fallbackModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: "AUDIO",
				SpeechConfig: speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
					},
				},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Transcribe {
		msg.Setup.InputAudioTranscription = &struct{}{}
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	events   chan s2s.Event
	setupAck chan struct{}

	mu     sync.Mutex
	state  s2s.State
	errVal error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.setErr(classifyReadError(err))
			}
			s.setState(s2s.StateClosed)
			return
		}
		if !s.handleMessage(data) {
			return
		}
	}
}

// classifyReadError separates an orderly remote close from transport failure.
func classifyReadError(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return fmt.Errorf("gemini: %w: %w", s2s.ErrRemoteClosed, err)
	default:
		return fmt.Errorf("gemini: read: %w", err)
	}
}

// handleMessage parses one inbound payload and emits its events. It returns
// false once the session context is done.
func (s *session) handleMessage(data []byte) bool {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("gemini: dropped malformed message", "err", err, "bytes", len(data))
		return s.emit(s2s.Event{Type: s2s.EventMalformed, Err: fmt.Errorf("gemini: decode message: %w", err)})
	}

	if msg.SetupComplete != nil {
		if !s.completeSetup() {
			slog.Debug("gemini: ignoring repeated setupComplete")
		} else if !s.emit(s2s.Event{Type: s2s.EventSetupComplete}) {
			return false
		}
	}

	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		slog.Warn("gemini: server error", "code", msg.Error.Code, "status", msg.Error.Status, "message", text)
		if !s.emit(s2s.Event{Type: s2s.EventServerError, Err: fmt.Errorf("gemini: server error %d: %s", msg.Error.Code, text)}) {
			return false
		}
	}

	if msg.ServerContent != nil {
		if s.State() != s2s.StateOpen {
			slog.Debug("gemini: dropping content received before setup completed")
			return true
		}
		return s.handleServerContent(msg.ServerContent)
	}
	return true
}

func (s *session) handleServerContent(sc *serverContent) bool {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				pcm, err := audio.FromTransport(p.InlineData.Data)
				if err != nil {
					slog.Warn("gemini: dropped malformed audio part", "err", err)
					if !s.emit(s2s.Event{Type: s2s.EventMalformed, Err: err}) {
						return false
					}
				} else if len(pcm) > 0 {
					if !s.emit(s2s.Event{Type: s2s.EventAudio, PCM: pcm}) {
						return false
					}
				}
			}
			if p.Text != "" {
				if !s.emit(s2s.Event{Type: s2s.EventText, Text: p.Text}) {
					return false
				}
			}
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !s.emit(s2s.Event{Type: s2s.EventTranscript, Role: s2s.RoleUser, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !s.emit(s2s.Event{Type: s2s.EventTranscript, Role: s2s.RoleModel, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}
	if sc.Interrupted {
		if !s.emit(s2s.Event{Type: s2s.EventInterrupted}) {
			return false
		}
	}
	if sc.TurnComplete {
		return s.emit(s2s.Event{Type: s2s.EventTurnComplete})
	}
	return true
}

// emit delivers ev unless the session is shutting down.
func (s *session) emit(ev s2s.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// completeSetup moves AwaitingSetupAck to Open. It reports false if the
// session was in any other state.
func (s *session) completeSetup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != s2s.StateAwaitingSetupAck {
		return false
	}
	s.state = s2s.StateOpen
	close(s.setupAck)
	return true
}

// setupWatchdog closes the connection if setupComplete does not arrive in time.
func (s *session) setupWatchdog(timeout time.Duration) {
	defer s.wg.Done()
	if timeout <= 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.setupAck:
	case <-s.ctx.Done():
	case <-timer.C:
		s.setErr(ErrSetupTimeout)
		s.conn.Close(websocket.StatusPolicyViolation, "setup timeout")
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop(interval time.Duration) {
	defer s.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(pingCtx); err != nil && s.ctx.Err() == nil {
				slog.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) setState(st s2s.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendUtterance frames one PCM utterance as a realtimeInput message.
func (s *session) SendUtterance(pcm []byte) error {
	if st := s.State(); st != s2s.StateOpen {
		return fmt.Errorf("%w (state %s)", s2s.ErrNotOpen, st)
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: audio.MIMETypePCM, Data: audio.ToTransport(pcm)},
			},
		},
	}
	if err := s.writeJSON(s.ctx, msg); err != nil {
		return fmt.Errorf("gemini: send utterance: %w", err)
	}
	return nil
}

// Events returns the channel on which inbound events arrive.
func (s *session) Events() <-chan s2s.Event { return s.events }

// State returns the current lifecycle state.
func (s *session) State() s2s.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the first error that terminated the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and waits for its goroutines. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = s2s.StateClosed
	s.mu.Unlock()

	s.cancel() // unblocks receiveLoop, keepaliveLoop and setupWatchdog
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.wg.Wait()
	return nil
}
