// Package live runs one voice conversation with a remote speech-to-speech
// service: it feeds captured audio through the voice gate, sends complete
// utterances over the protocol session and schedules the reply audio for
// playback.
//
// All session state lives on a single goroutine. Capture frames, protocol
// events, transcripts, gate deadlines, connect results and user commands are
// events selected by that goroutine, so none of the gate buffer, playback
// timeline or state need locks. Readers observe the session through [Status]
// snapshots.
//
// This package is internal because it encapsulates application-private
// session logic and is not intended for import by external code.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livetalk/internal/gate"
	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/playback"
	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/provider/s2s"
	"github.com/MrWong99/livetalk/pkg/provider/stt"
)

// Defaults for zero-valued [Config] fields.
const (
	DefaultInputRate  = 16000
	DefaultOutputRate = 24000
)

// Config wires a [Session] to its collaborators.
type Config struct {
	// Provider opens protocol sessions. Required.
	Provider s2s.Provider

	// Session is passed to every Connect. InputSampleRate is overwritten with
	// InputRate.
	Session s2s.SessionConfig

	// Capture opens a fresh capture source for each Start. Required.
	Capture func() (audio.Source, error)

	// Sink renders reply audio. Its lifetime is owned by the caller. Required.
	Sink audio.Sink

	// Gate configures the voice gate. SampleRate is overwritten with InputRate.
	Gate gate.Config

	// InputRate is the wire rate of sent utterances. Captured frames at any
	// other rate are resampled. Zero selects DefaultInputRate.
	InputRate int

	// OutputRate is the rate of reply audio. Zero uses the provider's
	// advertised rate, then DefaultOutputRate.
	OutputRate int
}

// Option is a functional option for [New].
type Option func(*Session)

// WithMetrics records session metrics to m instead of the global instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTranscriber streams buffered utterance audio to p and surfaces its
// transcripts in [Status]. cfg.SampleRate is overwritten with the input rate.
func WithTranscriber(p stt.Provider, cfg stt.StreamConfig) Option {
	return func(s *Session) {
		s.transcriber = p
		s.sttCfg = cfg
	}
}

// command is a user request executed on the loop goroutine. The reply is
// sent after the resulting snapshot has been published.
type command struct {
	fn    func() error
	reply chan error
}

// connectResult is posted by the connect goroutine back to the loop.
type connectResult struct {
	gen   uint64
	proto s2s.SessionHandle
	tr    stt.SessionHandle
	err   error
}

// Session is the live conversation orchestrator. Create it with [New] and
// release it with [Session.Close].
type Session struct {
	cfg         Config
	metrics     *observe.Metrics
	transcriber stt.Provider
	sttCfg      stt.StreamConfig

	cmds      chan command
	connected chan connectResult
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	status Status
	subs   map[*subscriber]struct{}

	// Everything below is owned by the loop goroutine.
	gate      gate.Gate
	scheduler *playback.Scheduler
	state     State
	snap      Status

	gen         uint64
	ctx         context.Context
	cancel      context.CancelFunc
	connectDone chan struct{}

	source    audio.Source
	frames    <-chan audio.Frame
	resampler *audio.Resampler
	proto     s2s.SessionHandle
	events    <-chan s2s.Event
	tr        stt.SessionHandle
	partials  <-chan stt.Transcript
	finals    <-chan stt.Transcript

	timer   *time.Timer
	timerC  <-chan time.Time
	armedAt time.Time

	sentAt   time.Time
	pending  bool // no reply audio yet for the last utterance
	replying bool // the last utterance's turn has not completed
	turnSpan trace.Span
	active   bool
}

// New validates cfg and starts the session loop in StateIdle.
func New(cfg Config, opts ...Option) (*Session, error) {
	if cfg.Provider == nil {
		return nil, &Error{Kind: KindConfig, Op: "new", Err: errors.New("no speech-to-speech provider")}
	}
	if cfg.Capture == nil {
		return nil, &Error{Kind: KindConfig, Op: "new", Err: errors.New("no capture source")}
	}
	if cfg.Sink == nil {
		return nil, &Error{Kind: KindConfig, Op: "new", Err: errors.New("no playback sink")}
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = DefaultInputRate
	}
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = cfg.Provider.Capabilities().OutputSampleRate
	}
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = DefaultOutputRate
	}
	cfg.Session.InputSampleRate = cfg.InputRate
	cfg.Gate.SampleRate = cfg.InputRate

	s := &Session{
		cfg:       cfg,
		cmds:      make(chan command),
		connected: make(chan connectResult),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		subs:      make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.sttCfg.SampleRate = cfg.InputRate

	g, err := gate.New(cfg.Gate)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Op: "new", Err: err}
	}
	sched, err := playback.New(cfg.Sink, cfg.OutputRate, playback.WithMetrics(s.metrics))
	if err != nil {
		_ = g.Close()
		return nil, &Error{Kind: KindConfig, Op: "new", Err: err}
	}
	s.gate = g
	s.scheduler = sched

	s.timer = time.NewTimer(time.Hour)
	s.timer.Stop()

	s.snap = Status{State: StateIdle, GateMode: string(g.Mode()), UpdatedAt: time.Now()}
	s.status = s.snap

	go s.loop()
	return s, nil
}

// ── Commands ───────────────────────────────────────────────────────────────────

// call runs fn on the loop goroutine and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{fn: fn, reply: reply}:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.loopDone:
		return ErrClosed
	}
}

// Start opens capture and begins connecting. It returns once capture runs;
// the connection completes in the background and is visible through Status.
// A provider that reports a configuration problem (such as a missing
// credential) fails Start with a *Error of KindConfig before capture is
// opened. A capture failure is returned as a *Error of KindCapture.
func (s *Session) Start(ctx context.Context) error {
	return s.call(ctx, s.start)
}

// Stop tears down the running session and returns to StateIdle. When it
// returns, the gate timer is stopped and the protocol session, capture source
// and transcriber are closed. Stopping an idle session is a no-op.
func (s *Session) Stop() error {
	return s.call(context.Background(), func() error {
		if s.state != StateIdle {
			s.teardown(StateIdle, nil)
		}
		return nil
	})
}

// GateOpen opens a manual gate.
func (s *Session) GateOpen() error {
	return s.call(context.Background(), func() error { return s.setGate(true) })
}

// GateClose closes a manual gate, sending whatever was buffered.
func (s *Session) GateClose() error {
	return s.call(context.Background(), func() error { return s.setGate(false) })
}

// GateToggle flips a manual gate.
func (s *Session) GateToggle() error {
	return s.call(context.Background(), func() error { return s.setGate(!s.snap.GateOpen) })
}

// Status returns the latest snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe returns a channel that receives the latest snapshot after every
// change, starting with the current one. Slow readers only miss intermediate
// snapshots. The returned function unsubscribes and closes the channel.
func (s *Session) Subscribe() (<-chan Status, func()) {
	sub := &subscriber{ch: make(chan Status, 1)}
	s.mu.Lock()
	sub.ch <- s.status
	select {
	case <-s.loopDone:
		close(sub.ch)
		s.mu.Unlock()
		return sub.ch, func() {}
	default:
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[sub]; ok {
				delete(s.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// Close stops any running session and ends the loop. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.loopDone
	})
	return nil
}

// ── Loop ───────────────────────────────────────────────────────────────────────

func (s *Session) loop() {
	defer close(s.loopDone)
	defer func() {
		s.mu.Lock()
		for sub := range s.subs {
			close(sub.ch)
			delete(s.subs, sub)
		}
		s.mu.Unlock()
	}()
	defer func() {
		if s.state != StateIdle {
			s.teardown(StateIdle, nil)
		}
		_ = s.gate.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case c := <-s.cmds:
			err := c.fn()
			s.armTimer()
			s.publish()
			c.reply <- err
			continue
		case res := <-s.connected:
			s.onConnected(res)
		case f, ok := <-s.frames:
			if !ok {
				s.fail("capture", KindCapture, errors.New("capture stream ended"))
				break
			}
			s.onFrame(f)
		case ev, ok := <-s.events:
			if !ok {
				s.onProtocolClosed()
				break
			}
			s.onEvent(ev)
		case t, ok := <-s.partials:
			if !ok {
				s.partials = nil
				break
			}
			s.snap.Partial = t.Text
		case t, ok := <-s.finals:
			if !ok {
				s.finals = nil
				break
			}
			s.snap.UserText = strings.TrimSpace(s.snap.UserText + " " + t.Text)
			s.snap.Partial = ""
		case now := <-s.timerC:
			s.timerC = nil
			s.apply(s.gate.Expire(now))
		}
		s.armTimer()
		s.publish()
	}
}

func (s *Session) start() error {
	if s.state.Running() {
		return ErrAlreadyRunning
	}

	s.gen++
	id := uuid.NewString()
	ctx := observe.WithSessionID(context.Background(), id)
	ctx, cancel := context.WithCancel(ctx)
	log := observe.Logger(ctx)

	s.snap = Status{
		SessionID: id,
		GateMode:  string(s.gate.Mode()),
		UpdatedAt: time.Now(),
		State:     s.state,
	}
	s.gate.Reset()
	s.scheduler.Reset()
	s.resampler = nil
	s.pending, s.replying = false, false

	if err := s.cfg.Provider.Validate(); err != nil {
		cancel()
		lerr := &Error{Kind: KindConfig, Op: "start", Err: err}
		s.recordError(ctx, lerr)
		s.setState(ctx, StateError)
		return lerr
	}

	src, err := s.cfg.Capture()
	if err == nil {
		s.frames, err = src.Start(ctx)
		if err != nil {
			_ = src.Close()
		}
	}
	if err != nil {
		cancel()
		lerr := &Error{Kind: KindCapture, Op: "start capture", Err: err}
		s.recordError(ctx, lerr)
		s.setState(ctx, StateError)
		return lerr
	}

	s.ctx, s.cancel = ctx, cancel
	s.source = src
	s.active = true
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.setState(ctx, StateConnecting)
	log.Info("live: session starting", "gate", s.gate.Mode(), "input_rate", s.cfg.InputRate, "output_rate", s.cfg.OutputRate)

	done := make(chan struct{})
	s.connectDone = done
	go s.connect(ctx, s.gen, done)
	return nil
}

// connect dials the protocol session and, if configured, the transcriber. It
// runs off the loop and hands its result back through s.connected. When the
// attempt is abandoned first, whatever was opened is closed here.
func (s *Session) connect(ctx context.Context, gen uint64, done chan<- struct{}) {
	defer close(done)

	res := connectResult{gen: gen}
	start := time.Now()
	res.proto, res.err = s.cfg.Provider.Connect(ctx, s.cfg.Session)
	status := "ok"
	if res.err != nil {
		status = "error"
	}
	s.metrics.RecordProviderRequest(ctx, "s2s", "connect", status)

	if res.err == nil {
		observe.Logger(ctx).Info("live: connection established, awaiting setup ack", "latency", time.Since(start))
		if s.transcriber != nil {
			tr, err := s.transcriber.StartStream(ctx, s.sttCfg)
			if err != nil {
				s.metrics.RecordProviderError(ctx, "stt", "start")
				observe.Logger(ctx).Warn("live: transcriber unavailable, continuing without transcripts", "err", err)
			} else {
				res.tr = tr
			}
		}
	}

	select {
	case s.connected <- res:
	case <-ctx.Done():
		if res.proto != nil {
			_ = res.proto.Close()
		}
		if res.tr != nil {
			_ = res.tr.Close()
		}
	}
}

func (s *Session) onConnected(res connectResult) {
	if res.gen != s.gen || s.state != StateConnecting {
		if res.proto != nil {
			_ = res.proto.Close()
		}
		if res.tr != nil {
			_ = res.tr.Close()
		}
		return
	}
	if res.err != nil {
		kind := KindConnection
		if errors.Is(res.err, s2s.ErrMissingCredential) {
			kind = KindConfig
		}
		s.fail("connect", kind, res.err)
		return
	}
	s.proto = res.proto
	s.events = res.proto.Events()
	if res.tr != nil {
		s.tr = res.tr
		s.partials = res.tr.Partials()
		s.finals = res.tr.Finals()
	}
}

func (s *Session) onFrame(f audio.Frame) {
	if !s.state.open() {
		return
	}
	if f.SampleRate != s.cfg.InputRate && f.SampleRate > 0 {
		if s.resampler == nil {
			r, err := audio.NewResampler(f.SampleRate, s.cfg.InputRate)
			if err != nil {
				s.fail("resample", KindCapture, err)
				return
			}
			s.resampler = r
		}
		out, err := s.resampler.Process(f)
		if err != nil {
			observe.Logger(s.ctx).Warn("live: dropped capture frame", "err", err)
			return
		}
		f = out
	}

	d := s.gate.OnFrame(f.Samples, time.Now())
	if d.Buffering && s.tr != nil {
		if err := s.tr.SendAudio(audio.EncodePCM16(f.Samples)); err != nil {
			observe.Logger(s.ctx).Debug("live: transcriber rejected audio", "err", err)
		}
	}
	s.apply(d)
}

// apply acts on a gate decision: a flushed utterance is encoded and sent, a
// started one moves to Capturing. A frame can end the previous utterance and
// start the next, so the flush goes first.
func (s *Session) apply(d gate.Decision) {
	if d.Utterance != nil {
		s.send(d.Utterance)
	}
	if d.Started && s.state.open() {
		s.snap.Partial = ""
		s.snap.UserText = ""
		s.setState(s.ctx, StateCapturing)
	}
}

func (s *Session) send(samples []float32) {
	if s.proto == nil {
		return
	}
	pcm := audio.EncodePCM16(samples)
	if err := s.proto.SendUtterance(pcm); err != nil {
		s.fail("send utterance", KindConnection, err)
		return
	}
	length := audio.SamplesDuration(len(samples), s.cfg.InputRate)
	s.metrics.RecordUtterance(s.ctx, string(s.gate.Mode()), length)
	s.metrics.RecordProtocolMessage(s.ctx, "out", "realtime_input")
	observe.Logger(s.ctx).Debug("live: utterance sent", "audio", length, "bytes", len(pcm))

	if s.tr != nil {
		if err := s.tr.Commit(); err != nil {
			observe.Logger(s.ctx).Debug("live: transcriber commit failed", "err", err)
		}
	}

	s.sentAt = time.Now()
	s.pending, s.replying = true, true
	s.snap.Utterances++
	s.snap.ModelText = ""
	if s.turnSpan == nil {
		_, s.turnSpan = observe.StartSpan(s.ctx, "live.turn",
			trace.WithAttributes(attribute.Int("utterance.bytes", len(pcm))))
	}
	s.setState(s.ctx, StateAwaitingResponse)
}

func (s *Session) onEvent(ev s2s.Event) {
	s.metrics.RecordProtocolMessage(s.ctx, "in", ev.Type.String())
	log := observe.Logger(s.ctx)

	switch ev.Type {
	case s2s.EventSetupComplete:
		log.Info("live: session ready")
		if s.state == StateConnecting {
			s.setState(s.ctx, StateReady)
		}

	case s2s.EventAudio:
		s.onAudio(ev.PCM)

	case s2s.EventText:
		log.Debug("live: reply text", "text", ev.Text)
		s.snap.ModelText += ev.Text

	case s2s.EventTranscript:
		if ev.Role == s2s.RoleUser {
			s.snap.UserText = strings.TrimSpace(s.snap.UserText + " " + ev.Text)
		} else {
			s.snap.ModelText += ev.Text
		}

	case s2s.EventInterrupted:
		log.Debug("live: reply interrupted by the service")

	case s2s.EventTurnComplete:
		if s.turnSpan != nil {
			s.turnSpan.End()
			s.turnSpan = nil
		}
		s.pending, s.replying = false, false
		if s.state == StateAwaitingResponse || s.state == StateSpeaking {
			s.setState(s.ctx, StateReady)
		}

	case s2s.EventMalformed:
		s.recordError(s.ctx, &Error{Kind: KindProtocol, Op: "receive", Err: ev.Err})

	case s2s.EventServerError:
		s.recordError(s.ctx, &Error{Kind: KindProtocol, Op: "server", Err: ev.Err})
	}
}

func (s *Session) onAudio(pcm []byte) {
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		s.recordError(s.ctx, &Error{Kind: KindPlayback, Op: "decode reply", Err: err})
		return
	}
	if s.pending {
		s.pending = false
		s.snap.Latency = time.Since(s.sentAt)
		s.metrics.RecordRoundTrip(s.ctx, s.snap.Latency)
		observe.Logger(s.ctx).Info("live: first reply audio", "latency", s.snap.Latency)
	}
	if _, err := s.scheduler.Schedule(s.ctx, samples, s.cfg.Sink.Now()); err != nil {
		s.recordError(s.ctx, &Error{Kind: KindPlayback, Op: "schedule reply", Err: err})
		return
	}
	if s.state == StateAwaitingResponse {
		s.setState(s.ctx, StateSpeaking)
	}
}

func (s *Session) onProtocolClosed() {
	err := s.proto.Err()
	if err == nil || errors.Is(err, s2s.ErrRemoteClosed) {
		observe.Logger(s.ctx).Info("live: remote ended the session", "err", err)
		s.teardown(StateStopped, nil)
		return
	}
	s.fail("receive", KindConnection, err)
}

func (s *Session) setGate(open bool) error {
	m, ok := s.gate.(*gate.Manual)
	if !ok {
		return ErrManualGateOnly
	}
	if !s.state.open() {
		return ErrNotReady
	}
	d := m.SetOpen(open, time.Now())
	s.snap.GateOpen = m.Open()
	if !open && d.Utterance == nil && s.state == StateCapturing {
		s.setState(s.ctx, s.resting())
	}
	s.apply(d)
	return nil
}

// resting is the state capture falls back to when it ends without an
// utterance. An outstanding reply keeps its own state.
func (s *Session) resting() State {
	switch {
	case s.pending:
		return StateAwaitingResponse
	case s.replying:
		return StateSpeaking
	}
	return StateReady
}

// ── Teardown & bookkeeping ─────────────────────────────────────────────────────

// fail records a fatal error and tears the session down into StateError.
func (s *Session) fail(op string, kind ErrorKind, err error) {
	lerr := &Error{Kind: kind, Op: op, Err: err}
	s.teardown(StateError, lerr)
}

// teardown releases everything the running session holds and moves to final.
// It is the single exit path for Stop, remote close and fatal errors.
func (s *Session) teardown(final State, cause *Error) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	s.stopTimer()
	if s.cancel != nil {
		s.cancel()
	}
	if s.connectDone != nil {
		<-s.connectDone
		s.connectDone = nil
	}
	// Any result still racing for s.connected was closed by the connect
	// goroutine once the context was cancelled.
	if s.proto != nil {
		_ = s.proto.Close()
		s.proto, s.events = nil, nil
	}
	if s.tr != nil {
		_ = s.tr.Close()
		s.tr, s.partials, s.finals = nil, nil, nil
	}
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			observe.Logger(ctx).Debug("live: close capture", "err", err)
		}
		s.source, s.frames = nil, nil
	}
	if s.turnSpan != nil {
		s.turnSpan.End()
		s.turnSpan = nil
	}
	s.gate.Reset()
	s.scheduler.Reset()
	s.resampler = nil
	s.pending, s.replying = false, false
	s.snap.GateOpen = false
	s.snap.LatencyPending = false

	if s.active {
		s.active = false
		s.metrics.ActiveSessions.Add(ctx, -1)
	}
	if cause != nil {
		s.recordError(ctx, cause)
	}
	s.setState(ctx, final)
	observe.Logger(ctx).Info("live: session ended", "state", final)
	s.ctx, s.cancel = nil, nil
}

func (s *Session) recordError(ctx context.Context, err *Error) {
	s.metrics.RecordSessionError(ctx, err.Kind.String())
	s.snap.LastError = err.Short()
	s.snap.ErrorKind = err.Kind
	if err.Kind.Fatal() {
		observe.Logger(ctx).Error("live: session error", "kind", err.Kind, "op", err.Op, "err", err.Err)
	} else {
		observe.Logger(ctx).Warn("live: dropped message", "kind", err.Kind, "op", err.Op, "err", err.Err)
	}
}

func (s *Session) setState(ctx context.Context, next State) {
	if next == s.state {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.metrics.RecordTransition(ctx, s.state.String(), next.String())
	observe.Logger(ctx).Debug("live: state change", "from", s.state, "to", next)
	s.state = next
}

// armTimer keeps the gate timer in step with the gate's pending deadline.
func (s *Session) armTimer() {
	deadline, ok := s.gate.Deadline()
	if !ok || !s.state.open() {
		s.stopTimer()
		return
	}
	if s.timerC != nil && deadline.Equal(s.armedAt) {
		return
	}
	s.stopTimer()
	s.timer.Reset(time.Until(deadline))
	s.timerC = s.timer.C
	s.armedAt = deadline
}

func (s *Session) stopTimer() {
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timerC = nil
	s.armedAt = time.Time{}
}

// publish copies the loop's snapshot to readers if anything changed.
func (s *Session) publish() {
	s.snap.State = s.state
	s.snap.LatencyPending = s.pending
	s.snap.Playback = s.scheduler.Next()
	if m, ok := s.gate.(*gate.Manual); ok {
		s.snap.GateOpen = m.Open()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status
	prev.UpdatedAt = s.snap.UpdatedAt
	if prev == s.snap {
		return
	}
	s.snap.UpdatedAt = time.Now()
	s.status = s.snap
	for sub := range s.subs {
		sub.offer(s.status)
	}
}

// String implements fmt.Stringer for log output.
func (s Status) String() string {
	return fmt.Sprintf("%s (gate %s, latency %v)", s.State, s.GateMode, s.Latency)
}

var _ slog.LogValuer = Status{}

// LogValue implements slog.LogValuer.
func (s Status) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("state", s.State.String()),
		slog.String("session_id", s.SessionID),
		slog.Duration("latency", s.Latency),
	)
}
