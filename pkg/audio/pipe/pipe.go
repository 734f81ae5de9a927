// Package pipe implements [audio.Source] and [audio.Sink] on top of external
// recorder and player processes that speak raw 16-bit little-endian mono PCM
// on stdout and stdin.
//
// On Linux the defaults are ALSA's arecord and aplay. Elsewhere ffmpeg and
// ffplay are used. Any other tool can be plugged in with [WithCommand].
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// defaultFrameDuration is the capture frame size when none is configured.
const defaultFrameDuration = 20 * time.Millisecond

// Option is a functional option shared by [NewSource] and [NewSink].
type Option func(*options)

type options struct {
	command  string
	args     []string
	frameDur time.Duration
}

// WithCommand overrides the external program and its arguments. The program
// must produce (source) or consume (sink) raw s16le mono PCM at the configured
// rate.
func WithCommand(command string, args ...string) Option {
	return func(o *options) {
		o.command = command
		o.args = args
	}
}

// WithFrameDuration sets the capture frame length. Ignored by the sink.
func WithFrameDuration(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.frameDur = d
		}
	}
}

// DefaultCaptureCommand returns the platform's default recorder invocation
// for mono s16le audio at rate Hz.
func DefaultCaptureCommand(rate int) (string, []string) {
	r := strconv.Itoa(rate)
	if runtime.GOOS == "linux" {
		return "arecord", []string{"-f", "S16_LE", "-r", r, "-c", "1", "-t", "raw", "-q", "-"}
	}
	format, input := "avfoundation", ":default"
	if runtime.GOOS == "windows" {
		format, input = "dshow", "audio=default"
	}
	return "ffmpeg", []string{"-hide_banner", "-loglevel", "error", "-f", format, "-i", input,
		"-ac", "1", "-ar", r, "-f", "s16le", "-"}
}

// DefaultPlaybackCommand returns the platform's default player invocation for
// mono s16le audio at rate Hz.
func DefaultPlaybackCommand(rate int) (string, []string) {
	r := strconv.Itoa(rate)
	if runtime.GOOS == "linux" {
		return "aplay", []string{"-f", "S16_LE", "-r", r, "-c", "1", "-t", "raw", "-q", "-"}
	}
	return "ffplay", []string{"-hide_banner", "-loglevel", "error", "-nodisp", "-autoexit",
		"-f", "s16le", "-ar", r, "-ch_layout", "mono", "-i", "-"}
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source captures audio from a recorder subprocess.
type Source struct {
	rate int
	opts options

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	closeOnce sync.Once
}

var _ audio.Source = (*Source)(nil)

// NewSource creates a [Source] producing frames at rate Hz.
func NewSource(rate int, opts ...Option) (*Source, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("pipe: invalid capture rate %d", rate)
	}
	o := options{frameDur: defaultFrameDuration}
	o.command, o.args = DefaultCaptureCommand(rate)
	for _, opt := range opts {
		opt(&o)
	}
	return &Source{rate: rate, opts: o}, nil
}

// Start implements [audio.Source]. It launches the recorder and returns a
// channel of frames that is closed when the process exits.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("pipe: source already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, s.opts.command, s.opts.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("pipe: capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("pipe: start %s: %w", s.opts.command, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	frames := make(chan audio.Frame, 16)
	go s.readLoop(ctx, stdout, frames)
	return frames, nil
}

// readLoop reads fixed-size PCM chunks from the recorder until EOF or
// cancellation.
func (s *Source) readLoop(ctx context.Context, r io.Reader, out chan<- audio.Frame) {
	defer close(s.done)
	defer close(out)

	n := audio.SamplesFor(s.opts.frameDur, s.rate)
	if n <= 0 {
		n = 1
	}
	buf := make([]byte, n*2)
	var pos time.Duration
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				slog.Warn("pipe: capture read failed", "command", s.opts.command, "err", err)
			}
			return
		}
		samples, err := audio.DecodePCM16(buf)
		if err != nil {
			slog.Warn("pipe: decode capture frame", "err", err)
			continue
		}
		f := audio.Frame{Samples: samples, SampleRate: s.rate, Timestamp: pos}
		pos += f.Duration()
		select {
		case out <- f:
		case <-ctx.Done():
			return
		}
	}
}

// Close implements [audio.Source]. It stops the recorder and waits for the
// read loop to exit. Safe to call multiple times.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cmd, cancel, done := s.cmd, s.cancel, s.done
		s.mu.Unlock()
		if cmd == nil {
			return
		}
		cancel()
		<-done
		if werr := cmd.Wait(); werr != nil && !isKilled(werr) {
			err = fmt.Errorf("pipe: wait %s: %w", s.opts.command, werr)
		}
	})
	return err
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink renders audio through a player subprocess. The timeline starts when
// the sink is opened; gaps between scheduled buffers are filled with silence.
type Sink struct {
	rate int
	opts options

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	start  time.Time

	mu      sync.Mutex
	written int64 // samples queued so far, including padding
	closed  bool

	writeCh   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

var _ audio.Sink = (*Sink)(nil)

// NewSink launches the player for mono audio at rate Hz.
func NewSink(ctx context.Context, rate int, opts ...Option) (*Sink, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("pipe: invalid playback rate %d", rate)
	}
	var o options
	o.command, o.args = DefaultPlaybackCommand(rate)
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, o.command, o.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("pipe: playback stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("pipe: start %s: %w", o.command, err)
	}

	s := &Sink{
		rate:    rate,
		opts:    o,
		cmd:     cmd,
		stdin:   stdin,
		cancel:  cancel,
		start:   time.Now(),
		writeCh: make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Play implements [audio.Sink]. It pads silence up to at, then queues samples.
// Buffers scheduled before the current write position are appended directly.
func (s *Sink) Play(samples []float32, sampleRate int, at time.Duration) error {
	if sampleRate != s.rate {
		return fmt.Errorf("pipe: sink rate is %d Hz, got %d Hz", s.rate, sampleRate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("pipe: sink closed")
	}

	// Player consumption starts at open, so anything older than now is gone.
	floor := int64(audio.SamplesFor(time.Since(s.start), s.rate))
	if s.written < floor {
		s.written = floor
	}
	want := int64(audio.SamplesFor(at, s.rate))
	var chunk []byte
	if pad := want - s.written; pad > 0 {
		chunk = make([]byte, pad*2)
		s.written += pad
	}
	chunk = append(chunk, audio.EncodePCM16(samples)...)
	s.written += int64(len(samples))

	select {
	case s.writeCh <- chunk:
		return nil
	default:
		return errors.New("pipe: playback queue full")
	}
}

// Now implements [audio.Sink].
func (s *Sink) Now() time.Duration {
	return time.Since(s.start)
}

func (s *Sink) writeLoop() {
	defer close(s.done)
	for chunk := range s.writeCh {
		if _, err := s.stdin.Write(chunk); err != nil {
			slog.Warn("pipe: playback write failed", "command", s.opts.command, "err", err)
			// Keep draining so Play never blocks on a dead player.
			for range s.writeCh {
			}
			return
		}
	}
}

// Close implements [audio.Sink]. Safe to call multiple times.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.writeCh)
		s.mu.Unlock()

		<-s.done
		_ = s.stdin.Close()
		s.cancel()
		if werr := s.cmd.Wait(); werr != nil && !isKilled(werr) {
			err = fmt.Errorf("pipe: wait %s: %w", s.opts.command, werr)
		}
	})
	return err
}

// isKilled reports whether err is the exit status of a process we cancelled.
func isKilled(err error) bool {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return !ee.Exited()
	}
	return errors.Is(err, context.Canceled)
}
