package gate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/livetalk/pkg/provider/vad"
	"github.com/MrWong99/livetalk/pkg/provider/vad/energy"
)

// Auto is the voice-activity policy. An utterance starts with the first active
// frame and ends once no active frame has arrived for the configured silence
// duration. Only active frames are buffered.
type Auto struct {
	silence time.Duration
	vad     vad.SessionHandle
	buf     buffer

	inUtterance bool
	deadline    time.Time
	pending     bool
}

var _ Gate = (*Auto)(nil)

// NewAuto builds an [Auto] gate. Zero Threshold and Silence take defaults.
func NewAuto(cfg Config) (*Auto, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Silence <= 0 {
		cfg.Silence = DefaultSilence
	}
	engine := cfg.VAD
	if engine == nil {
		engine = energy.New()
	}
	sess, err := engine.NewSession(vad.Config{
		SampleRate:      cfg.SampleRate,
		SpeechThreshold: cfg.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("gate: open vad session: %w", err)
	}
	return &Auto{
		silence: cfg.Silence,
		vad:     sess,
		buf:     newBuffer(cfg),
	}, nil
}

// OnFrame implements [Gate].
func (g *Auto) OnFrame(samples []float32, now time.Time) Decision {
	var d Decision

	// A deadline that has already passed ends the previous utterance before
	// this frame is considered.
	if g.pending && !now.Before(g.deadline) {
		d.Utterance = g.end()
	}

	ev, err := g.vad.ProcessFrame(samples)
	if err != nil {
		slog.Warn("gate: vad classification failed, treating frame as silent", "err", err)
		ev = vad.VADEvent{Type: vad.VADSilence}
	}

	if !ev.Active() {
		if g.inUtterance && !g.pending {
			g.deadline = now.Add(g.silence)
			g.pending = true
		}
		return d
	}

	if !g.inUtterance {
		g.inUtterance = true
		d.Started = true
	}
	g.pending = false
	g.buf.append(samples)
	d.Buffering = true

	if g.buf.full() && d.Utterance == nil {
		d.Utterance = g.end()
	}
	return d
}

// SetOpen implements [Gate]. Explicit control does not apply to this policy.
func (g *Auto) SetOpen(bool, time.Time) Decision { return Decision{} }

// Expire implements [Gate].
func (g *Auto) Expire(now time.Time) Decision {
	if !g.pending || now.Before(g.deadline) {
		return Decision{}
	}
	return Decision{Utterance: g.end()}
}

// Deadline implements [Gate].
func (g *Auto) Deadline() (time.Time, bool) {
	return g.deadline, g.pending
}

// Mode implements [Gate].
func (g *Auto) Mode() Mode { return ModeAuto }

// Reset implements [Gate].
func (g *Auto) Reset() {
	g.buf.flush()
	g.inUtterance = false
	g.pending = false
	g.vad.Reset()
}

// Close implements [Gate].
func (g *Auto) Close() error {
	return g.vad.Close()
}

func (g *Auto) end() []float32 {
	g.inUtterance = false
	g.pending = false
	return g.buf.flush()
}
