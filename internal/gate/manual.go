package gate

import "time"

// Manual is the push-to-talk policy. While open every frame is buffered; closing
// flushes the buffer at once.
type Manual struct {
	buf       buffer
	open      bool
	announced bool
}

var _ Gate = (*Manual)(nil)

// NewManual builds a closed [Manual] gate.
func NewManual(cfg Config) *Manual {
	return &Manual{buf: newBuffer(cfg)}
}

// OnFrame implements [Gate]. Frames arriving while closed are discarded.
func (g *Manual) OnFrame(samples []float32, _ time.Time) Decision {
	if !g.open {
		return Decision{}
	}
	var d Decision
	if !g.announced {
		g.announced = true
		d.Started = true
	}
	g.buf.append(samples)
	d.Buffering = true

	if g.buf.full() {
		d.Utterance = g.buf.flush()
		g.announced = false
	}
	return d
}

// SetOpen implements [Gate]. Opening an open gate and closing a closed one are
// no-ops.
func (g *Manual) SetOpen(open bool, _ time.Time) Decision {
	if open == g.open {
		return Decision{}
	}
	g.open = open
	if open {
		g.announced = true
		return Decision{Started: true}
	}
	g.announced = false
	return Decision{Utterance: g.buf.flush()}
}

// Expire implements [Gate]. Manual gates have no timer.
func (g *Manual) Expire(time.Time) Decision { return Decision{} }

// Deadline implements [Gate].
func (g *Manual) Deadline() (time.Time, bool) { return time.Time{}, false }

// Mode implements [Gate].
func (g *Manual) Mode() Mode { return ModeManual }

// Open reports whether the gate is currently open.
func (g *Manual) Open() bool { return g.open }

// Reset implements [Gate]. The gate is left closed.
func (g *Manual) Reset() {
	g.buf.flush()
	g.open = false
	g.announced = false
}

// Close implements [Gate].
func (g *Manual) Close() error { return nil }
