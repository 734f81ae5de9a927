package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/livetalk/pkg/provider/stt"
)

// ErrAllFailed is returned when no backend of a [Failover] could open a stream.
var ErrAllFailed = errors.New("resilience: all backends failed")

var errNoSession = errors.New("backend returned no session")

type backend struct {
	name    string
	prov    stt.Provider
	breaker *Breaker
}

// Failover is an [stt.Provider] that opens each stream on the first backend,
// in registration order, whose breaker admits the call and whose StartStream
// succeeds. Only stream setup fails over; an open session stays on its backend.
//
// Add must not be called concurrently with StartStream.
type Failover struct {
	cfg      BreakerConfig
	backends []backend
}

var _ stt.Provider = (*Failover)(nil)

// NewFailover returns a Failover with primary as its preferred backend. cfg
// is the template for every backend's breaker; its Name is replaced.
func NewFailover(cfg BreakerConfig, name string, primary stt.Provider) *Failover {
	f := &Failover{cfg: cfg}
	f.Add(name, primary)
	return f
}

// Add registers a backend after the existing ones.
func (f *Failover) Add(name string, p stt.Provider) {
	bc := f.cfg
	bc.Name = "stt/" + name
	f.backends = append(f.backends, backend{name: name, prov: p, breaker: NewBreaker(bc)})
}

// Names lists the backends in the order they are tried.
func (f *Failover) Names() []string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.name
	}
	return names
}

// String renders the chain as "primary → fallback".
func (f *Failover) String() string { return strings.Join(f.Names(), " → ") }

// StartStream implements [stt.Provider]. Cancellation of ctx stops the walk
// and is not counted against any backend.
func (f *Failover) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	var errs []error
	for _, b := range f.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var h stt.SessionHandle
		err := b.breaker.Do(func() error {
			var err error
			h, err = b.prov.StartStream(ctx, cfg)
			switch {
			case err != nil && ctx.Err() != nil:
				return nil // cancelled, not the backend's fault
			case err == nil && h == nil:
				return errNoSession
			}
			return err
		})
		if err == nil {
			if h == nil {
				return nil, ctx.Err()
			}
			return h, nil
		}
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping stt backend, circuit open", "backend", b.name)
		} else {
			slog.Warn("stt backend failed, trying next", "backend", b.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
