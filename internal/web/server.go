// Package web serves the HTTP status and control surface of a live session.
//
// Routes:
//
//   - GET  /status          current [live.Status] as JSON
//   - GET  /events          websocket stream of status snapshots
//   - POST /session/start   start capturing and connecting
//   - POST /session/stop    tear the session down
//   - POST /gate/open       open a manual gate
//   - POST /gate/close      close a manual gate and send the utterance
//   - POST /gate/toggle     flip a manual gate
//   - GET  /healthz         liveness check
//   - GET  /readyz          readiness check
//   - GET  /metrics         Prometheus scrape endpoint
//
// Every route is wrapped in [observe.Middleware].
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/livetalk/internal/live"
	"github.com/MrWong99/livetalk/internal/observe"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Controller is the part of [live.Session] the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	GateOpen() error
	GateClose() error
	GateToggle() error
	Status() live.Status
	Subscribe() (<-chan live.Status, func())
}

var _ Controller = (*live.Session)(nil)

// Option is a functional option for [New].
type Option func(*Server)

// WithMetrics records HTTP metrics to m instead of the global instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer serves g on /metrics instead of [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithChecker adds a readiness check evaluated by /readyz.
func WithChecker(c Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c) }
}

// Server is the HTTP control surface. Create it with [New].
type Server struct {
	ctrl     Controller
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	checkers []Checker
	handler  http.Handler
}

// New builds the routes for ctrl. The session's own state is always the first
// readiness check.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl}
	s.checkers = append(s.checkers, SessionChecker(ctrl))
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /session/start", s.command(func(r *http.Request) error { return ctrl.Start(r.Context()) }))
	mux.HandleFunc("POST /session/stop", s.command(func(*http.Request) error { return ctrl.Stop() }))
	mux.HandleFunc("POST /gate/open", s.command(func(*http.Request) error { return ctrl.GateOpen() }))
	mux.HandleFunc("POST /gate/close", s.command(func(*http.Request) error { return ctrl.GateClose() }))
	mux.HandleFunc("POST /gate/toggle", s.command(func(*http.Request) error { return ctrl.GateToggle() }))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web: listen %q: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web: listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web: serve: %w", err)
	}
	return nil
}

// ── Handlers ──────────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// errorBody is the JSON body of a failed command.
type errorBody struct {
	Error  string         `json:"error"`
	Kind   live.ErrorKind `json:"kind,omitempty"`
	Status live.Status    `json:"status"`
}

// command adapts a session command to a handler that answers with the status
// snapshot after the command, or an error body.
func (s *Server) command(fn func(*http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r); err != nil {
			code := statusCode(err)
			observe.Logger(r.Context()).Debug("web: command rejected", "path", r.URL.Path, "code", code, "err", err)
			writeJSON(w, code, errorBody{Error: err.Error(), Kind: live.KindOf(err), Status: s.ctrl.Status()})
			return
		}
		writeJSON(w, http.StatusOK, s.ctrl.Status())
	}
}

// statusCode maps session errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, live.ErrAlreadyRunning),
		errors.Is(err, live.ErrNotReady),
		errors.Is(err, live.ErrManualGateOnly):
		return http.StatusConflict
	case errors.Is(err, live.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	switch live.KindOf(err) {
	case live.KindConfig:
		return http.StatusUnprocessableEntity
	case live.KindConnection:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("web: encode response", "err", err)
	}
}
