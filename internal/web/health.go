package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrWong99/livetalk/internal/live"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// SessionChecker fails while the session sits in StateError, reporting the
// last error. An idle or running session is ready.
func SessionChecker(ctrl Controller) Checker {
	return Checker{
		Name: "session",
		Check: func(context.Context) error {
			st := ctrl.Status()
			if st.State != live.StateError {
				return nil
			}
			if st.LastError != "" {
				return errors.New(st.LastError)
			}
			return errors.New("session failed")
		},
	}
}

// healthResult is the JSON body of /healthz and /readyz.
type healthResult struct {
	Status string            `json:"status"`
	State  live.State        `json:"state"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz reports liveness. A process that serves HTTP is alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok", State: s.ctrl.Status().State})
}

// handleReadyz runs every checker in order and answers 503 if any fails.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	res := healthResult{
		Status: "ok",
		State:  s.ctrl.Status().State,
		Checks: make(map[string]string, len(s.checkers)),
	}
	code := http.StatusOK

	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	writeJSON(w, code, res)
}
