package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/livetalk/internal/observe"
)

const eventWriteTimeout = 5 * time.Second

// handleEvents upgrades to a websocket and pushes every status snapshot,
// starting with the current one. Slow clients only see the latest snapshot.
// Client messages are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug("web: events upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	updates, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, st)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("web: events write failed", "err", err)
				}
				return
			}
		}
	}
}
