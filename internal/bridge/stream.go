package bridge

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/turtacn/Snowy/pkg/protocol"
)

const streamWriteTimeout = 5 * time.Second

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
	},
}

// handleFaceStream pushes the current affect value and every change after it
// to a websocket client until either side goes away.
func (s *Server) handleFaceStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Affect == nil {
		writeError(w, http.StatusInternalServerError, "affect display unavailable")
		return
	}

	s.mu.Lock()
	done := s.done
	s.streams.Add(1)
	s.mu.Unlock()
	defer s.streams.Done()

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()

	updates, cancel := s.opts.Affect.Subscribe()
	defer cancel()

	// Drain client frames so close and ping control messages are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(state string) bool {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(protocol.AffectEvent{State: state}) == nil
	}

	if !send(s.opts.Affect.Current().String()) {
		return
	}
	for {
		select {
		case sig, ok := <-updates:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "affect closed"))
				return
			}
			if !send(sig.String()) {
				return
			}
		case <-done:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge stopping"))
			return
		case <-gone:
			return
		}
	}
}

// Personal.AI order the ending
