package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rpattn/fleetquery/internal/logstream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type logMessage struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Line      string `json:"line"`
}

func newLogMessage(entry logstream.Entry) logMessage {
	return logMessage{Timestamp: entry.FormattedTime(), Message: entry.Message, Line: entry.String()}
}

// handleLogStream upgrades to a websocket, replays the request's log and
// pushes new lines until the request finishes or the client goes away. Ids
// without a status record are closed on the first poll, since the status is
// recorded before any line is logged.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade for %s failed: %v", id, err)
		return
	}
	defer conn.Close()

	history, updates, unsubscribe := s.deps.Logs.Subscribe(id)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, entry := range history {
		if !s.send(conn, entry) {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	poll := time.NewTicker(s.pollEvery)
	defer poll.Stop()

	for {
		select {
		case <-closed:
			return
		case entry, ok := <-updates:
			if !ok {
				return
			}
			if !s.send(conn, entry) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			reason, done := s.streamDone(id)
			if !done || len(updates) > 0 {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, entry logstream.Entry) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(newLogMessage(entry)) == nil
}

func (s *Server) streamDone(id string) (string, bool) {
	status, ok := s.deps.Queries.Status(id)
	switch {
	case !ok:
		return "unknown request", true
	case status.Status.Terminal():
		return "request finished", true
	default:
		return "", false
	}
}
