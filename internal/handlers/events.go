package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/koji0701/peter-video-agent/internal/models"
)

const (
	// eventsReadLimit is tiny: clients only send control frames.
	eventsReadLimit    = 512
	eventsPingInterval = 30 * time.Second
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events handles GET /v1/sessions/{id}/events, a one-way WebSocket stream of
// state transitions and per-segment synthesis progress for one session.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	events, cancel, err := h.studio.Subscribe(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		log.Warn().Err(err).Str("session_id", id.String()).Msg("events ws upgrade failed")
		return
	}
	defer conn.Close()
	defer cancel()

	conn.SetReadLimit(eventsReadLimit)

	// Drain incoming frames so close and pong are processed; the stream
	// itself is server → client only.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send the current state first so a late subscriber renders correctly.
	if view, err := h.studio.GetSession(id); err == nil {
		if err := writeWSJSON(conn, models.Event{Type: models.EventState, State: view.State}); err != nil {
			return
		}
	}

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				// Session was deleted or expired.
				conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := writeWSJSON(conn, ev); err != nil {
				log.Debug().Err(err).Msg("events ws write")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeWSJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return conn.WriteJSON(v)
}
