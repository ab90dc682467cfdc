package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/application/services"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

const (
	// Time allowed to write an event to the peer
	eventWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	eventPongWait = 60 * time.Second

	// Send pings with this period (must be less than eventPongWait)
	eventPingPeriod = (eventPongWait * 9) / 10
)

// EventsHandler streams session events over a WebSocket connection.
// Events are best effort; a client that falls behind misses intermediate
// progress and catches up on the next event.
type EventsHandler struct {
	broadcaster *services.Broadcaster
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(broadcaster *services.Broadcaster, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// Stream handles GET /api/v1/sessions/{session_id}/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.Error(err),
			zap.String("session_id", sessionID),
		)
		return
	}

	events, cancel := h.broadcaster.Subscribe(sessionID)
	defer cancel()

	h.logger.Debug("Event subscriber connected", zap.String("session_id", sessionID))

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, events, done)

	h.logger.Debug("Event subscriber disconnected", zap.String("session_id", sessionID))
}

// readPump drains control frames so pong handling works, and signals
// when the peer goes away
func (h *EventsHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards broadcaster events to the connection until either
// side goes away
func (h *EventsHandler) writePump(conn *websocket.Conn, events <-chan entities.SessionEvent, done <-chan struct{}) {
	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
