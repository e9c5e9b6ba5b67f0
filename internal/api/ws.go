package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/simon/crabdash/internal/log"
	"github.com/simon/crabdash/internal/notifications"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	// The agent listens on loopback; the dashboard may be served from any
	// local port.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Stream handles GET /ws. Observers get a connected event, then every
// broadcast as a JSON text frame. Events are not replayed; an observer that
// (re)connects fetches /api/sessions to resync.
func (h *Handlers) Stream(c *gin.Context) {
	log.MarkHijacked(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	// Observers only listen. Reading is still needed to process control
	// frames and to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					log.Debug().Err(err).Msg("observer read error")
				}
				return
			}
		}
	}()

	if err := writeEvent(conn, notifications.Event{
		Type:      notifications.EventConnected,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return
	}
	log.Debug().Str("remote", c.Request.RemoteAddr).Msg("observer connected")

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				closeConn(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(conn, event); err != nil {
				log.Debug().Err(err).Msg("dropping observer after write failure")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-closed:
			log.Debug().Str("remote", c.Request.RemoteAddr).Msg("observer disconnected")
			return
		case <-h.shutdownCtx.Done():
			closeConn(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event notifications.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(event)
}

func closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
