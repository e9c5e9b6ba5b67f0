package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/simon/crabdash/internal/session"
)

// Heartbeat handles POST /heartbeat, sent by the statusLine hook while a
// session works.
func (h *Handlers) Heartbeat(c *gin.Context) {
	var p session.HeartbeatPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		RespondBadRequest(c, "invalid JSON body")
		return
	}
	if _, err := h.status.Heartbeat(c.Request.Context(), p); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c)
}

// Notification handles POST /notification, sent by the Notification and Stop
// hooks. Unknown tmux sessions get a 404.
func (h *Handlers) Notification(c *gin.Context) {
	var p session.NotificationPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		RespondBadRequest(c, "invalid JSON body")
		return
	}
	if _, err := h.status.Notification(c.Request.Context(), p); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c)
}

type healthResponse struct {
	Status    string `json:"status"`
	Live      int    `json:"live"`
	Observers int    `json:"observers"`
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		Live:      len(h.status.LiveSnapshot()),
		Observers: h.hub.SubscriberCount(),
	})
}
