package api

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/simon/crabdash/internal/log"
	"github.com/simon/crabdash/internal/notifications"
	"github.com/simon/crabdash/internal/status"
)

// Sweeper runs the retention sweep on demand.
type Sweeper interface {
	SweepOnce(ctx context.Context) (status.SweepResult, error)
}

// Handlers holds the components the routes call into.
type Handlers struct {
	status  *status.Service
	hub     *notifications.Service
	sweeper Sweeper

	// shutdownCtx is cancelled when the server stops; long-lived WebSocket
	// handlers exit on it.
	shutdownCtx context.Context
}

func NewHandlers(svc *status.Service, hub *notifications.Service, sweeper Sweeper, shutdownCtx context.Context) *Handlers {
	return &Handlers{
		status:      svc,
		hub:         hub,
		sweeper:     sweeper,
		shutdownCtx: shutdownCtx,
	}
}

// respondServiceError maps status service errors to HTTP responses.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, status.ErrInvalidEvent):
		RespondValidationError(c, err.Error())
	case errors.Is(err, status.ErrSessionNotLive):
		RespondNotFound(c, err.Error())
	case errors.Is(err, status.ErrNotFound):
		RespondNotFound(c, "session not found")
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		_ = c.Error(err)
		RespondInternalError(c, "internal error")
	}
}
