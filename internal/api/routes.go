package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes registers every endpoint on r.
func SetupRoutes(r *gin.Engine, h *Handlers) {
	// Claude Code hooks
	r.POST("/heartbeat", h.Heartbeat)
	r.POST("/notification", h.Notification)

	r.GET("/health", h.Health)
	r.GET("/ws", h.Stream)

	api := r.Group("/api")

	// Static routes before :name
	api.GET("/sessions", h.ListActive)
	api.GET("/sessions/archived", h.ListArchived)
	api.GET("/sessions/live", h.ListLive)

	api.GET("/sessions/:name", h.GetSession)
	api.GET("/sessions/:name/history", h.GetHistory)
	api.POST("/sessions/:name/archive", h.ArchiveSession)
	api.POST("/sessions/:name/unarchive", h.UnarchiveSession)
	api.PUT("/sessions/:name/worktree", h.SetWorktree)
	api.DELETE("/sessions/:name/worktree", h.ClearWorktree)
	api.DELETE("/sessions/:name", h.DeleteSession)

	api.POST("/maintenance/sweep", h.Sweep)
}
