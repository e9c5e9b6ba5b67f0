package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxHistoryLimit = 1000

// ListActive handles GET /api/sessions.
func (h *Handlers) ListActive(c *gin.Context) {
	sessions, err := h.status.ListActive(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondList(c, sessions)
}

// ListArchived handles GET /api/sessions/archived.
func (h *Handlers) ListArchived(c *gin.Context) {
	sessions, err := h.status.ListArchived(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondList(c, sessions)
}

// ListLive handles GET /api/sessions/live: the in-memory view, no database.
func (h *Handlers) ListLive(c *gin.Context) {
	RespondList(c, h.status.LiveSnapshot())
}

func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.status.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondData(c, sess)
}

// GetHistory handles GET /api/sessions/:name/history?limit=N.
func (h *Handlers) GetHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.status.History(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondList(c, entries)
}

func (h *Handlers) ArchiveSession(c *gin.Context) {
	sess, err := h.status.Archive(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondData(c, sess)
}

func (h *Handlers) UnarchiveSession(c *gin.Context) {
	sess, err := h.status.Unarchive(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondData(c, sess)
}

// DeleteSession handles DELETE /api/sessions/:name. Deleting an unknown
// session is a 404.
func (h *Handlers) DeleteSession(c *gin.Context) {
	name := c.Param("name")
	deleted, err := h.status.Delete(c.Request.Context(), name)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !deleted {
		RespondNotFound(c, "session not found")
		return
	}
	RespondData(c, gin.H{"name": name, "deleted": true})
}

// WorktreeRequest is the body of PUT /api/sessions/:name/worktree.
type WorktreeRequest struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

func (h *Handlers) SetWorktree(c *gin.Context) {
	var req WorktreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		RespondValidationError(c, "path is required")
		return
	}

	sess, err := h.status.SetWorktree(c.Request.Context(), c.Param("name"), req.Path, req.Branch)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondData(c, sess)
}

func (h *Handlers) ClearWorktree(c *gin.Context) {
	sess, err := h.status.ClearWorktree(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondData(c, sess)
}

// Sweep handles POST /api/maintenance/sweep.
func (h *Handlers) Sweep(c *gin.Context) {
	res, err := h.sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondData(c, res)
}
