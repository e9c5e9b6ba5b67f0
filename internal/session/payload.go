package session

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
)

// ErrMissingSession is returned when a hook payload has no tmux_session.
var ErrMissingSession = errors.New("tmux_session is required")

// HeartbeatPayload is the body Claude Code's statusLine hook posts while a
// session is working.
type HeartbeatPayload struct {
	TmuxSession   string         `json:"tmux_session"`
	SessionID     string         `json:"session_id,omitempty"`
	Cwd           string         `json:"cwd,omitempty"`
	Workspace     *Workspace     `json:"workspace,omitempty"`
	Model         *ModelInfo     `json:"model,omitempty"`
	Cost          *CostInfo      `json:"cost,omitempty"`
	ContextWindow *ContextWindow `json:"context_window,omitempty"`
}

type Workspace struct {
	CurrentDir string `json:"current_dir,omitempty"`
	ProjectDir string `json:"project_dir,omitempty"`
}

type ModelInfo struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type CostInfo struct {
	TotalCostUSD      *float64 `json:"total_cost_usd,omitempty"`
	TotalDurationMS   *int64   `json:"total_duration_ms,omitempty"`
	TotalLinesAdded   *int     `json:"total_lines_added,omitempty"`
	TotalLinesRemoved *int     `json:"total_lines_removed,omitempty"`
}

type ContextWindow struct {
	ContextWindowSize *int64      `json:"context_window_size,omitempty"`
	CurrentUsage      *TokenUsage `json:"current_usage,omitempty"`
}

type TokenUsage struct {
	InputTokens          int64 `json:"input_tokens"`
	OutputTokens         int64 `json:"output_tokens"`
	CacheReadInputTokens int64 `json:"cache_read_input_tokens"`
}

func (p HeartbeatPayload) Validate() error {
	if strings.TrimSpace(p.TmuxSession) == "" {
		return ErrMissingSession
	}
	return nil
}

// Dir is the working directory the payload reports, if any.
func (p HeartbeatPayload) Dir() string {
	if p.Cwd != "" {
		return p.Cwd
	}
	if p.Workspace != nil {
		return p.Workspace.CurrentDir
	}
	return ""
}

// Metrics extracts the reported metrics. Absent values stay nil.
func (p HeartbeatPayload) Metrics() Metrics {
	var m Metrics
	if p.Model != nil {
		name := p.Model.DisplayName
		if name == "" {
			name = p.Model.ID
		}
		if name != "" {
			m.Model = &name
		}
	}
	if p.Cost != nil {
		m.CostUSD = p.Cost.TotalCostUSD
		m.LinesAdded = p.Cost.TotalLinesAdded
		m.LinesRemoved = p.Cost.TotalLinesRemoved
	}
	m.ContextUsage = ContextUsage(p.ContextWindow)
	return m
}

// ContextUsage returns the percentage of the context window in use, or nil
// when the payload does not carry enough to compute it.
func ContextUsage(cw *ContextWindow) *int {
	if cw == nil || cw.CurrentUsage == nil || cw.ContextWindowSize == nil || *cw.ContextWindowSize <= 0 {
		return nil
	}
	used := cw.CurrentUsage.InputTokens + cw.CurrentUsage.CacheReadInputTokens
	pct := int(math.Round(100 * float64(used) / float64(*cw.ContextWindowSize)))
	pct = min(max(pct, 0), 100)
	return &pct
}

// NotificationPayload is the body of Claude Code's Notification (and Stop)
// hooks.
type NotificationPayload struct {
	TmuxSession      string `json:"tmux_session"`
	SessionID        string `json:"session_id,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
	PermissionMode   string `json:"permission_mode,omitempty"`
	ToolName         string `json:"tool_name,omitempty"`
	Message          string `json:"message,omitempty"`
	HookEventName    string `json:"hook_event_name,omitempty"`
	Cwd              string `json:"cwd,omitempty"`
}

func (p NotificationPayload) Validate() error {
	if strings.TrimSpace(p.TmuxSession) == "" {
		return ErrMissingSession
	}
	return nil
}

var (
	permissionTypes = map[string]bool{
		"permission_prompt":  true,
		"permission":         true,
		"permission_request": true,
	}
	inputTypes = map[string]bool{
		"idle_prompt":        true,
		"idle":               true,
		"input":              true,
		"waiting_for_input":  true,
		"elicitation_dialog": true,
	}
	completionTypes = map[string]bool{
		"task_complete": true,
		"stop":          true,
		"stopped":       true,
	}
)

func (p NotificationPayload) kind() string {
	t := strings.ToLower(strings.TrimSpace(p.NotificationType))
	if t == "" && strings.EqualFold(p.HookEventName, "stop") {
		return "stop"
	}
	return t
}

// AttentionReason maps the notification to why the session needs a human.
// Plan mode wins over the type; an unknown type that names a tool is treated
// as a permission request.
func (p NotificationPayload) AttentionReason() AttentionReason {
	if p.PermissionMode == "plan" {
		return ReasonPlanApproval
	}
	t := p.kind()
	switch {
	case permissionTypes[t]:
		return ReasonPermission
	case inputTypes[t]:
		return ReasonInput
	case completionTypes[t]:
		return ReasonTaskComplete
	case p.ToolName != "":
		return ReasonPermission
	default:
		return ReasonInput
	}
}

// EventText is the human-readable lastEvent for this notification.
func (p NotificationPayload) EventText(reason AttentionReason) string {
	if msg := strings.TrimSpace(p.Message); msg != "" {
		return msg
	}
	return ReasonText(reason)
}

// Event texts written to lastEvent.
const (
	EventWorking        = "Working"
	EventSessionEnded   = "session ended"
	eventPermission     = "Permission needed"
	eventInput          = "Waiting for input"
	eventPlanApproval   = "Plan ready for approval"
	eventTaskComplete   = "Task complete"
	eventNeedsAttention = "Needs attention"
)

func ReasonText(r AttentionReason) string {
	switch r {
	case ReasonPermission:
		return eventPermission
	case ReasonInput:
		return eventInput
	case ReasonPlanApproval:
		return eventPlanApproval
	case ReasonTaskComplete:
		return eventTaskComplete
	default:
		return eventNeedsAttention
	}
}

// ProjectFor derives the project from the working directory basename, or
// from the session name when no usable directory is given.
func ProjectFor(cwd, name string) string {
	if cwd != "" {
		base := filepath.Base(filepath.Clean(cwd))
		if base != "." && base != string(filepath.Separator) {
			return base
		}
	}
	return ProjectFromName(name)
}
