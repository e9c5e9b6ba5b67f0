package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Status string

const (
	StatusInit           Status = "init"
	StatusWorking        Status = "working"
	StatusNeedsAttention Status = "needs_attention"
	StatusIdle           Status = "idle"
)

// Valid reports whether s is one of the known statuses. The empty status is
// not valid; it only exists on rows that never received an event.
func (s Status) Valid() bool {
	switch s {
	case StatusInit, StatusWorking, StatusNeedsAttention, StatusIdle:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusNeedsAttention:
		return "needs attention"
	case "":
		return "unknown"
	default:
		return string(s)
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return marshalNullable(string(s))
}

func (s *Status) UnmarshalJSON(b []byte) error {
	v, err := unmarshalNullable(b)
	*s = Status(v)
	return err
}

// Source records which signal produced the current status.
type Source string

const (
	SourceHook Source = "hook"
	SourceTmux Source = "tmux"
)

func (s Source) MarshalJSON() ([]byte, error) {
	return marshalNullable(string(s))
}

func (s *Source) UnmarshalJSON(b []byte) error {
	v, err := unmarshalNullable(b)
	*s = Source(v)
	return err
}

// AttentionReason explains a needs_attention status. Empty means none.
type AttentionReason string

const (
	ReasonNone         AttentionReason = ""
	ReasonPermission   AttentionReason = "permission"
	ReasonInput        AttentionReason = "input"
	ReasonPlanApproval AttentionReason = "plan_approval"
	ReasonTaskComplete AttentionReason = "task_complete"
)

func (r AttentionReason) MarshalJSON() ([]byte, error) {
	return marshalNullable(string(r))
}

func (r *AttentionReason) UnmarshalJSON(b []byte) error {
	v, err := unmarshalNullable(b)
	*r = AttentionReason(v)
	return err
}

func marshalNullable(v string) ([]byte, error) {
	if v == "" {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(b []byte) (string, error) {
	if string(b) == "null" {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return "", err
	}
	return v, nil
}

// Metrics are reported opportunistically by heartbeats. A nil field means
// "not reported", never zero.
type Metrics struct {
	Model        *string  `json:"model"`
	CostUSD      *float64 `json:"costUsd"`
	ContextUsage *int     `json:"contextUsage"`
	LinesAdded   *int     `json:"linesAdded"`
	LinesRemoved *int     `json:"linesRemoved"`
}

// Merge overlays every non-nil field of newer onto m.
func (m Metrics) Merge(newer Metrics) Metrics {
	if newer.Model != nil {
		m.Model = newer.Model
	}
	if newer.CostUSD != nil {
		m.CostUSD = newer.CostUSD
	}
	if newer.ContextUsage != nil {
		m.ContextUsage = newer.ContextUsage
	}
	if newer.LinesAdded != nil {
		m.LinesAdded = newer.LinesAdded
	}
	if newer.LinesRemoved != nil {
		m.LinesRemoved = newer.LinesRemoved
	}
	return m
}

// Session is one tracked tmux session running Claude Code, keyed by name.
type Session struct {
	Name             string          `json:"name"`
	Project          string          `json:"project"`
	Status           Status          `json:"status"`
	StatusSource     Source          `json:"statusSource"`
	AttentionReason  AttentionReason `json:"attentionReason"`
	LastEvent        string          `json:"lastEvent"`
	LastActivity     time.Time       `json:"lastActivity"`
	LastStatusChange *time.Time      `json:"lastStatusChange"`
	ArchivedAt       *time.Time      `json:"archivedAt"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Metrics
	WorktreePath *string `json:"worktreePath"`
	BranchName   *string `json:"branchName"`
}

func (s Session) Archived() bool {
	return s.ArchivedAt != nil
}

// Live is the subset of a session kept in memory for fast reads.
type Live struct {
	Name             string          `json:"name"`
	Status           Status          `json:"status"`
	AttentionReason  AttentionReason `json:"attentionReason"`
	LastEvent        string          `json:"lastEvent"`
	LastActivity     time.Time       `json:"lastActivity"`
	LastStatusChange *time.Time      `json:"lastStatusChange"`
	Metrics
}

func (s Session) Live() Live {
	return Live{
		Name:             s.Name,
		Status:           s.Status,
		AttentionReason:  s.AttentionReason,
		LastEvent:        s.LastEvent,
		LastActivity:     s.LastActivity,
		LastStatusChange: s.LastStatusChange,
		Metrics:          s.Metrics,
	}
}

// View is what observers receive when a session changes.
type View struct {
	Name             string          `json:"name"`
	Project          string          `json:"project"`
	Status           Status          `json:"status"`
	StatusSource     Source          `json:"statusSource"`
	AttentionReason  AttentionReason `json:"attentionReason"`
	LastEvent        string          `json:"lastEvent"`
	LastActivity     time.Time       `json:"lastActivity"`
	LastStatusChange *time.Time      `json:"lastStatusChange"`
	ArchivedAt       *time.Time      `json:"archivedAt"`
	Metrics
}

func (s Session) View() View {
	return View{
		Name:             s.Name,
		Project:          s.Project,
		Status:           s.Status,
		StatusSource:     s.StatusSource,
		AttentionReason:  s.AttentionReason,
		LastEvent:        s.LastEvent,
		LastActivity:     s.LastActivity,
		LastStatusChange: s.LastStatusChange,
		ArchivedAt:       s.ArchivedAt,
		Metrics:          s.Metrics,
	}
}

// HistoryEntry is one recorded status transition.
type HistoryEntry struct {
	ID              string          `json:"id"`
	SessionName     string          `json:"sessionName"`
	Status          Status          `json:"status"`
	AttentionReason AttentionReason `json:"attentionReason"`
	Event           string          `json:"event"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// NameSeparator splits a session name into project and slug.
const NameSeparator = "--"

// ProjectFromName returns the part of name before the first "--", or the
// whole name when there is none.
func ProjectFromName(name string) string {
	if idx := strings.Index(name, NameSeparator); idx > 0 {
		return name[:idx]
	}
	return name
}

// SessionName builds "<project>--<slug>".
func SessionName(project, slug string) string {
	return project + NameSeparator + slug
}

// statusPriority returns sort priority (lower = more important, shown first).
func statusPriority(s Status) int {
	switch s {
	case StatusNeedsAttention:
		return 0
	case StatusWorking:
		return 1
	case StatusInit:
		return 2
	case StatusIdle:
		return 3
	default:
		return 4
	}
}

// SortSessions orders by status priority, then most recent activity first.
func SortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		pi, pj := statusPriority(sessions[i].Status), statusPriority(sessions[j].Status)
		if pi != pj {
			return pi < pj
		}
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
}

// FormatDurationCoarse formats a duration using only the largest unit.
func FormatDurationCoarse(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, hours)
}
