package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/simon/crabdash/internal/session"
)

var (
	// Adaptive colors for light/dark terminal backgrounds
	accentColor = lipgloss.AdaptiveColor{Light: "#D6249F", Dark: "#FF79C6"}
	greenColor  = lipgloss.AdaptiveColor{Light: "#116620", Dark: "#50FA7B"}
	yellowColor = lipgloss.AdaptiveColor{Light: "#7D5A00", Dark: "#F1FA8C"}
	redColor    = lipgloss.AdaptiveColor{Light: "#B31D28", Dark: "#FF5555"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#777777", Dark: "#6272A4"}
	hlBgColor   = lipgloss.AdaptiveColor{Light: "#E8E8E8", Dark: "#333333"}
	cyanColor   = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#8BE9FD"}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			PaddingLeft(1)

	headerStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			PaddingLeft(1)

	cursorStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	selectedRowStyle = lipgloss.NewStyle().
				Background(hlBgColor)

	statusWorking = lipgloss.NewStyle().
			Foreground(greenColor)

	statusInput = lipgloss.NewStyle().
			Foreground(yellowColor)

	statusPermission = lipgloss.NewStyle().
				Foreground(redColor).
				Bold(true)

	statusInit = lipgloss.NewStyle().
			Foreground(cyanColor)

	statusIdle = lipgloss.NewStyle().
			Foreground(dimColor)

	eventStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	confirmLabelStyle = lipgloss.NewStyle().
				Foreground(redColor).
				Bold(true).
				PaddingLeft(1)

	confirmKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#FFFFFF"}).
			Background(redColor).
			Bold(true).
			Padding(0, 1)

	confirmDimStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			PaddingLeft(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			PaddingLeft(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(redColor).
			PaddingLeft(1)

	inputLabelStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)
)

// pad right-pads s to width with spaces (based on visual width, not byte count).
func pad(s string, width int) string {
	visual := lipgloss.Width(s)
	if visual >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visual)
}

// truncate shortens s to n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func (m Model) View() string {
	if m.quitting && m.AttachTarget == "" {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("crabdash"))
	b.WriteString(" ")
	b.WriteString(m.renderConnection())
	b.WriteString("\n\n")

	switch {
	case m.err != nil && len(m.sessions) == 0:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	case len(m.sessions) == 0:
		b.WriteString("  No sessions. Run: crabdash new <slug>\n\n")
	default:
		m.renderTable(&b)
	}

	b.WriteString(inputLabelStyle.Render(" > "))
	b.WriteString(m.input.View())
	b.WriteString("\n")

	// Help bar, kill confirmation and messages share one line to avoid
	// layout shift.
	switch {
	case m.confirmKill != "":
		b.WriteString(confirmLabelStyle.Render(fmt.Sprintf("Kill '%s'?", m.confirmKill)))
		b.WriteString("  ")
		b.WriteString(confirmKeyStyle.Render("Enter"))
		b.WriteString(confirmDimStyle.Render("confirm"))
		b.WriteString("  ")
		b.WriteString(confirmKeyStyle.Render("Esc"))
		b.WriteString(confirmDimStyle.Render("cancel"))
	case m.err != nil && len(m.sessions) > 0:
		b.WriteString(errorStyle.Render(m.err.Error()))
	case m.flash != "":
		b.WriteString(helpStyle.Render(m.flash))
	default:
		b.WriteString(helpStyle.Render("enter attach  type to filter  j/k navigate  ctrl+a archive  ctrl+k kill  q quit"))
	}
	b.WriteString("\n")

	return b.String()
}

func (m Model) renderConnection() string {
	switch {
	case m.events != nil:
		return statusWorking.Render("● live")
	case m.connecting:
		return statusIdle.Render("○ connecting")
	default:
		return statusInput.Render("○ polling")
	}
}

func (m Model) renderTable(b *strings.Builder) {
	maxVis := m.maxVisibleSessions()
	end := min(m.scrollOffset+maxVis, len(m.filtered))
	scrollable := len(m.filtered) > maxVis

	type rowData struct {
		name, project, status, event, metrics string
	}
	now := m.now()
	rows := make([]rowData, 0, max(0, end-m.scrollOffset))
	for i := m.scrollOffset; i < end; i++ {
		s := m.filtered[i]
		rows = append(rows, rowData{
			name:    truncate(s.Name, 32),
			project: truncate(s.Project, 20),
			status:  renderStatus(s, now),
			event:   eventStyle.Render(truncate(s.LastEvent, 40)),
			metrics: renderMetrics(s.Metrics),
		})
	}

	// Column widths from headers and visible data, clamped.
	type colSpec struct {
		min, max, width int
		header          string
	}
	cols := []colSpec{
		{min: 4, max: 32, header: "NAME"},
		{min: 7, max: 20, header: "PROJECT"},
		{min: 6, max: 26, header: "STATUS"},
		{min: 5, max: 40, header: "EVENT"},
	}
	for _, r := range rows {
		for j, v := range []string{r.name, r.project, r.status, r.event} {
			cols[j].width = max(cols[j].width, lipgloss.Width(v))
		}
	}
	for j := range cols {
		cols[j].width = min(max(cols[j].width, len(cols[j].header), cols[j].min), cols[j].max)
	}

	header := "    "
	for _, c := range cols {
		header += pad(c.header, c.width) + "  "
	}
	header += "METRICS"
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	if scrollable {
		if m.scrollOffset > 0 {
			b.WriteString(helpStyle.Render(fmt.Sprintf("    ↑ %d more", m.scrollOffset)))
		}
		b.WriteString("\n")
	}

	for ri, r := range rows {
		row := " " + pad(r.name, cols[0].width) + "  " + pad(r.project, cols[1].width) + "  " +
			pad(r.status, cols[2].width) + "  " + pad(r.event, cols[3].width) + "  " + r.metrics
		if m.scrollOffset+ri == m.cursor {
			b.WriteString(cursorStyle.Render(" >"))
			b.WriteString(selectedRowStyle.Render(row))
		} else {
			b.WriteString("  ")
			b.WriteString(row)
		}
		b.WriteString("\n")
	}

	if scrollable {
		if end < len(m.filtered) {
			b.WriteString(helpStyle.Render(fmt.Sprintf("    ↓ %d more", len(m.filtered)-end)))
		}
		b.WriteString("\n")
	}
	if len(m.filtered) == 0 {
		b.WriteString(helpStyle.Render("    no match"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// statusLabel is the short board label for a session's state.
func statusLabel(s session.Session) string {
	switch s.Status {
	case session.StatusWorking:
		return "working"
	case session.StatusNeedsAttention:
		switch s.AttentionReason {
		case session.ReasonPermission:
			return "permission"
		case session.ReasonPlanApproval:
			return "plan"
		case session.ReasonTaskComplete:
			return "done"
		default:
			return "input"
		}
	case session.StatusIdle:
		return "idle"
	case session.StatusInit:
		return "starting"
	default:
		return "unknown"
	}
}

func renderStatus(s session.Session, now time.Time) string {
	label := statusLabel(s)
	var styled string
	switch {
	case s.Status == session.StatusWorking:
		styled = statusWorking.Render(label)
	case s.Status == session.StatusNeedsAttention && (s.AttentionReason == session.ReasonPermission || s.AttentionReason == session.ReasonPlanApproval):
		styled = statusPermission.Render(label)
	case s.Status == session.StatusNeedsAttention:
		styled = statusInput.Render(label)
	case s.Status == session.StatusInit:
		styled = statusInit.Render(label)
	default:
		styled = statusIdle.Render(label)
	}

	if s.LastStatusChange != nil && s.Status != session.StatusWorking {
		styled += " " + eventStyle.Render(session.FormatDurationCoarse(now.Sub(*s.LastStatusChange)))
	}
	return styled
}

func renderMetrics(mt session.Metrics) string {
	var parts []string
	if mt.Model != nil {
		parts = append(parts, *mt.Model)
	}
	if mt.CostUSD != nil {
		parts = append(parts, fmt.Sprintf("$%.2f", *mt.CostUSD))
	}
	if mt.ContextUsage != nil {
		parts = append(parts, fmt.Sprintf("ctx:%d%%", *mt.ContextUsage))
	}
	if mt.LinesAdded != nil || mt.LinesRemoved != nil {
		var added, removed int
		if mt.LinesAdded != nil {
			added = *mt.LinesAdded
		}
		if mt.LinesRemoved != nil {
			removed = *mt.LinesRemoved
		}
		parts = append(parts, fmt.Sprintf("+%d -%d", added, removed))
	}
	return eventStyle.Render(strings.Join(parts, " · "))
}
