package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/simon/crabdash/internal/client"
	"github.com/simon/crabdash/internal/notifications"
	"github.com/simon/crabdash/internal/session"
)

const pollInterval = 5 * time.Second

// Backend is the agent API the board reads from and acts through.
type Backend interface {
	ListActive(ctx context.Context) ([]session.Session, error)
	Archive(ctx context.Context, name string) (*session.Session, error)
	Delete(ctx context.Context, name string) error
	Subscribe(ctx context.Context) (<-chan notifications.Event, error)
}

// Killer stops the tmux session behind a board entry.
type Killer interface {
	KillSession(name string) error
}

type tickMsg time.Time

type sessionsMsg []session.Session

type errMsg struct{ err error }

type subscribedMsg struct {
	events <-chan notifications.Event
}

type eventMsg notifications.Event

type streamClosedMsg struct{ err error }

type actionDoneMsg struct {
	text string
	err  error
}

type Model struct {
	ctx     context.Context
	backend Backend
	tmux    Killer

	sessions     []session.Session
	filtered     []session.Session
	cursor       int
	scrollOffset int
	input        textinput.Model
	confirmKill  string

	events     <-chan notifications.Event
	connecting bool
	streamErr  error

	width, height int
	AttachTarget  string // set when the user picks a session to attach
	quitting      bool
	err           error
	flash         string
	now           func() time.Time
}

// NewModel builds the board. ctx bounds the event stream; cancel it once the
// program exits.
func NewModel(ctx context.Context, backend Backend, tmux Killer) Model {
	ti := textinput.New()
	ti.Placeholder = "Type to filter..."
	ti.Prompt = ""
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 60

	return Model{
		ctx:        ctx,
		backend:    backend,
		tmux:       tmux,
		input:      ti,
		connecting: true,
		now:        time.Now,
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.refresh,
		m.subscribe,
		tickCmd(),
	)
}

func (m Model) refresh() tea.Msg {
	sessions, err := m.backend.ListActive(m.ctx)
	if err != nil {
		return errMsg{err}
	}
	return sessionsMsg(sessions)
}

func (m Model) subscribe() tea.Msg {
	events, err := m.backend.Subscribe(m.ctx)
	if err != nil {
		return streamClosedMsg{err: err}
	}
	return subscribedMsg{events: events}
}

func waitForEvent(events <-chan notifications.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case sessionsMsg:
		m.err = nil
		m.setSessions([]session.Session(msg))
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case subscribedMsg:
		m.events = msg.events
		m.connecting = false
		m.streamErr = nil
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		// Fall back to polling; the next tick reconnects.
		m.events = nil
		m.connecting = false
		m.streamErr = msg.err
		return m, nil

	case eventMsg:
		cmd := m.applyEvent(notifications.Event(msg))
		if m.events == nil {
			return m, cmd
		}
		return m, tea.Batch(cmd, waitForEvent(m.events))

	case actionDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.flash = msg.text
		}
		return m, m.refresh

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(), m.refresh}
		if m.events == nil && !m.connecting {
			m.connecting = true
			cmds = append(cmds, m.subscribe)
		}
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		m.ensureCursorVisible()
		return m, nil

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applyEvent folds a broadcast into the board. Events carry the whole view of
// the session, so most need no round trip. The agent sends connected on every
// (re)connect; events may have been missed before it, so refetch.
func (m *Model) applyEvent(ev notifications.Event) tea.Cmd {
	switch ev.Type {
	case notifications.EventConnected:
		return m.refresh
	case notifications.EventSessionRemoved, notifications.EventSessionArchived:
		m.removeSession(ev.Name)
	case notifications.EventStatusUpdate:
		if ev.Session == nil {
			return m.refresh
		}
		if ev.Session.ArchivedAt != nil {
			m.removeSession(ev.Name)
			return nil
		}
		if !m.mergeView(*ev.Session) {
			return m.refresh
		}
	}
	return nil
}

// mergeView updates the matching entry and reports whether there was one.
func (m *Model) mergeView(v session.View) bool {
	for i := range m.sessions {
		if m.sessions[i].Name != v.Name {
			continue
		}
		s := &m.sessions[i]
		s.Project = v.Project
		s.Status = v.Status
		s.StatusSource = v.StatusSource
		s.AttentionReason = v.AttentionReason
		s.LastEvent = v.LastEvent
		s.LastActivity = v.LastActivity
		s.LastStatusChange = v.LastStatusChange
		s.Metrics = v.Metrics
		m.setSessions(m.sessions)
		return true
	}
	return false
}

func (m *Model) removeSession(name string) {
	kept := m.sessions[:0:0]
	for _, s := range m.sessions {
		if s.Name != name {
			kept = append(kept, s)
		}
	}
	m.setSessions(kept)
	if m.confirmKill == name {
		m.confirmKill = ""
	}
}

// setSessions replaces the list and keeps the cursor on the same session
// when it is still there.
func (m *Model) setSessions(sessions []session.Session) {
	var selected string
	if sel := m.selectedSession(); sel != nil {
		selected = sel.Name
	}

	m.sessions = sessions
	session.SortSessions(m.sessions)
	m.applyFilter()

	if selected == "" {
		return
	}
	for i, s := range m.filtered {
		if s.Name == selected {
			m.cursor = i
			m.ensureCursorVisible()
			return
		}
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.CtrlC) {
		m.quitting = true
		return m, tea.Quit
	}

	m.flash = ""

	if key.Matches(msg, keys.Escape) {
		if m.confirmKill != "" {
			m.confirmKill = ""
			return m, nil
		}
		m.input.SetValue("")
		m.applyFilter()
		return m, nil
	}

	// While a kill is pending only Enter proceeds; anything else cancels.
	if m.confirmKill != "" {
		if key.Matches(msg, keys.Enter) {
			name := m.confirmKill
			m.confirmKill = ""
			return m, m.killCmd(name)
		}
		m.confirmKill = ""
		return m, nil
	}

	if key.Matches(msg, keys.Kill) {
		if sel := m.selectedSession(); sel != nil {
			m.confirmKill = sel.Name
		}
		return m, nil
	}

	if key.Matches(msg, keys.Archive) {
		if sel := m.selectedSession(); sel != nil {
			return m, m.archiveCmd(sel.Name)
		}
		return m, nil
	}

	if key.Matches(msg, keys.Refresh) {
		return m, m.refresh
	}

	if m.input.Value() == "" {
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		if key.Matches(msg, keys.Up) {
			m.moveCursor(-1)
			return m, nil
		}
		if key.Matches(msg, keys.Down) {
			m.moveCursor(1)
			return m, nil
		}
	}

	if key.Matches(msg, keys.Enter) {
		sel := m.selectedSession()
		if sel == nil {
			return m, nil
		}
		m.AttachTarget = sel.Name
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.applyFilter()
	return m, cmd
}

func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.moveCursor(-1)
	case tea.MouseButtonWheelDown:
		m.moveCursor(1)
	}
	return m, nil
}

func (m *Model) moveCursor(delta int) {
	next := m.cursor + delta
	if next < 0 || next >= len(m.filtered) {
		return
	}
	m.cursor = next
	m.ensureCursorVisible()
}

// killCmd stops the tmux session, then drops its row. A session tmux no
// longer runs is still deleted.
func (m Model) killCmd(name string) tea.Cmd {
	return func() tea.Msg {
		killErr := m.tmux.KillSession(name)
		if err := m.backend.Delete(m.ctx, name); err != nil && !errors.Is(err, client.ErrNotFound) {
			return actionDoneMsg{err: fmt.Errorf("delete %s: %w", name, err)}
		}
		if killErr != nil {
			return actionDoneMsg{text: fmt.Sprintf("removed %s (tmux: %v)", name, killErr)}
		}
		return actionDoneMsg{text: "killed " + name}
	}
}

func (m Model) archiveCmd(name string) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.backend.Archive(m.ctx, name); err != nil {
			return actionDoneMsg{err: fmt.Errorf("archive %s: %w", name, err)}
		}
		return actionDoneMsg{text: "archived " + name}
	}
}

// applyFilter matches the query against name, project and last event.
func (m *Model) applyFilter() {
	query := strings.ToLower(strings.TrimSpace(m.input.Value()))
	if query == "" {
		m.filtered = m.sessions
	} else {
		m.filtered = nil
		for _, s := range m.sessions {
			if strings.Contains(strings.ToLower(s.Name), query) ||
				strings.Contains(strings.ToLower(s.Project), query) ||
				strings.Contains(strings.ToLower(s.LastEvent), query) {
				m.filtered = append(m.filtered, s)
			}
		}
	}
	if m.cursor >= len(m.filtered) {
		m.cursor = max(0, len(m.filtered)-1)
	}
	m.ensureCursorVisible()
}

// maxVisibleSessions leaves room for the title, header, input and help lines.
func (m Model) maxVisibleSessions() int {
	if m.height <= 0 {
		return len(m.filtered)
	}
	return max(1, min(len(m.filtered), m.height-8))
}

func (m *Model) ensureCursorVisible() {
	maxVis := m.maxVisibleSessions()
	if maxVis <= 0 {
		m.scrollOffset = 0
		return
	}
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	}
	if m.cursor >= m.scrollOffset+maxVis {
		m.scrollOffset = m.cursor - maxVis + 1
	}
	maxOffset := max(0, len(m.filtered)-maxVis)
	if m.scrollOffset > maxOffset {
		m.scrollOffset = maxOffset
	}
}

func (m Model) selectedSession() *session.Session {
	if m.cursor < 0 || m.cursor >= len(m.filtered) {
		return nil
	}
	s := m.filtered[m.cursor]
	return &s
}
