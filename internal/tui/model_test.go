package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon/crabdash/internal/client"
	"github.com/simon/crabdash/internal/notifications"
	"github.com/simon/crabdash/internal/session"
)

type fakeBackend struct {
	sessions  []session.Session
	archived  []string
	deleted   []string
	deleteErr error
}

func (f *fakeBackend) ListActive(context.Context) ([]session.Session, error) {
	return f.sessions, nil
}

func (f *fakeBackend) Archive(_ context.Context, name string) (*session.Session, error) {
	f.archived = append(f.archived, name)
	return &session.Session{Name: name}, nil
}

func (f *fakeBackend) Delete(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return f.deleteErr
}

func (f *fakeBackend) Subscribe(context.Context) (<-chan notifications.Event, error) {
	return nil, errors.New("no stream")
}

type fakeKiller struct {
	killed []string
	err    error
}

func (f *fakeKiller) KillSession(name string) error {
	f.killed = append(f.killed, name)
	return f.err
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sess(name string, st session.Status, age time.Duration) session.Session {
	return session.Session{
		Name:         name,
		Project:      session.ProjectFromName(name),
		Status:       st,
		LastActivity: base.Add(-age),
	}
}

func newTestModel(sessions ...session.Session) (Model, *fakeBackend, *fakeKiller) {
	be := &fakeBackend{sessions: sessions}
	k := &fakeKiller{}
	m := NewModel(context.Background(), be, k)
	m.now = func() time.Time { return base }
	next, _ := m.Update(sessionsMsg(sessions))
	return next.(Model), be, k
}

func press(t *testing.T, m Model, msg tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	for _, r := range text {
		m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func names(list []session.Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Name
	}
	return out
}

func TestSessionsSortedByPriority(t *testing.T) {
	m, _, _ := newTestModel(
		sess("p--idle", session.StatusIdle, 0),
		sess("p--work", session.StatusWorking, time.Minute),
		sess("p--ask", session.StatusNeedsAttention, time.Hour),
	)
	assert.Equal(t, []string{"p--ask", "p--work", "p--idle"}, names(m.filtered))
}

func TestFilterMatchesNameAndProject(t *testing.T) {
	m, _, _ := newTestModel(
		sess("crab--one", session.StatusWorking, 0),
		sess("web--two", session.StatusWorking, time.Second),
	)

	m = typeText(t, m, "web")
	assert.Equal(t, []string{"web--two"}, names(m.filtered))

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Len(t, m.filtered, 2)
}

func TestQuitOnlyWithEmptyInput(t *testing.T) {
	m, _, _ := newTestModel(sess("p--a", session.StatusWorking, 0))

	m = typeText(t, m, "xq")
	assert.False(t, m.quitting, "q is filter text once typing started")
	assert.Equal(t, "xq", m.input.Value())

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.True(t, m.quitting)
	require.NotNil(t, cmd)
}

func TestEnterSetsAttachTarget(t *testing.T) {
	m, _, _ := newTestModel(
		sess("p--a", session.StatusWorking, 0),
		sess("p--b", session.StatusWorking, time.Minute),
	)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "p--b", m.AttachTarget)
}

func TestKillNeedsConfirmation(t *testing.T) {
	m, be, k := newTestModel(sess("p--a", session.StatusWorking, 0))

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlK})
	assert.Equal(t, "p--a", m.confirmKill)

	// Any other key cancels.
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	assert.Empty(t, m.confirmKill)
	assert.Empty(t, k.killed)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlK})
	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	msg := cmd().(actionDoneMsg)
	assert.NoError(t, msg.err)
	assert.Equal(t, []string{"p--a"}, k.killed)
	assert.Equal(t, []string{"p--a"}, be.deleted)
}

func TestKillDeletesEvenWhenTmuxSessionIsGone(t *testing.T) {
	m, be, k := newTestModel(sess("p--a", session.StatusIdle, 0))
	k.err = errors.New("can't find session")
	be.deleteErr = &client.APIError{StatusCode: 404}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlK})
	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	msg := cmd().(actionDoneMsg)
	assert.NoError(t, msg.err)
	assert.Contains(t, msg.text, "removed p--a")
}

func TestArchiveKey(t *testing.T) {
	m, be, _ := newTestModel(sess("p--a", session.StatusIdle, 0))
	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlA})
	require.NotNil(t, cmd)
	msg := cmd().(actionDoneMsg)
	assert.Equal(t, "archived p--a", msg.text)
	assert.Equal(t, []string{"p--a"}, be.archived)
}

func TestStatusUpdateEventMergesView(t *testing.T) {
	m, _, _ := newTestModel(
		sess("p--a", session.StatusWorking, 0),
		sess("p--b", session.StatusWorking, time.Minute),
	)

	changed := base
	v := session.View{
		Name:             "p--b",
		Project:          "p",
		Status:           session.StatusNeedsAttention,
		AttentionReason:  session.ReasonPermission,
		LastEvent:        "Permission needed",
		LastActivity:     base,
		LastStatusChange: &changed,
	}
	next, cmd := m.Update(eventMsg(notifications.Event{Type: notifications.EventStatusUpdate, Name: "p--b", Session: &v}))
	m = next.(Model)
	assert.Nil(t, cmd, "a closed stream is not waited on")

	require.Equal(t, "p--b", m.filtered[0].Name, "attention sorts first")
	assert.Equal(t, session.ReasonPermission, m.filtered[0].AttentionReason)
}

func TestUnknownSessionEventTriggersRefresh(t *testing.T) {
	m, be, _ := newTestModel(sess("p--a", session.StatusWorking, 0))
	be.sessions = append(be.sessions, sess("p--new", session.StatusWorking, 0))

	v := session.View{Name: "p--new", Status: session.StatusWorking}
	cmd := m.applyEvent(notifications.Event{Type: notifications.EventStatusUpdate, Name: "p--new", Session: &v})
	require.NotNil(t, cmd)

	next, _ := m.Update(cmd())
	assert.Len(t, next.(Model).filtered, 2)
}

func TestRemovalEvents(t *testing.T) {
	m, _, _ := newTestModel(
		sess("p--a", session.StatusWorking, 0),
		sess("p--b", session.StatusWorking, time.Minute),
	)
	m.applyEvent(notifications.Event{Type: notifications.EventSessionArchived, Name: "p--a"})
	m.applyEvent(notifications.Event{Type: notifications.EventSessionRemoved, Name: "missing"})
	assert.Equal(t, []string{"p--b"}, names(m.filtered))
}

func TestCursorFollowsSelectedSession(t *testing.T) {
	m, _, _ := newTestModel(
		sess("p--a", session.StatusWorking, 0),
		sess("p--b", session.StatusWorking, time.Minute),
	)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, "p--b", m.selectedSession().Name)

	next, _ := m.Update(sessionsMsg{
		sess("p--c", session.StatusNeedsAttention, 0),
		sess("p--a", session.StatusWorking, 0),
		sess("p--b", session.StatusWorking, time.Minute),
	})
	m = next.(Model)
	assert.Equal(t, "p--b", m.selectedSession().Name)
}

func TestStreamFallbackToPolling(t *testing.T) {
	m, _, _ := newTestModel()
	next, _ := m.Update(streamClosedMsg{err: errors.New("refused")})
	m = next.(Model)
	assert.Contains(t, m.View(), "polling")

	// The next tick tries to reconnect.
	next, cmd := m.Update(tickMsg(base))
	m = next.(Model)
	assert.True(t, m.connecting)
	assert.NotNil(t, cmd)
}

func TestViewRendersRows(t *testing.T) {
	cost := 1.5
	ctx := 42
	changed := base.Add(-3 * time.Minute)
	s := sess("crab--fox", session.StatusNeedsAttention, 0)
	s.AttentionReason = session.ReasonInput
	s.LastEvent = "Waiting for input"
	s.LastStatusChange = &changed
	s.CostUSD = &cost
	s.ContextUsage = &ctx

	m, _, _ := newTestModel(s)
	out := m.View()
	for _, want := range []string{"crabdash", "NAME", "crab--fox", "input", "3m", "Waiting for input", "$1.50", "ctx:42%"} {
		assert.True(t, strings.Contains(out, want), "view missing %q", want)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		status session.Status
		reason session.AttentionReason
		want   string
	}{
		{session.StatusWorking, "", "working"},
		{session.StatusNeedsAttention, session.ReasonPermission, "permission"},
		{session.StatusNeedsAttention, session.ReasonPlanApproval, "plan"},
		{session.StatusNeedsAttention, session.ReasonTaskComplete, "done"},
		{session.StatusNeedsAttention, session.ReasonInput, "input"},
		{session.StatusIdle, "", "idle"},
		{session.StatusInit, "", "starting"},
		{"", "", "unknown"},
	}
	for _, tt := range tests {
		got := statusLabel(session.Session{Status: tt.status, AttentionReason: tt.reason})
		assert.Equal(t, tt.want, got)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
