package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon/crabdash/internal/api"
	"github.com/simon/crabdash/internal/notifications"
	"github.com/simon/crabdash/internal/session"
	"github.com/simon/crabdash/internal/state"
	"github.com/simon/crabdash/internal/status"
)

type liveNames map[string]bool

func (l liveNames) HasSession(name string) bool { return l[name] }

type noSweep struct{}

func (noSweep) SweepOnce(context.Context) (status.SweepResult, error) {
	return status.SweepResult{Sessions: 2, History: 5}, nil
}

func newAgent(t *testing.T, live ...string) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := state.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	names := liveNames{}
	for _, n := range live {
		names[n] = true
	}
	hub := notifications.NewService()
	svc := status.New(store, names, hub)
	ctx, cancel := context.WithCancel(context.Background())

	r := gin.New()
	api.SetupRoutes(r, api.NewHandlers(svc, hub, noSweep{}, ctx))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		hub.Shutdown()
		srv.Close()
	})
	return New(srv.URL + "/")
}

func TestClientRoundTrip(t *testing.T) {
	c := newAgent(t, "proj--a")
	ctx := context.Background()

	require.NoError(t, c.Heartbeat(ctx, session.HeartbeatPayload{TmuxSession: "proj--a", Cwd: "/src/proj"}))
	require.NoError(t, c.Notification(ctx, session.NotificationPayload{TmuxSession: "proj--a", NotificationType: "permission_prompt"}))

	active, err := c.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, session.StatusNeedsAttention, active[0].Status)
	assert.Equal(t, session.ReasonPermission, active[0].AttentionReason)

	got, err := c.Get(ctx, "proj--a")
	require.NoError(t, err)
	assert.Equal(t, "proj", got.Project)

	history, err := c.History(ctx, "proj--a", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, session.StatusNeedsAttention, history[0].Status)

	archived, err := c.Archive(ctx, "proj--a")
	require.NoError(t, err)
	assert.NotNil(t, archived.ArchivedAt)

	list, err := c.ListArchived(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	restored, err := c.Unarchive(ctx, "proj--a")
	require.NoError(t, err)
	assert.Nil(t, restored.ArchivedAt)

	wt, err := c.SetWorktree(ctx, "proj--a", "/wt/a", "feat")
	require.NoError(t, err)
	assert.Equal(t, "feat", *wt.BranchName)
	wt, err = c.ClearWorktree(ctx, "proj--a")
	require.NoError(t, err)
	assert.Nil(t, wt.BranchName)

	sweep, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Sessions: 2, History: 5}, sweep)

	require.NoError(t, c.Delete(ctx, "proj--a"))
	_, err = c.Get(ctx, "proj--a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientErrors(t *testing.T) {
	c := newAgent(t)
	ctx := context.Background()

	err := c.Notification(ctx, session.NotificationPayload{TmuxSession: "p--ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = c.Heartbeat(ctx, session.HeartbeatPayload{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url).WithTimeout(time.Second)
	err := c.Heartbeat(context.Background(), session.HeartbeatPayload{TmuxSession: "p--a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent unreachable")
}

func TestSubscribe(t *testing.T) {
	c := newAgent(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Subscribe(ctx)
	require.NoError(t, err)

	next := func() notifications.Event {
		t.Helper()
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed early")
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
			return notifications.Event{}
		}
	}

	assert.Equal(t, notifications.EventConnected, next().Type)

	require.NoError(t, c.Heartbeat(context.Background(), session.HeartbeatPayload{TmuxSession: "p--a"}))
	ev := next()
	assert.Equal(t, notifications.EventStatusUpdate, ev.Type)
	assert.Equal(t, "p--a", ev.Name)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
