package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon/crabdash/internal/config"
	"github.com/simon/crabdash/internal/notifications"
	"github.com/simon/crabdash/internal/session"
	"github.com/simon/crabdash/internal/state"
	"github.com/simon/crabdash/internal/status"
)

type fakeTmux struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeTmux) SessionNames() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names, f.err
}

func (f *fakeTmux) HasSession(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.names {
		if n == name {
			return true
		}
	}
	return false
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	rec   *Reconciler
	svc   *status.Service
	tmux  *fakeTmux
	hub   *notifications.Service
	clock *clock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := state.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), state.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tm := &fakeTmux{}
	hub := notifications.NewService()
	t.Cleanup(hub.Shutdown)
	svc := status.New(store, tm, hub, status.WithClock(c.Now))

	cfg := config.Default()
	cfg.Reconcile.StaleAfter = 24 * time.Hour
	return &env{
		rec:   New(svc, tm, cfg, WithClock(c.Now)),
		svc:   svc,
		tmux:  tm,
		hub:   hub,
		clock: c,
	}
}

func (e *env) heartbeat(t *testing.T, name string) {
	t.Helper()
	_, err := e.svc.Heartbeat(context.Background(), session.HeartbeatPayload{TmuxSession: name})
	require.NoError(t, err)
}

func TestReconcileMarksMissingSessionIdle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.heartbeat(t, "p--gone")
	e.heartbeat(t, "p--here")
	e.tmux.names = []string{"p--here"}

	events, unsubscribe := e.hub.Subscribe()
	defer unsubscribe()

	e.clock.Advance(time.Minute)
	res, err := e.rec.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Idled: 1}, res)

	gone, err := e.svc.Get(ctx, "p--gone")
	require.NoError(t, err)
	assert.Equal(t, session.StatusIdle, gone.Status)
	assert.Equal(t, session.ReasonNone, gone.AttentionReason)
	assert.Equal(t, session.EventSessionEnded, gone.LastEvent)

	here, err := e.svc.Get(ctx, "p--here")
	require.NoError(t, err)
	assert.Equal(t, session.StatusWorking, here.Status)

	history, err := e.svc.History(ctx, "p--gone", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, session.StatusIdle, history[0].Status)

	select {
	case ev := <-events:
		assert.Equal(t, notifications.EventStatusUpdate, ev.Type)
		assert.Equal(t, "p--gone", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("no broadcast for the idle transition")
	}

	// A second pass finds nothing to do.
	res, err = e.rec.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestReconcileDeletesStaleSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.heartbeat(t, "p--old")

	e.clock.Advance(25 * time.Hour)
	res, err := e.rec.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Removed: 1}, res)

	_, err = e.svc.Get(ctx, "p--old")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestReconcileIgnoresTmuxOnlySessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.tmux.names = []string{"p--untracked"}

	res, err := e.rec.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	_, err = e.svc.Get(ctx, "p--untracked")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestReconcileListerErrorMeansNoneRunning(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.heartbeat(t, "p--a")
	e.tmux.names = []string{"p--a"}
	e.tmux.err = errors.New("tmux: not found")

	e.clock.Advance(time.Second)
	res, err := e.rec.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Idled)
}

func TestReconcileSkipsArchivedSessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.heartbeat(t, "p--a")
	_, err := e.svc.Archive(ctx, "p--a")
	require.NoError(t, err)

	e.clock.Advance(48 * time.Hour)
	res, err := e.rec.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	got, err := e.svc.Get(ctx, "p--a")
	require.NoError(t, err)
	assert.Equal(t, session.StatusWorking, got.Status)
}

func TestSweepOnceUsesRetention(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.heartbeat(t, "p--a")

	e.clock.Advance(2 * time.Hour)
	res, err := e.rec.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.SweepResult{}, res)

	e.rec.SetRetention(status.Retention{
		ActiveMaxAge:   time.Hour,
		ArchivedMaxAge: time.Hour,
		HistoryMaxAge:  time.Hour,
	}, 0)
	res, err = e.rec.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.SweepResult{Sessions: 1, History: 1}, res)
}

func TestSetIntervalsIgnoresNonPositive(t *testing.T) {
	e := newEnv(t)
	e.rec.SetIntervals(time.Second, 0)

	reconcile, sweep := e.rec.intervals()
	assert.Equal(t, time.Second, reconcile)
	assert.Equal(t, time.Hour, sweep)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	e.heartbeat(t, "p--a")
	e.clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.rec.Run(ctx)
		close(done)
	}()

	// The first pass runs immediately on start.
	require.Eventually(t, func() bool {
		got, err := e.svc.Get(context.Background(), "p--a")
		return err == nil && got.Status == session.StatusIdle
	}, time.Second, 10*time.Millisecond)

	e.rec.SetIntervals(time.Millisecond, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
