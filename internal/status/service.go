package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/simon/crabdash/internal/log"
	"github.com/simon/crabdash/internal/session"
	"github.com/simon/crabdash/internal/state"
)

var (
	// ErrInvalidEvent wraps validation failures of hook payloads.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrSessionNotLive rejects notifications for sessions tmux does not know,
	// so replayed webhooks cannot resurrect a session that is gone.
	ErrSessionNotLive = errors.New("session is not running in tmux")
	ErrNotFound       = errors.New("session not found")
)

// Store is the durable side of the service.
type Store interface {
	Get(ctx context.Context, name string) (*session.Session, error)
	ListActive(ctx context.Context) ([]session.Session, error)
	ListArchived(ctx context.Context) ([]session.Session, error)
	Upsert(ctx context.Context, name string, u state.Update) (state.UpsertResult, error)
	Archive(ctx context.Context, name string) (*session.Session, bool, error)
	Unarchive(ctx context.Context, name string) (*session.Session, error)
	ClearWorktree(ctx context.Context, name string) (*session.Session, error)
	Delete(ctx context.Context, name string) (bool, error)
	CleanupStale(ctx context.Context, activeMaxAge, archivedMaxAge time.Duration) ([]string, error)
	ListHistory(ctx context.Context, name string, limit int) ([]session.HistoryEntry, error)
	PurgeHistory(ctx context.Context, maxAge time.Duration) (int, error)
}

// LiveSessions answers whether tmux currently runs a session.
type LiveSessions interface {
	HasSession(name string) bool
}

// Broadcaster delivers change events to observers. Implementations must not
// block.
type Broadcaster interface {
	StatusUpdate(s session.Session)
	SessionArchived(s session.Session)
	SessionRemoved(name string)
}

// Service owns the status cache and the per-session locks. Every write to a
// session goes through it, so reads, the cache and broadcasts agree.
type Service struct {
	store Store
	live  LiveSessions
	bus   Broadcaster
	cache *Cache
	locks *keyedMutex
	now   func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for sweep cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, live LiveSessions, bus Broadcaster, opts ...Option) *Service {
	s := &Service{
		store: store,
		live:  live,
		bus:   bus,
		cache: NewCache(),
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Heartbeat records that a session is working. Heartbeats may create a
// session; they are the lifecycle signal.
func (s *Service) Heartbeat(ctx context.Context, p session.HeartbeatPayload) (state.UpsertResult, error) {
	if err := p.Validate(); err != nil {
		return state.UpsertResult{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	name := strings.TrimSpace(p.TmuxSession)
	event := session.EventWorking

	return s.apply(ctx, name, state.Update{
		Project:      session.ProjectFor(p.Dir(), name),
		Status:       session.StatusWorking,
		StatusSource: session.SourceHook,
		LastEvent:    &event,
		Metrics:      p.Metrics(),
	})
}

// Notification records that a session needs attention. The session must be
// live in tmux.
func (s *Service) Notification(ctx context.Context, p session.NotificationPayload) (state.UpsertResult, error) {
	if err := p.Validate(); err != nil {
		return state.UpsertResult{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	name := strings.TrimSpace(p.TmuxSession)
	if !s.live.HasSession(name) {
		return state.UpsertResult{}, fmt.Errorf("%w: %s", ErrSessionNotLive, name)
	}

	reason := p.AttentionReason()
	event := p.EventText(reason)
	u := state.Update{
		Status:          session.StatusNeedsAttention,
		StatusSource:    session.SourceHook,
		AttentionReason: reason,
		LastEvent:       &event,
	}
	if p.Cwd != "" {
		u.Project = session.ProjectFor(p.Cwd, name)
	}
	return s.apply(ctx, name, u)
}

// apply writes u under the session's lock, then refreshes the cache and
// broadcasts. On a store error nothing else happens.
func (s *Service) apply(ctx context.Context, name string, u state.Update) (state.UpsertResult, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	res, err := s.store.Upsert(ctx, name, u)
	if err != nil {
		return state.UpsertResult{}, err
	}
	s.afterWrite(res)
	return res, nil
}

func (s *Service) afterWrite(res state.UpsertResult) {
	sess := res.Session
	if sess.Archived() {
		s.cache.Delete(sess.Name)
	} else {
		s.cache.Set(sess.Live())
	}

	if !res.StatusChanged {
		return
	}
	log.Debug().
		Str("session", sess.Name).
		Str("status", string(sess.Status)).
		Str("reason", string(sess.AttentionReason)).
		Str("source", string(sess.StatusSource)).
		Bool("created", res.Created).
		Bool("archived", sess.Archived()).
		Msg("status changed")
	// Observers already dropped it on session-archived.
	if sess.Archived() {
		return
	}
	s.bus.StatusUpdate(sess)
}

// Get returns the stored session or ErrNotFound.
func (s *Service) Get(ctx context.Context, name string) (*session.Session, error) {
	sess, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Service) ListActive(ctx context.Context) ([]session.Session, error) {
	return s.store.ListActive(ctx)
}

func (s *Service) ListArchived(ctx context.Context) ([]session.Session, error) {
	return s.store.ListArchived(ctx)
}

func (s *Service) History(ctx context.Context, name string, limit int) ([]session.HistoryEntry, error) {
	return s.store.ListHistory(ctx, name, limit)
}

// Live returns the cached status of name, if this process has seen an event
// for it since startup.
func (s *Service) Live(name string) (session.Live, bool) {
	return s.cache.Get(name)
}

// LiveSnapshot returns every cached entry, most recently active first.
func (s *Service) LiveSnapshot() []session.Live {
	return s.cache.Snapshot()
}

// Archive retires a session from the active view. Archiving twice is a no-op
// that returns the existing row.
func (s *Service) Archive(ctx context.Context, name string) (*session.Session, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	sess, changed, err := s.store.Archive(ctx, name)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	s.cache.Delete(name)
	if changed {
		s.bus.SessionArchived(*sess)
	}
	return sess, nil
}

// Unarchive returns a session to the active view.
func (s *Service) Unarchive(ctx context.Context, name string) (*session.Session, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	sess, err := s.store.Unarchive(ctx, name)
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cache.Set(sess.Live())
	s.bus.StatusUpdate(*sess)
	return sess, nil
}

// SetWorktree records the git worktree a session runs in.
func (s *Service) SetWorktree(ctx context.Context, name, path, branch string) (*session.Session, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	existing, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	res, err := s.store.Upsert(ctx, name, state.Update{
		WorktreePath:     &path,
		BranchName:       &branch,
		PreserveActivity: true,
	})
	if err != nil {
		return nil, err
	}
	return &res.Session, nil
}

// ClearWorktree drops the worktree fields without touching status.
func (s *Service) ClearWorktree(ctx context.Context, name string) (*session.Session, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	sess, err := s.store.ClearWorktree(ctx, name)
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNotFound
	}
	return sess, err
}

// Delete removes a session. The bool reports whether a row existed.
func (s *Service) Delete(ctx context.Context, name string) (bool, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	deleted, err := s.store.Delete(ctx, name)
	if err != nil {
		return false, err
	}
	s.cache.Delete(name)
	if deleted {
		s.bus.SessionRemoved(name)
	}
	return deleted, nil
}

// MarkEnded moves a session whose tmux session is gone to idle. Sessions that
// are already idle, or that saw activity after listedAt (when the live list
// was taken), are left alone. lastActivity is not touched: nothing happened
// in the session itself.
func (s *Service) MarkEnded(ctx context.Context, name string, listedAt time.Time) (bool, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	existing, err := s.store.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if existing == nil || existing.Status == session.StatusIdle || existing.LastActivity.After(listedAt) {
		return false, nil
	}

	event := session.EventSessionEnded
	res, err := s.store.Upsert(ctx, name, state.Update{
		Status:           session.StatusIdle,
		StatusSource:     session.SourceTmux,
		LastEvent:        &event,
		PreserveActivity: true,
	})
	if err != nil {
		return false, err
	}
	s.afterWrite(res)
	return res.StatusChanged, nil
}

// RemoveStale deletes name if its last activity is still before cutoff once
// the session's lock is held.
func (s *Service) RemoveStale(ctx context.Context, name string, cutoff time.Time) (bool, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	existing, err := s.store.Get(ctx, name)
	if err != nil || existing == nil {
		return false, err
	}
	if !existing.LastActivity.Before(cutoff) {
		return false, nil
	}
	deleted, err := s.store.Delete(ctx, name)
	if err != nil {
		return false, err
	}
	s.cache.Delete(name)
	if deleted {
		s.bus.SessionRemoved(name)
	}
	return deleted, nil
}

// Retention holds the age limits applied by Sweep.
type Retention struct {
	ActiveMaxAge   time.Duration
	ArchivedMaxAge time.Duration
	HistoryMaxAge  time.Duration
}

type SweepResult struct {
	Sessions int `json:"sessions"`
	History  int `json:"history"`
}

// Sweep deletes sessions and history past their retention, drops their
// cache entries and announces every removed name once.
func (s *Service) Sweep(ctx context.Context, r Retention) (SweepResult, error) {
	var res SweepResult

	deleted, err := s.store.CleanupStale(ctx, r.ActiveMaxAge, r.ArchivedMaxAge)
	if err != nil {
		return res, err
	}
	res.Sessions = len(deleted)

	removed := make(map[string]bool, len(deleted))
	for _, name := range deleted {
		s.cache.Delete(name)
		removed[name] = true
	}
	for _, name := range s.cache.PruneBefore(s.now().Add(-r.ActiveMaxAge)) {
		removed[name] = true
	}
	names := make([]string, 0, len(removed))
	for name := range removed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.bus.SessionRemoved(name)
	}

	h, err := s.store.PurgeHistory(ctx, r.HistoryMaxAge)
	if err != nil {
		return res, err
	}
	res.History = h
	return res, nil
}
