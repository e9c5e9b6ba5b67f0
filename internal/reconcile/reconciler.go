// Package reconcile keeps stored session status honest against tmux and
// enforces retention.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/simon/crabdash/internal/config"
	"github.com/simon/crabdash/internal/log"
	"github.com/simon/crabdash/internal/session"
	"github.com/simon/crabdash/internal/status"
)

// Service is the part of the status service the reconciler writes through.
type Service interface {
	ListActive(ctx context.Context) ([]session.Session, error)
	MarkEnded(ctx context.Context, name string, listedAt time.Time) (bool, error)
	RemoveStale(ctx context.Context, name string, cutoff time.Time) (bool, error)
	Sweep(ctx context.Context, r status.Retention) (status.SweepResult, error)
}

// Lister reports the names of the sessions tmux is running.
type Lister interface {
	SessionNames() ([]string, error)
}

// Result counts what one reconciliation pass changed.
type Result struct {
	Idled   int
	Removed int
}

type Reconciler struct {
	svc  Service
	tmux Lister
	now  func() time.Time

	mu            sync.Mutex
	interval      time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration
	retention     status.Retention

	reset chan struct{}
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// New builds a reconciler from the reconcile and retention sections of cfg.
func New(svc Service, tmux Lister, cfg *config.Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		svc:           svc,
		tmux:          tmux,
		now:           time.Now,
		interval:      cfg.Reconcile.Interval,
		sweepInterval: cfg.Retention.SweepInterval,
		staleAfter:    cfg.Reconcile.StaleAfter,
		retention:     RetentionFromConfig(cfg),
		reset:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func RetentionFromConfig(cfg *config.Config) status.Retention {
	return status.Retention{
		ActiveMaxAge:   cfg.Retention.ActiveMaxAge,
		ArchivedMaxAge: cfg.Retention.ArchivedMaxAge,
		HistoryMaxAge:  cfg.Retention.HistoryMaxAge,
	}
}

// Apply takes the durations from a reloaded config.
func (r *Reconciler) Apply(cfg *config.Config) {
	r.SetIntervals(cfg.Reconcile.Interval, cfg.Retention.SweepInterval)
	r.SetRetention(RetentionFromConfig(cfg), cfg.Reconcile.StaleAfter)
}

// SetIntervals changes both timer periods. A running loop picks them up
// without restarting.
func (r *Reconciler) SetIntervals(reconcile, sweep time.Duration) {
	r.mu.Lock()
	changed := reconcile != r.interval || sweep != r.sweepInterval
	if reconcile > 0 {
		r.interval = reconcile
	}
	if sweep > 0 {
		r.sweepInterval = sweep
	}
	r.mu.Unlock()

	if changed {
		select {
		case r.reset <- struct{}{}:
		default:
		}
	}
}

func (r *Reconciler) SetRetention(ret status.Retention, staleAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retention = ret
	if staleAfter > 0 {
		r.staleAfter = staleAfter
	}
}

func (r *Reconciler) intervals() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval, r.sweepInterval
}

// Run reconciles and sweeps once, then on their own tickers until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	interval, sweepInterval := r.intervals()
	reconcileTicker := time.NewTicker(interval)
	defer reconcileTicker.Stop()
	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	log.Info().
		Dur("interval", interval).
		Dur("sweep_interval", sweepInterval).
		Msg("reconciler started")

	r.reconcile(ctx)
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciler stopped")
			return
		case <-reconcileTicker.C:
			r.reconcile(ctx)
		case <-sweepTicker.C:
			r.sweep(ctx)
		case <-r.reset:
			interval, sweepInterval = r.intervals()
			reconcileTicker.Reset(interval)
			sweepTicker.Reset(sweepInterval)
			log.Info().
				Dur("interval", interval).
				Dur("sweep_interval", sweepInterval).
				Msg("reconciler intervals updated")
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	if _, err := r.ReconcileOnce(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("reconciliation failed")
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	if _, err := r.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("retention sweep failed")
	}
}

// ReconcileOnce compares active sessions with the live tmux list. A session
// tmux no longer runs is deleted once its last activity is older than the
// stale threshold, and otherwise marked idle.
//
// Sessions tmux runs that have no row are left alone. The next heartbeat or
// notification creates them with the right project; the reconciler only has
// a name and would have to guess.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (Result, error) {
	var res Result

	listedAt := r.now()
	names, err := r.tmux.SessionNames()
	if err != nil {
		// Treated as no live sessions: everything absent gets idled or removed.
		log.Warn().Err(err).Msg("listing tmux sessions failed, treating as none running")
		names = nil
	}
	live := make(map[string]bool, len(names))
	for _, n := range names {
		live[n] = true
	}

	sessions, err := r.svc.ListActive(ctx)
	if err != nil {
		return res, err
	}

	r.mu.Lock()
	cutoff := listedAt.Add(-r.staleAfter)
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if live[s.Name] {
			continue
		}
		if s.LastActivity.Before(cutoff) {
			removed, err := r.svc.RemoveStale(ctx, s.Name, cutoff)
			if err != nil {
				log.Warn().Err(err).Str("session", s.Name).Msg("failed to remove stale session")
				errs = append(errs, err)
				continue
			}
			if removed {
				res.Removed++
			}
			continue
		}
		if s.Status == session.StatusIdle {
			continue
		}
		idled, err := r.svc.MarkEnded(ctx, s.Name, listedAt)
		if err != nil {
			log.Warn().Err(err).Str("session", s.Name).Msg("failed to mark session ended")
			errs = append(errs, err)
			continue
		}
		if idled {
			res.Idled++
		}
	}

	if res.Idled > 0 || res.Removed > 0 {
		log.Info().
			Int("live", len(live)).
			Int("idled", res.Idled).
			Int("removed", res.Removed).
			Msg("reconciled sessions with tmux")
	}
	return res, errors.Join(errs...)
}

// SweepOnce applies the retention limits now.
func (r *Reconciler) SweepOnce(ctx context.Context) (status.SweepResult, error) {
	r.mu.Lock()
	ret := r.retention
	r.mu.Unlock()

	res, err := r.svc.Sweep(ctx, ret)
	if err != nil {
		return res, err
	}
	if res.Sessions > 0 || res.History > 0 {
		log.Info().
			Int("sessions", res.Sessions).
			Int("history", res.History).
			Msg("retention sweep removed rows")
	}
	return res, nil
}
