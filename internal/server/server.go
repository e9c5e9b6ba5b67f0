package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/simon/crabdash/internal/api"
	"github.com/simon/crabdash/internal/config"
	"github.com/simon/crabdash/internal/log"
	"github.com/simon/crabdash/internal/notifications"
	"github.com/simon/crabdash/internal/reconcile"
	"github.com/simon/crabdash/internal/state"
	"github.com/simon/crabdash/internal/status"
	"github.com/simon/crabdash/internal/tmux"
)

// Tmux is what the agent needs from tmux: the live session list for the
// reconciler and the existence check for notifications.
type Tmux interface {
	SessionNames() ([]string, error)
	HasSession(name string) bool
}

// Server owns and coordinates all agent components.
type Server struct {
	cfg *config.Config
	// applied is the last config handed to applyConfig, starting with cfg.
	applied *config.Config

	store         *state.Store
	notifService  *notifications.Service
	statusService *status.Service
	reconciler    *reconcile.Reconciler

	// Shutdown context - cancelled when the server stops. Background loops
	// and WebSocket handlers listen to it.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	background     sync.WaitGroup

	router *gin.Engine
	http   *http.Server
}

type Option func(*options)

type options struct {
	tmux Tmux
}

// WithTmux replaces the local tmux binary, for tests.
func WithTmux(t Tmux) Option {
	return func(o *options) {
		o.tmux = t
	}
}

// New creates a server with all components initialized.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	o := options{tmux: &tmux.LocalExecutor{}}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		applied:        cfg,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}

	// 1. Open database
	log.Info().Str("path", cfg.Database.Path).Msg("opening state database")
	store, err := state.Open(ctx, cfg.Database.Path)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.store = store

	// 2. Broadcast hub
	s.notifService = notifications.NewService()

	// 3. Status service and reconciler
	s.statusService = status.New(store, o.tmux, s.notifService)
	s.reconciler = reconcile.New(s.statusService, o.tmux, cfg)

	// 4. HTTP router
	s.setupRouter()
	api.SetupRoutes(s.router, api.NewHandlers(s.statusService, s.notifService, s.reconciler, s.shutdownCtx))

	log.Info().Msg("server initialized")
	return s, nil
}

// applyConfig takes the settings that can change without a restart.
func (s *Server) applyConfig(cfg *config.Config) {
	log.SetLevel(cfg.Log.Level)
	s.reconciler.Apply(cfg)
	if s.needsRestart(cfg) {
		log.Warn().
			Str("addr", cfg.Addr()).
			Str("db", cfg.Database.Path).
			Msg("listen address and database path changes apply after a restart")
	}
}

// needsRestart reports whether cfg moves the listen address or database
// path away from the last applied config, and records cfg as applied.
func (s *Server) needsRestart(cfg *config.Config) bool {
	prev := s.applied
	s.applied = cfg
	return cfg.Addr() != prev.Addr() || cfg.Database.Path != prev.Database.Path
}

func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	if s.cfg.IsDevelopment() {
		s.router.Use(corsMiddleware())
	}

	// WebSocket upgrades cannot be compressed.
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))

	s.router.SetTrustedProxies(nil)
}

// corsMiddleware lets a locally served dashboard call the agent during
// development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.Request.Header.Get("Origin"); origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start launches the background loops and serves HTTP until Shutdown.
// It returns nil once Shutdown stops the listener.
func (s *Server) Start() error {
	s.startBackground()

	s.http = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.StdErrorLogger(),
	}

	log.Info().
		Str("addr", s.http.Addr).
		Str("env", s.cfg.Server.Env).
		Msg("HTTP server starting")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) startBackground() {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.reconciler.Run(s.shutdownCtx)
	}()

	// Config hot reload, when the config came from a file.
	path := s.cfg.Path()
	if path == "" {
		return
	}
	w, err := config.NewWatcher(path, 0, s.applyConfig)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config hot reload disabled")
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		w.Start(s.shutdownCtx)
	}()
}

// Shutdown stops background loops, disconnects observers, drains HTTP and
// closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	s.shutdownCancel()
	s.background.Wait()

	s.notifService.Shutdown()

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if err := s.store.Close(); err != nil {
		log.Error().Err(err).Msg("database close error")
		return err
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

func (s *Server) Router() *gin.Engine { return s.router }
func (s *Server) Status() *status.Service { return s.statusService }
func (s *Server) Notifications() *notifications.Service { return s.notifService }
func (s *Server) ShutdownContext() context.Context { return s.shutdownCtx }
