package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/simon/crabdash/internal/log"
	"github.com/simon/crabdash/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent that tracks session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log.Init(cfg.Server.Env, cfg.Log.Level)

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		var serveErr error
		select {
		case sig := <-quit:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		case serveErr = <-errCh:
			log.Error().Err(serveErr).Msg("HTTP server stopped")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return errors.Join(serveErr, err)
		}
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
