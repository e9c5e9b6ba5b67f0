package cmd

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/simon/crabdash/internal/tmux"
	"github.com/simon/crabdash/internal/tui"
)

var configPath string

func SetVersionInfo(version, commit string) {
	rootCmd.Version = fmt.Sprintf("%s (%s)", version, commit)
}

var rootCmd = &cobra.Command{
	Use:   "crabdash",
	Short: "Status board for Claude Code sessions in tmux",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		executor := &tmux.LocalExecutor{}

		for {
			ctx, cancel := context.WithCancel(cmd.Context())
			m := tui.NewModel(ctx, c, executor)
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())

			finalModel, err := p.Run()
			cancel()
			if err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}

			final := finalModel.(tui.Model)
			if final.AttachTarget == "" {
				break
			}

			// Attach as child process; returns when user detaches
			if err := executor.AttachSession(final.AttachTarget); err != nil {
				stderrf("attach %s: %v\n", final.AttachTarget, err)
			}
			// Loop restarts TUI
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/crabdash/config.yaml)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
