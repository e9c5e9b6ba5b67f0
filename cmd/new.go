package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/simon/crabdash/internal/session"
	"github.com/simon/crabdash/internal/tmux"
)

var newCmd = &cobra.Command{
	Use:   "new <slug>",
	Short: "Start Claude Code in a new tmux session named <project>--<slug>",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug := args[0]
		if !validSlug.MatchString(slug) {
			return fmt.Errorf("invalid slug %q: use only alphanumeric, hyphens, underscores", slug)
		}

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			dir = wd
		}
		dir, err := filepath.Abs(dir)
		if err != nil {
			return err
		}

		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			project = filepath.Base(dir)
		}
		name := session.SessionName(project, slug)

		exec := &tmux.LocalExecutor{}
		if exec.HasSession(name) {
			return fmt.Errorf("session %q already exists", name)
		}

		var claudeArgs []string
		if skip, _ := cmd.Flags().GetBool("skip-permissions"); skip {
			claudeArgs = append(claudeArgs, "--dangerously-skip-permissions")
		}
		if err := exec.NewSession(name, dir, claudeArgs); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		fmt.Printf("Created session %q\n", name)

		if attach, _ := cmd.Flags().GetBool("attach"); attach {
			return tmux.AttachSession(name)
		}
		return nil
	},
}

func init() {
	newCmd.Flags().StringP("dir", "c", "", "Working directory for the session")
	newCmd.Flags().StringP("project", "p", "", "Project name (default: basename of the directory)")
	newCmd.Flags().BoolP("attach", "a", false, "Attach to the session immediately")
	newCmd.Flags().Bool("skip-permissions", false, "Run claude with --dangerously-skip-permissions")
	rootCmd.AddCommand(newCmd)
}
