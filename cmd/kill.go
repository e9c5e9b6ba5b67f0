package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simon/crabdash/internal/client"
	"github.com/simon/crabdash/internal/tmux"
)

var killCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Kill a Claude session and forget it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		c, err := newClient()
		if err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Printf("Kill session %q? [y/N] ", name)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		exec := &tmux.LocalExecutor{}
		killed := false
		if exec.HasSession(name) {
			if err := exec.KillSession(name); err != nil {
				return fmt.Errorf("failed to kill session: %w", err)
			}
			killed = true
		}

		err = c.Delete(cmd.Context(), name)
		switch {
		case errors.Is(err, client.ErrNotFound) && !killed:
			return fmt.Errorf("session %q not found", name)
		case err != nil && !errors.Is(err, client.ErrNotFound):
			return fmt.Errorf("failed to delete session: %w", err)
		}

		fmt.Printf("Killed session %q\n", name)
		return nil
	},
}

func init() {
	killCmd.Flags().BoolP("force", "f", false, "Skip confirmation")
	rootCmd.AddCommand(killCmd)
}
