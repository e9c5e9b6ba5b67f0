package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <name>",
	Short: "Hide a session from the board (or bring it back with --undo)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		if undo, _ := cmd.Flags().GetBool("undo"); undo {
			if _, err := c.Unarchive(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to unarchive %q: %w", args[0], err)
			}
			fmt.Printf("Unarchived session %q\n", args[0])
			return nil
		}

		s, err := c.Archive(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to archive %q: %w", args[0], err)
		}
		if s.ArchivedAt != nil {
			fmt.Printf("Archived session %q at %s\n", s.Name, s.ArchivedAt.Local().Format("2006-01-02 15:04"))
			return nil
		}
		fmt.Printf("Archived session %q\n", s.Name)
		return nil
	},
}

var worktreeCmd = &cobra.Command{
	Use:   "worktree <name> [path]",
	Short: "Record the git worktree a session runs in (or clear it with --clear)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		name := args[0]

		if clearIt, _ := cmd.Flags().GetBool("clear"); clearIt {
			if _, err := c.ClearWorktree(cmd.Context(), name); err != nil {
				return fmt.Errorf("failed to clear worktree of %q: %w", name, err)
			}
			fmt.Printf("Cleared worktree of %q\n", name)
			return nil
		}

		if len(args) < 2 {
			return fmt.Errorf("path is required unless --clear is set")
		}
		branch, _ := cmd.Flags().GetString("branch")
		if _, err := c.SetWorktree(cmd.Context(), name, args[1], branch); err != nil {
			return fmt.Errorf("failed to set worktree of %q: %w", name, err)
		}
		fmt.Printf("Set worktree of %q to %s\n", name, args[1])
		return nil
	},
}

func init() {
	archiveCmd.Flags().BoolP("undo", "u", false, "Unarchive instead")
	worktreeCmd.Flags().StringP("branch", "b", "", "Branch checked out in the worktree")
	worktreeCmd.Flags().Bool("clear", false, "Clear the recorded worktree")
	rootCmd.AddCommand(archiveCmd, worktreeCmd)
}
