package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/simon/crabdash/internal/session"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tracked sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		archived, _ := cmd.Flags().GetBool("archived")
		var sessions []session.Session
		if archived {
			sessions, err = c.ListArchived(cmd.Context())
		} else {
			sessions, err = c.ListActive(cmd.Context())
			session.SortSessions(sessions)
		}
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}

		table := newTable(os.Stdout, "NAME", "PROJECT", "STATUS", "LAST EVENT", "ACTIVE", "COST")
		for _, s := range sessions {
			cost := "-"
			if s.CostUSD != nil {
				cost = fmt.Sprintf("$%.2f", *s.CostUSD)
			}
			row := []string{s.Name, s.Project, statusText(s.Status, s.AttentionReason), s.LastEvent, ago(s.LastActivity), cost}
			colors := make([]tablewriter.Colors, len(row))
			colors[2] = statusColor(s.Status)
			table.Rich(row, colors)
		}
		table.Render()
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show the status transitions of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := c.History(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Printf("No history for %q.\n", args[0])
			return nil
		}

		table := newTable(os.Stdout, "TIME", "STATUS", "EVENT")
		for _, e := range entries {
			row := []string{
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				statusText(e.Status, e.AttentionReason),
				e.Event,
			}
			table.Rich(row, []tablewriter.Colors{{}, statusColor(e.Status), {}})
		}
		table.Render()
		return nil
	},
}

func init() {
	lsCmd.Flags().BoolP("archived", "a", false, "List archived sessions")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of transitions to show")
	rootCmd.AddCommand(lsCmd, historyCmd)
}
