package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/simon/crabdash/internal/session"
	"github.com/simon/crabdash/internal/tmux"
)

// hookTimeout bounds every call a hook makes, so a stopped agent never
// stalls Claude Code.
const hookTimeout = 2 * time.Second

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Forward Claude Code hook events to the agent",
	Long: `Reads a Claude Code hook or statusLine payload on stdin and posts it to the agent.

Hook commands never fail: problems are reported on stderr and the exit code is 0.`,
}

var hookHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Report that the session is working (statusLine command)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var p session.HeartbeatPayload
		if !readPayload(cmd.InOrStdin(), &p) {
			return nil
		}
		p.TmuxSession = resolveTmuxSession(p.TmuxSession)

		// statusLine shows whatever the command prints.
		if line, _ := cmd.Flags().GetBool("status-line"); line {
			fmt.Fprintln(cmd.OutOrStdout(), statusLine(p))
		}

		if p.TmuxSession == "" {
			stderrf("crabdash: not inside tmux, heartbeat skipped\n")
			return nil
		}
		c, err := newClient()
		if err != nil {
			stderrf("crabdash: %v\n", err)
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), hookTimeout)
		defer cancel()
		if err := c.WithTimeout(hookTimeout).Heartbeat(ctx, p); err != nil {
			stderrf("crabdash: heartbeat: %v\n", err)
		}
		return nil
	},
}

var hookNotificationCmd = &cobra.Command{
	Use:   "notification",
	Short: "Report that the session needs attention (Notification and Stop hooks)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var p session.NotificationPayload
		if !readPayload(cmd.InOrStdin(), &p) {
			return nil
		}
		p.TmuxSession = resolveTmuxSession(p.TmuxSession)
		if p.TmuxSession == "" {
			stderrf("crabdash: not inside tmux, notification skipped\n")
			return nil
		}

		c, err := newClient()
		if err != nil {
			stderrf("crabdash: %v\n", err)
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), hookTimeout)
		defer cancel()
		if err := c.WithTimeout(hookTimeout).Notification(ctx, p); err != nil {
			stderrf("crabdash: notification: %v\n", err)
		}
		return nil
	},
}

// readPayload decodes the hook JSON. Empty input decodes to the zero value.
func readPayload(r io.Reader, v any) bool {
	data, err := io.ReadAll(r)
	if err != nil {
		stderrf("crabdash: reading stdin: %v\n", err)
		return false
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		stderrf("crabdash: invalid hook payload: %v\n", err)
		return false
	}
	return true
}

// resolveTmuxSession prefers the name from the payload, then
// $CRABDASH_SESSION, then asks tmux.
func resolveTmuxSession(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if env := strings.TrimSpace(os.Getenv("CRABDASH_SESSION")); env != "" {
		return env
	}
	current, err := tmux.CurrentSession()
	if err != nil {
		return ""
	}
	return current
}

// statusLine renders the one-line summary Claude Code shows under the prompt.
func statusLine(p session.HeartbeatPayload) string {
	parts := []string{"🦀"}
	if p.TmuxSession != "" {
		parts = append(parts, p.TmuxSession)
	}
	m := p.Metrics()
	if m.Model != nil {
		parts = append(parts, *m.Model)
	}
	if m.CostUSD != nil {
		parts = append(parts, fmt.Sprintf("$%.2f", *m.CostUSD))
	}
	if m.ContextUsage != nil {
		parts = append(parts, fmt.Sprintf("ctx %d%%", *m.ContextUsage))
	}
	return strings.Join(parts, " · ")
}

func init() {
	hookHeartbeatCmd.Flags().Bool("status-line", true, "Print a status line to stdout")
	hookCmd.AddCommand(hookHeartbeatCmd, hookNotificationCmd)
	rootCmd.AddCommand(hookCmd)
}
