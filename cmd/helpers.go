package cmd

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/simon/crabdash/internal/client"
	"github.com/simon/crabdash/internal/config"
	"github.com/simon/crabdash/internal/log"
	"github.com/simon/crabdash/internal/session"
)

var validSlug = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// loadConfig reads the file named by --config (or the default path) and
// applies its log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.SetLevel(cfg.Log.Level)
	return cfg, nil
}

func newClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Client.URL), nil
}

// newTable returns a borderless left-aligned table with a colored header.
func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("  ")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	colors := make([]tablewriter.Colors, len(headers))
	for i := range colors {
		colors[i] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgCyanColor}
	}
	table.SetHeaderColor(colors...)
	return table
}

// statusColor picks the cell color for a session's status.
func statusColor(s session.Status) tablewriter.Colors {
	switch s {
	case session.StatusWorking:
		return tablewriter.Colors{tablewriter.FgGreenColor}
	case session.StatusNeedsAttention:
		return tablewriter.Colors{tablewriter.FgYellowColor}
	case session.StatusInit:
		return tablewriter.Colors{tablewriter.FgCyanColor}
	default:
		return tablewriter.Colors{}
	}
}

func statusText(s session.Status, reason session.AttentionReason) string {
	if s == session.StatusNeedsAttention && reason != session.ReasonNone {
		return fmt.Sprintf("%s (%s)", s, reason)
	}
	return s.String()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return session.FormatDuration(time.Since(t)) + " ago"
}

func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
