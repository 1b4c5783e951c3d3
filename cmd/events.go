package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"anonsend/models"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the event journal, newest first",
	Long: `Lists journal entries: code grants and denials, rejected content,
undecryptable messages and delivery results. Entries never contain message
content or raw codes.`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

var (
	eventsType     string
	eventsSeverity string
	eventsSince    time.Duration
	eventsLimit    int
)

func init() {
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "only this event type (e.g. decrypt_failed)")
	eventsCmd.Flags().StringVar(&eventsSeverity, "severity", "", "only this severity: info, warning or critical")
	eventsCmd.Flags().DurationVar(&eventsSince, "since", 0, "only events newer than this, e.g. 24h")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", models.DefaultEventLimit, "maximum number of events")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	filter := models.EventFilter{
		Type:     eventsType,
		Severity: eventsSeverity,
		Limit:    eventsLimit,
	}
	if eventsSince > 0 {
		filter.Since = time.Now().Add(-eventsSince)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Database.StoreTimeout)
	defer cancel()
	events, err := a.store.GetEvents(ctx, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "no events")
		return nil
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s  %-8s  %-16s  %s",
			ev.Timestamp.Local().Format(time.RFC3339), ev.Severity, ev.Type, ev.Subject)
		if len(ev.Details) > 0 {
			if raw, err := json.Marshal(ev.Details); err == nil {
				line += "  " + string(raw)
			}
		}
		fmt.Fprintln(out, severityStyle(ev.Severity).Render(line))
	}
	return nil
}

func severityStyle(severity string) lipgloss.Style {
	switch severity {
	case models.SeverityCritical:
		return errStyle
	case models.SeverityWarning:
		return warnStyle
	default:
		return lipgloss.NewStyle()
	}
}
