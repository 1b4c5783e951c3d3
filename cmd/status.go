package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"anonsend/crypto"
	"anonsend/models"
)

// criticalWindow is how far back status looks for critical events.
const criticalWindow = 24 * time.Hour

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, queue depth and code counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fingerprint := ""
	if key, err := a.secretProvider().MasterKey(); err == nil {
		fingerprint = crypto.KeyFingerprint(key)
	} else if !errors.Is(err, crypto.ErrSecretMissing) {
		return err
	}

	fmt.Fprintln(out, titleStyle.Render("anonsend"))
	a.printBanner(out, fingerprint)
	if fingerprint == "" {
		printField(out, "Key Fingerprint", warnStyle.Render("no master key (run `anonsend keygen`)"))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Database.StoreTimeout)
	defer cancel()

	depth, err := a.store.QueueDepth(ctx)
	if err != nil {
		return err
	}
	stats, err := a.store.CodeStats(ctx)
	if err != nil {
		return err
	}

	critical, err := a.store.GetEvents(ctx, models.EventFilter{
		Severity: models.SeverityCritical,
		Since:    time.Now().Add(-criticalWindow),
	})
	if err != nil {
		return err
	}

	printField(out, "Queued Messages", depth)
	printField(out, "Codes", fmt.Sprintf("%d unused of %d", stats.Unused, stats.Total))
	if len(critical) == 0 {
		printField(out, "Critical Events", "none in the last 24h")
		return nil
	}
	printField(out, "Critical Events", errStyle.Render(fmt.Sprintf("%d in the last 24h (see `anonsend events --severity critical`)", len(critical))))
	return nil
}
