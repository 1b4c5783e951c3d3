package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"anonsend/config"
	"anonsend/delivery"
)

const (
	housekeepingInterval = time.Hour
	totpPeriod           = 30
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Decrypt and deliver queued messages",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

var workerOnce bool

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "process a single batch and exit")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	codec, fingerprint, err := a.codec()
	if err != nil {
		return err
	}
	sender, err := a.sender()
	if err != nil {
		return err
	}

	worker := delivery.NewWorker(a.queue(codec), sender, delivery.Options{
		Interval:  a.cfg.Delivery.Interval,
		BatchSize: a.cfg.Delivery.BatchSize,
	}, a.logger, a.store)

	out := cmd.OutOrStdout()
	if workerOnce {
		report, err := worker.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "fetched=%d sent=%d failed=%d undecryptable=%d\n",
			report.Fetched, report.Sent, report.Failed, report.Undecryptable)
		return nil
	}

	a.printBanner(out, fingerprint)
	printField(out, "Transport", a.cfg.Delivery.Transport)
	printField(out, "Interval", a.cfg.Delivery.Interval)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("delivery worker started", "interval", a.cfg.Delivery.Interval.String(), "batch_size", a.cfg.Delivery.BatchSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	if a.cfg.Auth.Mode == config.AuthModeTOTP {
		g.Go(func() error {
			return a.pruneTOTPSteps(ctx)
		})
	}

	err = g.Wait()
	a.logger.Info("delivery worker stopped")
	return err
}

// pruneTOTPSteps periodically forgets redeemed steps that can no longer verify.
func (a *app) pruneTOTPSteps(ctx context.Context) error {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			cutoff := now.Unix()/totpPeriod - int64(a.cfg.Auth.TOTPSkew) - 1
			pruneCtx, cancel := context.WithTimeout(ctx, a.cfg.Database.StoreTimeout)
			pruned, err := a.store.PruneTOTPSteps(pruneCtx, cutoff)
			cancel()
			if err != nil {
				a.logger.Warn("totp step prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				a.logger.Debug("totp steps pruned", "count", pruned)
			}
		}
	}
}
