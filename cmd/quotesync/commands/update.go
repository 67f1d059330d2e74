package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfinance/quotesync/internal/feed"
	"github.com/openfinance/quotesync/internal/reconcile"
	"github.com/openfinance/quotesync/internal/schema"
	"github.com/openfinance/quotesync/internal/store"
	"github.com/openfinance/quotesync/pkg/config"
	"github.com/openfinance/quotesync/pkg/logger"
)

var (
	feedFile string
	schedule string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Reconcile a quote feed into the ledger store",
	Long: `Reads quote rows from a feed file and reconciles each one into the
ledger store. Currency-pair rows (symbols ending in =X) go to the currency
reconciler, everything else to the security reconciler. New time-series
rows are appended in one batch at the end of the run.

With --schedule the run repeats on a cron schedule instead of exiting.`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&feedFile, "file", "", "quote feed file (.csv or .json)")
	updateCmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule for repeated runs")
	_ = updateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if schedule == "" {
		code, err := runOnce(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		raiseExit(code)
		return nil
	}

	c := cron.New()
	_, err = c.AddFunc(schedule, func() {
		code, err := runOnce(context.Background(), cfg, log)
		if err != nil {
			log.Error().Err(err).Msg("scheduled run failed")
		}
		raiseExit(code)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	log.Info().Str("schedule", schedule).Msg("running on schedule")
	c.Run()
	return nil
}

// runOnce performs one full reconciliation run and returns its exit code.
// A returned error is a run-level failure: the batch append and counter
// flush are skipped.
func runOnce(ctx context.Context, cfg *config.Config, log zerolog.Logger) (int, error) {
	runLog := log.With().Str("run_id", uuid.NewString()).Logger()

	rows, err := feed.Load(feedFile)
	if err != nil {
		return reconcile.ExitError, fmt.Errorf("load feed: %w", err)
	}
	runLog.Info().Str("file", feedFile).Int("rows", len(rows)).Msg("loaded quote feed")

	st, err := store.OpenPg(ctx, cfg.DatabaseURL)
	if err != nil {
		return reconcile.ExitError, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	catalog, err := schema.Load(cfg.SchemaDir)
	if err != nil {
		return reconcile.ExitError, fmt.Errorf("load schema catalog: %w", err)
	}

	summary := reconcile.NewSummary(runLog)
	securities, err := reconcile.NewSecurityReconciler(ctx, st, catalog, summary, cfg.StaleDays, runLog)
	if err != nil {
		return reconcile.ExitError, err
	}
	currencies, err := reconcile.NewCurrencyReconciler(ctx, st, catalog, summary, runLog)
	if err != nil {
		return reconcile.ExitError, err
	}

	for _, row := range rows {
		var target reconcile.Reconciler = securities
		if strings.HasSuffix(row["xSymbol"], "=X") {
			target = currencies
		}
		if _, err := target.Update(ctx, reconcile.RawRow(row)); err != nil {
			// Storage failure: abort remaining rows, skip the flush.
			return reconcile.ExitError, fmt.Errorf("update %s: %w", row["xSymbol"], err)
		}
	}

	if err := securities.Flush(ctx); err != nil {
		return reconcile.ExitError, fmt.Errorf("flush new quotes: %w", err)
	}

	return summary.Log(), nil
}
