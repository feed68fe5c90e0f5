package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/sellwatch/market"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill [TICKER...]",
	Short: "Backfill bar history for assigned instruments",
	Long: `Fetch historical bars until every assigned instrument's cache holds
enough depth for its moving average. With no arguments every assigned
instrument is filled; with tickers only those are.

The backfill is idempotent: instruments already at depth cost no
requests, and an interrupted run picks up where it left off.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger()

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	reqs, err := a.backfillRequests()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		want := make(map[string]bool, len(args))
		for _, t := range args {
			want[t] = true
		}
		filtered := reqs[:0]
		for _, r := range reqs {
			if want[r.Instrument] {
				filtered = append(filtered, r)
			}
		}
		reqs = filtered
	}
	if len(reqs) == 0 {
		return fmt.Errorf("nothing to backfill: no matching assignments in %s", cfg.Paths.AssignmentsFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.backfill.EnsureAll(ctx, reqs); err != nil {
		return err
	}

	for _, r := range reqs {
		n, err := a.store.Count(market.Key(r.Instrument, r.Granularity))
		if err != nil {
			return err
		}
		fmt.Printf("%-8s %-4s %d/%d bars\n", r.Instrument, r.Granularity, n, r.TargetBars)
	}
	return nil
}
