package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/sellwatch/assign"
	"github.com/rustyeddy/sellwatch/backfill"
	"github.com/rustyeddy/sellwatch/broker/ibgw"
	"github.com/rustyeddy/sellwatch/cache"
	"github.com/rustyeddy/sellwatch/config"
	"github.com/rustyeddy/sellwatch/indicators"
	"github.com/rustyeddy/sellwatch/intent"
	"github.com/rustyeddy/sellwatch/journal"
	"github.com/rustyeddy/sellwatch/market"
	"github.com/rustyeddy/sellwatch/metrics"
	"github.com/rustyeddy/sellwatch/orders"
	"github.com/rustyeddy/sellwatch/scheduler"
	"github.com/rustyeddy/sellwatch/snapshot"
	"github.com/rustyeddy/sellwatch/watch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the watch loop",
	Long: `Run the full watch loop: backfill history for every assigned
instrument, then tick on the minute and hour cadences until
interrupted.

Example:
  sellwatch run -f sellwatch.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// app is everything the run loop needs, wired once.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	client   *ibgw.Client
	store    *cache.Store
	assigns  *assign.Store
	engine   *indicators.Engine
	recorder *metrics.Recorder
	backfill *backfill.Controller
	journal  journal.Journal
	intents  *intent.Store
	executor *orders.Executor
	builder  *snapshot.Builder
	watcher  *watch.Watcher
}

func buildApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	var opts []ibgw.Option
	if cfg.Gateway.Token != "" {
		opts = append(opts, ibgw.WithToken(cfg.Gateway.Token))
	}
	client := ibgw.NewClient(cfg.Gateway.BaseURL, opts...)

	store, err := cache.NewStore(cfg.Paths.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open bar cache: %w", err)
	}
	assigns := assign.NewStore(cfg.Paths.AssignmentsFile)
	engine := indicators.NewEngine()
	recorder := metrics.New()

	limiter := backfill.NewSlidingWindow(cfg.Backfill.RateMax, cfg.Backfill.RateWindow.Std())
	controller := backfill.NewController(client, store, limiter, recorder, log)
	controller.SetConcurrency(cfg.Backfill.Concurrency)

	j, err := journal.Open(cfg.Journal.Type, cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	intents, err := intent.Open(cfg.Paths.IntentsLog)
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("open intent store: %w", err)
	}

	executor := orders.NewExecutor(client, client, intents, log)
	if cfg.Orders.Live {
		log.Warn().Msg("LIVE MODE: orders will be transmitted")
		executor.GoLive(cfg.Orders.FillTimeout.Std())
	}

	builder := snapshot.NewBuilder(client, client, assigns, store, engine,
		cfg.Location(), cfg.Paths.StatusLog, log)
	builder.SetMetrics(recorder)
	watcher := watch.New(client, assigns, builder, engine, j, executor, recorder, log)

	return &app{
		cfg:      cfg,
		log:      log,
		client:   client,
		store:    store,
		assigns:  assigns,
		engine:   engine,
		recorder: recorder,
		backfill: controller,
		journal:  j,
		intents:  intents,
		executor: executor,
		builder:  builder,
		watcher:  watcher,
	}, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		a.log.Error().Err(err).Msg("journal close failed")
	}
	if err := a.intents.Close(); err != nil {
		a.log.Error().Err(err).Msg("intent store close failed")
	}
}

// backfillRequests derives the depth every assigned instrument needs.
func (a *app) backfillRequests() ([]backfill.Request, error) {
	rows, bad, err := a.assigns.Load()
	if err != nil {
		return nil, err
	}
	for _, b := range bad {
		a.log.Warn().Int("line", b.Line).Err(b.Err).Msg("skipping malformed assignment row")
	}

	var reqs []backfill.Request
	for _, row := range rows {
		if row.Placeholder() {
			continue
		}
		switch row.Timeframe {
		case assign.TimeframeHour:
			reqs = append(reqs, backfill.Request{
				Instrument:  row.Ticker,
				Granularity: market.G30m,
				TargetBars:  a.cfg.Backfill.HourlyTargetBars,
			})
		case assign.TimeframeDay:
			reqs = append(reqs, backfill.Request{
				Instrument:  row.Ticker,
				Granularity: market.G1d,
				TargetBars:  a.cfg.Backfill.DailyTargetBars,
			})
		}
	}
	return reqs, nil
}

func runRun(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	// Reconcile before the first backfill so fresh holdings at least
	// get placeholder rows and a nag in the log.
	positions, err := a.client.Positions(ctx)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}
	unassigned, _, err := a.assigns.Reconcile(positions)
	if err != nil {
		return fmt.Errorf("reconcile assignments: %w", err)
	}
	if len(unassigned) > 0 {
		log.Warn().Strs("tickers", unassigned).Msg("positions with no moving average assigned")
	}

	reqs, err := a.backfillRequests()
	if err != nil {
		return err
	}
	log.Info().Int("instruments", len(reqs)).Msg("backfilling history")
	if err := a.backfill.EnsureAll(ctx, reqs); err != nil {
		// Degraded coverage is survivable; the evaluation journals
		// skips for anything still cold.
		log.Error().Err(err).Msg("backfill incomplete")
	}

	sched := scheduler.New(cfg.Location(), log, a.recorder)
	if err := sched.EveryMinute(a.watcher.Minute); err != nil {
		return err
	}
	if err := sched.EveryHour(func(ctx context.Context) {
		a.watcher.EvaluateHour(ctx, false)
	}); err != nil {
		return err
	}
	if err := sched.AtEndOfDay(cfg.Schedule.EndOfDay, func(ctx context.Context) {
		a.watcher.EvaluateHour(ctx, true)
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	log.Info().
		Str("timezone", cfg.Schedule.Timezone).
		Str("end_of_day", cfg.Schedule.EndOfDay).
		Bool("live", cfg.Orders.Live).
		Msg("sellwatch running")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}
