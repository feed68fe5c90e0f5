// Package watch runs the two passes over the account's holdings: the
// minute status pass and the hour/end-of-day exit evaluation.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/sellwatch/assign"
	"github.com/rustyeddy/sellwatch/broker"
	"github.com/rustyeddy/sellwatch/indicators"
	"github.com/rustyeddy/sellwatch/journal"
	"github.com/rustyeddy/sellwatch/metrics"
	"github.com/rustyeddy/sellwatch/orders"
	"github.com/rustyeddy/sellwatch/signal"
	"github.com/rustyeddy/sellwatch/snapshot"
)

// Watcher owns the scheduled passes.
type Watcher struct {
	positions   broker.PositionSource
	assignments *assign.Store
	builder     *snapshot.Builder
	engine      *indicators.Engine
	journal     journal.Journal
	executor    *orders.Executor
	metrics     *metrics.Recorder
	log         zerolog.Logger
	now         func() time.Time
}

// New wires a watcher over already-constructed collaborators.
func New(
	positions broker.PositionSource,
	assignments *assign.Store,
	builder *snapshot.Builder,
	engine *indicators.Engine,
	j journal.Journal,
	executor *orders.Executor,
	rec *metrics.Recorder,
	log zerolog.Logger,
) *Watcher {
	return &Watcher{
		positions:   positions,
		assignments: assignments,
		builder:     builder,
		engine:      engine,
		journal:     j,
		executor:    executor,
		metrics:     rec,
		log:         log,
		now:         time.Now,
	}
}

// Minute runs the status pass: reconcile assignments, refresh every
// holding, and append the rows to the status log.
func (w *Watcher) Minute(ctx context.Context) {
	rows, err := w.builder.Build(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("minute pass failed")
		return
	}
	sells := 0
	for _, row := range rows {
		if row.MAReady && row.LastClose < row.MAValue && row.AboveBreakeven {
			sells++
		}
	}
	w.log.Info().Int("instruments", len(rows)).Int("below_ma", sells).Msg("minute pass complete")
}

// EvaluateHour runs the exit evaluation for hour-watched instruments.
// With endOfDay set, day-watched instruments are evaluated too; that
// is the only time they are.
func (w *Watcher) EvaluateHour(ctx context.Context, endOfDay bool) {
	positions, err := w.positions.Positions(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("evaluation pass: positions unavailable")
		return
	}
	rows, _, err := w.assignments.Load()
	if err != nil {
		w.log.Error().Err(err).Msg("evaluation pass: assignments unavailable")
		return
	}
	byTicker := make(map[string]assign.Assignment, len(rows))
	for _, a := range rows {
		byTicker[a.Ticker] = a
	}

	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			w.log.Warn().Msg("evaluation pass interrupted")
			return
		}
		a := byTicker[pos.Instrument]
		switch {
		case a.Placeholder():
			w.record(w.skip(pos, a, "no moving average assigned"))
			continue
		case a.Timeframe == assign.TimeframeDay && !endOfDay:
			// Daily watches only fire at end of day.
			continue
		}
		w.evaluate(ctx, pos, a)
	}
}

func (w *Watcher) evaluate(ctx context.Context, pos broker.Position, a assign.Assignment) {
	rec := w.start(pos, a)

	series, err := w.builder.Refresh(ctx, pos.Instrument, a.Timeframe)
	if err != nil {
		rec.Decision = signal.Skip
		rec.Reason = fmt.Sprintf("refresh failed: %v", err)
		rec.Error = err.Error()
		w.record(rec)
		return
	}
	last, ok := series.Last()
	if !ok {
		rec.Decision = signal.Skip
		rec.Reason = "no bars cached"
		w.record(rec)
		return
	}
	rec.Close = last.Close

	value, ready, err := w.engine.Value(pos.Instrument, a.Timeframe, a.Type, a.Length, series)
	if err != nil {
		rec.Decision = signal.Skip
		rec.Reason = fmt.Sprintf("indicator: %v", err)
		rec.Error = err.Error()
		w.record(rec)
		return
	}
	if !ready {
		rec.Decision = signal.Skip
		rec.Reason = fmt.Sprintf("%s not warmed up (%d bars cached)", a.String(), len(series))
		w.record(rec)
		return
	}
	rec.MAValue = value
	rec.DistancePct = signal.DistancePct(last.Close, value)

	rec.Decision, rec.Reason = signal.Evaluate(last.Close, value, pos.AvgCost)
	if rec.Decision != signal.Sell {
		w.record(rec)
		return
	}

	w.log.Info().
		Str("instrument", pos.Instrument).
		Float64("close", last.Close).
		Float64("ma", value).
		Float64("avg_cost", pos.AvgCost).
		Msg("sell signal")

	prepared, err := orders.PrepareClose(pos.Instrument, pos.Quantity, rec.ID)
	if err != nil {
		rec.Error = err.Error()
		w.record(rec)
		return
	}
	rec.ActionPrepared = true

	orderID, err := w.executor.Execute(ctx, prepared)
	if err != nil {
		rec.Error = err.Error()
		w.record(rec)
		return
	}
	rec.OrderID = orderID
	rec.ActionExecuted = w.executor.Live()
	w.record(rec)
}

func (w *Watcher) start(pos broker.Position, a assign.Assignment) signal.Signal {
	rec := signal.New(pos.Instrument, w.now().UTC())
	rec.Timeframe = a.Timeframe
	rec.MAType = string(a.Type)
	rec.MALength = a.Length
	rec.AvgCost = pos.AvgCost
	return rec
}

func (w *Watcher) skip(pos broker.Position, a assign.Assignment, reason string) signal.Signal {
	rec := w.start(pos, a)
	rec.Decision = signal.Skip
	rec.Reason = reason
	return rec
}

func (w *Watcher) record(rec signal.Signal) {
	w.metrics.Decision(string(rec.Decision))
	if err := w.journal.Append(rec); err != nil {
		w.log.Error().Err(err).Str("instrument", rec.Instrument).Msg("journal append failed")
	}
}
