// Package snapshot builds the minute-by-minute status view of every
// held instrument: where price sits against its watched moving
// average, and whether the position is above break-even.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/sellwatch/assign"
	"github.com/rustyeddy/sellwatch/broker"
	"github.com/rustyeddy/sellwatch/cache"
	"github.com/rustyeddy/sellwatch/indicators"
	"github.com/rustyeddy/sellwatch/market"
	"github.com/rustyeddy/sellwatch/metrics"
	"github.com/rustyeddy/sellwatch/signal"
)

// Row is one instrument's line in the status view.
type Row struct {
	Time           time.Time `json:"ts"`
	Ticker         string    `json:"ticker"`
	Assignment     string    `json:"assignment"`
	Quantity       float64   `json:"quantity"`
	AvgCost        float64   `json:"avg_cost"`
	MAValue        float64   `json:"ma_value,omitempty"`
	MAReady        bool      `json:"ma_ready"`
	LastClose      float64   `json:"last_close,omitempty"`
	LastBarDate    time.Time `json:"last_bar_date,omitempty"`
	DistancePct    float64   `json:"distance_pct,omitempty"`
	AboveBreakeven bool      `json:"above_breakeven"`
	Error          string    `json:"error,omitempty"`
}

// Builder assembles rows by refreshing each instrument's recent bars
// through the cache and the indicator engine.
type Builder struct {
	positions   broker.PositionSource
	source      broker.HistoricalDataSource
	assignments *assign.Store
	store       *cache.Store
	engine      *indicators.Engine
	metrics     *metrics.Recorder
	log         zerolog.Logger
	loc         *time.Location

	logMu   sync.Mutex
	logPath string

	recentHalfHours int
	historyBars     int
	now             func() time.Time
}

// NewBuilder wires a builder. loc is the exchange timezone used for
// hour aggregation; logPath may be empty to disable the status log.
func NewBuilder(
	positions broker.PositionSource,
	source broker.HistoricalDataSource,
	assignments *assign.Store,
	store *cache.Store,
	engine *indicators.Engine,
	loc *time.Location,
	logPath string,
	log zerolog.Logger,
) *Builder {
	return &Builder{
		positions:       positions,
		source:          source,
		assignments:     assignments,
		store:           store,
		engine:          engine,
		loc:             loc,
		logPath:         logPath,
		log:             log,
		recentHalfHours: 31,
		historyBars:     365,
		now:             time.Now,
	}
}

// SetMetrics attaches a recorder. Optional; nil-safe without it.
func (b *Builder) SetMetrics(rec *metrics.Recorder) { b.metrics = rec }

// Build produces one row per held instrument and appends the batch to
// the status log. One instrument failing does not stop the others; its
// row carries the error.
func (b *Builder) Build(ctx context.Context) ([]Row, error) {
	positions, err := b.positions.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: positions: %w", err)
	}

	unassigned, stale, err := b.assignments.Reconcile(positions)
	if err != nil {
		return nil, fmt.Errorf("snapshot: reconcile assignments: %w", err)
	}
	if len(unassigned) > 0 {
		b.log.Warn().Strs("tickers", unassigned).Msg("held positions with no moving average assigned")
	}
	if len(stale) > 0 {
		b.log.Info().Strs("tickers", stale).Msg("assignment rows for positions no longer held")
	}

	rows, _, err := b.assignments.Load()
	if err != nil {
		return nil, fmt.Errorf("snapshot: load assignments: %w", err)
	}
	byTicker := make(map[string]assign.Assignment, len(rows))
	for _, a := range rows {
		byTicker[a.Ticker] = a
	}

	out := make([]Row, 0, len(positions))
	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		row := b.buildRow(ctx, pos, byTicker[pos.Instrument])
		out = append(out, row)
	}

	if err := b.appendLog(out); err != nil {
		b.log.Error().Err(err).Msg("status log append failed")
	}
	return out, nil
}

func (b *Builder) buildRow(ctx context.Context, pos broker.Position, a assign.Assignment) Row {
	row := Row{
		Time:       b.now().UTC(),
		Ticker:     pos.Instrument,
		Assignment: a.String(),
		Quantity:   pos.Quantity,
		AvgCost:    pos.AvgCost,
	}
	if a.Placeholder() {
		return row
	}

	series, err := b.Refresh(ctx, pos.Instrument, a.Timeframe)
	if err != nil {
		var corrupt *cache.CorruptError
		if errors.As(err, &corrupt) {
			b.metrics.CacheError()
		}
		row.Error = err.Error()
		b.log.Warn().Err(err).Str("ticker", pos.Instrument).Msg("snapshot refresh failed")
		return row
	}
	last, ok := series.Last()
	if !ok {
		row.Error = "no bars cached"
		return row
	}
	row.LastClose = last.Close
	row.LastBarDate = last.Time
	row.AboveBreakeven = last.Close > pos.AvgCost

	value, ready, err := b.engine.Value(pos.Instrument, a.Timeframe, a.Type, a.Length, series)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.MAReady = ready
	if ready {
		row.MAValue = value
		row.DistancePct = signal.DistancePct(last.Close, value)
	}
	return row
}

// Refresh brings one instrument's watched series up to date and
// returns its recent history, oldest first.
//
// Hour-watched instruments fetch a short half-hour slice, merge it
// into the half-hour cache, rebuild the hour series from the full
// half-hour cache, and merge that. Day-watched instruments fetch the
// last two daily bars so the forming bar is always current.
func (b *Builder) Refresh(ctx context.Context, ticker, timeframe string) (market.Series, error) {
	switch timeframe {
	case assign.TimeframeHour:
		return b.refreshHour(ctx, ticker)
	case assign.TimeframeDay:
		return b.refreshDay(ctx, ticker)
	}
	return nil, fmt.Errorf("snapshot: unknown timeframe %q", timeframe)
}

func (b *Builder) refreshHour(ctx context.Context, ticker string) (market.Series, error) {
	slice, err := b.source.HistoricalBars(ctx, ticker, market.G30m, b.now(), b.recentHalfHours)
	if err != nil {
		return nil, fmt.Errorf("fetch recent half-hours for %s: %w", ticker, err)
	}
	halfKey := market.Key(ticker, market.G30m)
	halves, err := b.store.Merge(halfKey, slice)
	if err != nil {
		return nil, fmt.Errorf("merge half-hours for %s: %w", ticker, err)
	}

	hours := market.AggregateToHour(halves, b.loc)
	hourKey := market.Key(ticker, market.G1h)
	if _, err := b.store.Merge(hourKey, hours); err != nil {
		return nil, fmt.Errorf("merge hours for %s: %w", ticker, err)
	}
	return b.store.Read(hourKey, b.historyBars)
}

func (b *Builder) refreshDay(ctx context.Context, ticker string) (market.Series, error) {
	slice, err := b.source.HistoricalBars(ctx, ticker, market.G1d, b.now(), 2)
	if err != nil {
		return nil, fmt.Errorf("fetch recent days for %s: %w", ticker, err)
	}
	dayKey := market.Key(ticker, market.G1d)
	if _, err := b.store.Merge(dayKey, slice); err != nil {
		return nil, fmt.Errorf("merge days for %s: %w", ticker, err)
	}
	return b.store.Read(dayKey, b.historyBars)
}

// appendLog writes the batch to the JSONL status log, one row per
// line.
func (b *Builder) appendLog(rows []Row) error {
	if b.logPath == "" || len(rows) == 0 {
		return nil
	}
	b.logMu.Lock()
	defer b.logMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.logPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(b.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
