package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sellwatch/assign"
	"github.com/rustyeddy/sellwatch/broker"
	"github.com/rustyeddy/sellwatch/cache"
	"github.com/rustyeddy/sellwatch/indicators"
	"github.com/rustyeddy/sellwatch/market"
)

type fakeDesk struct {
	positions []broker.Position
	history   map[string]map[market.Granularity]market.Series
	fail      map[string]error
}

func (f *fakeDesk) Positions(context.Context) ([]broker.Position, error) {
	return f.positions, nil
}

func (f *fakeDesk) OpenOrders(context.Context) ([]broker.Order, error) { return nil, nil }

func (f *fakeDesk) HistoricalBars(_ context.Context, instrument string, g market.Granularity, end time.Time, maxCount int) (market.Series, error) {
	if err := f.fail[instrument]; err != nil {
		return nil, err
	}
	all := f.history[instrument][g]
	var out market.Series
	for i := len(all) - 1; i >= 0 && len(out) < maxCount; i-- {
		if !all[i].Time.After(end) {
			out = append(market.Series{all[i]}, out...)
		}
	}
	return out, nil
}

func halfHours(n int, start time.Time, close float64) market.Series {
	s := make(market.Series, n)
	for i := range s {
		s[i] = market.Bar{
			Time: start.Add(time.Duration(i) * 30 * time.Minute),
			Open: close, High: close + 1, Low: close - 1, Close: close,
			Volume: 100,
		}
	}
	return s
}

func dailies(n int, start time.Time, close float64) market.Series {
	s := make(market.Series, n)
	for i := range s {
		s[i] = market.Bar{
			Time: start.AddDate(0, 0, i),
			Open: close, High: close + 1, Low: close - 1, Close: close,
			Volume: 1000,
		}
	}
	return s
}

func newTestBuilder(t *testing.T, desk *fakeDesk) (*Builder, *assign.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := cache.NewStore(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	assignments := assign.NewStore(filepath.Join(dir, "assignments.csv"))
	logPath := filepath.Join(dir, "status.jsonl")

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	b := NewBuilder(desk, desk, assignments, store, indicators.NewEngine(), loc, logPath, zerolog.Nop())
	b.now = func() time.Time { return time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC) }
	return b, assignments, logPath
}

func TestBuildHourWatchedInstrument(t *testing.T) {
	start := time.Date(2026, 2, 20, 14, 30, 0, 0, time.UTC)
	desk := &fakeDesk{
		positions: []broker.Position{{Instrument: "IBM", Quantity: 100, AvgCost: 90}},
		history: map[string]map[market.Granularity]market.Series{
			"IBM": {market.G30m: halfHours(40, start, 100)},
		},
	}
	b, assignments, _ := newTestBuilder(t, desk)
	require.NoError(t, assignments.Set(assign.Assignment{
		Ticker: "IBM", Type: indicators.SMA, Length: 5, Timeframe: assign.TimeframeHour,
	}))

	rows, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "IBM", row.Ticker)
	assert.Equal(t, "SMA5@1H", row.Assignment)
	assert.Empty(t, row.Error)
	assert.True(t, row.MAReady)
	assert.InDelta(t, 100.0, row.MAValue, 1e-9)
	assert.InDelta(t, 100.0, row.LastClose, 1e-9)
	assert.True(t, row.AboveBreakeven)
	assert.InDelta(t, 0.0, row.DistancePct, 1e-9)
}

func TestBuildDayWatchedInstrument(t *testing.T) {
	start := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	desk := &fakeDesk{
		positions: []broker.Position{{Instrument: "AAPL", Quantity: 50, AvgCost: 300}},
		history: map[string]map[market.Granularity]market.Series{
			"AAPL": {market.G1d: dailies(30, start, 200)},
		},
	}
	b, assignments, _ := newTestBuilder(t, desk)
	require.NoError(t, assignments.Set(assign.Assignment{
		Ticker: "AAPL", Type: indicators.EMA, Length: 20, Timeframe: assign.TimeframeDay,
	}))

	rows, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.True(t, row.MAReady)
	assert.InDelta(t, 200.0, row.MAValue, 1e-9)
	assert.False(t, row.AboveBreakeven, "close 200 below cost 300")
}

func TestBuildUnassignedGetsPlaceholderRow(t *testing.T) {
	desk := &fakeDesk{
		positions: []broker.Position{{Instrument: "GE", Quantity: 10, AvgCost: 50}},
	}
	b, _, _ := newTestBuilder(t, desk)

	rows, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "unassigned", rows[0].Assignment)
	assert.False(t, rows[0].MAReady)
	assert.Empty(t, rows[0].Error)
}

func TestBuildIsolatesPerInstrumentFailure(t *testing.T) {
	start := time.Date(2026, 2, 20, 14, 30, 0, 0, time.UTC)
	desk := &fakeDesk{
		positions: []broker.Position{
			{Instrument: "BAD", Quantity: 10, AvgCost: 50},
			{Instrument: "IBM", Quantity: 100, AvgCost: 90},
		},
		history: map[string]map[market.Granularity]market.Series{
			"IBM": {market.G30m: halfHours(40, start, 100)},
		},
		fail: map[string]error{"BAD": errors.New("no market data subscription")},
	}
	b, assignments, _ := newTestBuilder(t, desk)
	for _, ticker := range []string{"BAD", "IBM"} {
		require.NoError(t, assignments.Set(assign.Assignment{
			Ticker: ticker, Type: indicators.SMA, Length: 5, Timeframe: assign.TimeframeHour,
		}))
	}

	rows, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.NotEmpty(t, rows[0].Error)
	assert.Empty(t, rows[1].Error)
	assert.True(t, rows[1].MAReady)
}

func TestBuildNotReadyBeforeWarmup(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	desk := &fakeDesk{
		positions: []broker.Position{{Instrument: "IBM", Quantity: 100, AvgCost: 90}},
		history: map[string]map[market.Granularity]market.Series{
			"IBM": {market.G30m: halfHours(4, start, 100)},
		},
	}
	b, assignments, _ := newTestBuilder(t, desk)
	require.NoError(t, assignments.Set(assign.Assignment{
		Ticker: "IBM", Type: indicators.SMA, Length: 200, Timeframe: assign.TimeframeHour,
	}))

	rows, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].MAReady)
	assert.Zero(t, rows[0].MAValue)
	assert.NotZero(t, rows[0].LastClose)
}

func TestBuildAppendsStatusLog(t *testing.T) {
	start := time.Date(2026, 2, 20, 14, 30, 0, 0, time.UTC)
	desk := &fakeDesk{
		positions: []broker.Position{{Instrument: "IBM", Quantity: 100, AvgCost: 90}},
		history: map[string]map[market.Granularity]market.Series{
			"IBM": {market.G30m: halfHours(40, start, 100)},
		},
	}
	b, assignments, logPath := newTestBuilder(t, desk)
	require.NoError(t, assignments.Set(assign.Assignment{
		Ticker: "IBM", Type: indicators.SMA, Length: 5, Timeframe: assign.TimeframeHour,
	}))

	_, err := b.Build(context.Background())
	require.NoError(t, err)
	_, err = b.Build(context.Background())
	require.NoError(t, err)

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var row Row
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		assert.Equal(t, "IBM", row.Ticker)
		lines++
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 2, lines)
}

func TestBuildHonorsContextCancellation(t *testing.T) {
	desk := &fakeDesk{
		positions: []broker.Position{{Instrument: "IBM", Quantity: 100, AvgCost: 90}},
	}
	b, _, _ := newTestBuilder(t, desk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
