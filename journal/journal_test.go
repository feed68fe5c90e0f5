package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sellwatch/signal"
)

func record(instrument string, at time.Time, d signal.Decision) signal.Signal {
	s := signal.New(instrument, at)
	s.Timeframe = "1H"
	s.MAType = "SMA"
	s.MALength = 50
	s.Close = 150.25
	s.MAValue = 151.10
	s.AvgCost = 140
	s.DistancePct = -0.56
	s.Decision = d
	s.Reason = "test"
	return s
}

func backends(t *testing.T) map[string]Journal {
	t.Helper()
	dir := t.TempDir()
	jl, err := NewJSONL(filepath.Join(dir, "signals.jsonl"))
	require.NoError(t, err)
	sq, err := NewSQLite(filepath.Join(dir, "signals.db"))
	require.NoError(t, err)
	return map[string]Journal{"jsonl": jl, "sqlite": sq}
}

func TestAppendAndRecent(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	for name, j := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer j.Close()
			for i := 0; i < 5; i++ {
				s := record("IBM", base.Add(time.Duration(i)*time.Minute), signal.NoSignal)
				require.NoError(t, j.Append(s))
			}

			got, err := j.Recent(3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, base.Add(2*time.Minute).Unix(), got[0].Time.Unix())
			assert.Equal(t, base.Add(4*time.Minute).Unix(), got[2].Time.Unix())
			assert.Equal(t, signal.NoSignal, got[0].Decision)
			assert.Equal(t, "IBM", got[0].Instrument)
		})
	}
}

func TestRecentMoreThanStored(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	for name, j := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer j.Close()
			require.NoError(t, j.Append(record("AAPL", base, signal.Sell)))

			got, err := j.Recent(100)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, signal.Sell, got[0].Decision)
		})
	}
}

func TestRecentOnEmptyJournal(t *testing.T) {
	for name, j := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer j.Close()
			got, err := j.Recent(10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSQLiteRoundTripsFullRecord(t *testing.T) {
	j, err := NewSQLite(filepath.Join(t.TempDir(), "signals.db"))
	require.NoError(t, err)
	defer j.Close()

	s := record("IBM", time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), signal.Sell)
	s.ActionPrepared = true
	s.OrderID = "ord-1"
	require.NoError(t, j.Append(s))

	got, err := j.GetSignal(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Instrument, got.Instrument)
	assert.Equal(t, s.Decision, got.Decision)
	assert.True(t, got.ActionPrepared)
	assert.False(t, got.ActionExecuted)
	assert.Equal(t, "ord-1", got.OrderID)
	assert.InDelta(t, s.MAValue, got.MAValue, 1e-9)

	_, err = j.GetSignal("nope")
	assert.Error(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	j, err := Open("jsonl", filepath.Join(dir, "a.jsonl"))
	require.NoError(t, err)
	j.Close()

	j, err = Open("sqlite", filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	j.Close()

	_, err = Open("postgres", "x")
	assert.Error(t, err)
}
