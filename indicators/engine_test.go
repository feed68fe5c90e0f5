package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sellwatch/market"
)

func series(closes ...float64) market.Series {
	base := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	out := make(market.Series, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{Time: base.Add(time.Duration(i) * time.Hour), Close: c}
	}
	return out
}

func TestEngineIncrementalAppend(t *testing.T) {
	e := NewEngine()
	s := series(1, 2, 3, 4, 5)

	v, ok, err := e.Value("NASDAQ:AAPL", "1H", SMA, 5, s)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-12)

	// One appended bar updates only the new index.
	s = append(s, market.Bar{Time: s[4].Time.Add(time.Hour), Close: 6})
	v, ok, err = e.Value("NASDAQ:AAPL", "1H", SMA, 5, s)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-12)
}

func TestEngineMatchesBatchAfterRewrite(t *testing.T) {
	e := NewEngine()
	s := series(1, 2, 3, 4, 5, 6)

	v1, ok, err := e.Value("NASDAQ:AAPL", "1H", EMA, 5, s)
	require.NoError(t, err)
	require.True(t, ok)

	// Rewrite an historical close (merge refined a bar): engine must
	// replay, not keep stale streaming state.
	s[2].Close = 30
	v2, ok, err := e.Value("NASDAQ:AAPL", "1H", EMA, 5, s)
	require.NoError(t, err)
	require.True(t, ok)

	want, wok, err := Last(s.Closes(), EMA, 5)
	require.NoError(t, err)
	require.True(t, wok)
	assert.InDelta(t, want, v2, 1e-12)
	assert.NotEqual(t, v1, v2)
}

func TestEngineAbsentBeforeWarmup(t *testing.T) {
	e := NewEngine()
	_, ok, err := e.Value("NASDAQ:AAPL", "1D", SMA, 200, series(1, 2, 3))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineRejectsBadLength(t *testing.T) {
	e := NewEngine()
	_, _, err := e.Value("NASDAQ:AAPL", "1H", SMA, 42, series(1, 2, 3))
	assert.Error(t, err)
}

func TestEngineIsolatesKeys(t *testing.T) {
	e := NewEngine()
	s := series(1, 2, 3, 4, 5)

	v, ok, err := e.Value("NASDAQ:AAPL", "1H", SMA, 5, s)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-12)

	v, ok, err = e.Value("NYSE:GE", "1H", SMA, 5, series(10, 20, 30, 40, 50))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 30.0, v, 1e-12)
}

func TestEngineReset(t *testing.T) {
	e := NewEngine()
	s := series(1, 2, 3, 4, 5)
	_, _, err := e.Value("NASDAQ:AAPL", "1H", SMA, 5, s)
	require.NoError(t, err)

	e.Reset("NASDAQ:AAPL")

	// Shorter series after reset must not be treated as an append.
	v, ok, err := e.Value("NASDAQ:AAPL", "1H", SMA, 5, series(5, 4, 3, 2, 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-12)
}
