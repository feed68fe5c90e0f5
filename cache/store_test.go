package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sellwatch/market"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func bar(ts time.Time, close float64) market.Bar {
	return market.Bar{Time: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestMergeAndRead(t *testing.T) {
	s := newStore(t)
	base := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	key := "NASDAQ:AAPL:1h"

	merged, err := s.Merge(key, market.Series{bar(base.Add(time.Hour), 2), bar(base, 1)})
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.True(t, merged[0].Time.Before(merged[1].Time), "merge sorts ascending")

	got, err := s.Read(key, 0)
	require.NoError(t, err)
	assert.Equal(t, merged, got)
}

func TestMergeIdempotent(t *testing.T) {
	s := newStore(t)
	base := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	key := "NASDAQ:AAPL:30m"
	batch := market.Series{bar(base, 1), bar(base.Add(30*time.Minute), 2)}

	once, err := s.Merge(key, batch)
	require.NoError(t, err)
	twice, err := s.Merge(key, batch)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestMergeFreshestWins(t *testing.T) {
	s := newStore(t)
	base := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	key := "NYSE:GE:1d"

	_, err := s.Merge(key, market.Series{bar(base, 100)})
	require.NoError(t, err)

	refined := bar(base, 101)
	refined.Volume = 999
	merged, err := s.Merge(key, market.Series{refined})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, 101.0, merged[0].Close)
	assert.Equal(t, 999.0, merged[0].Volume)
}

func TestReadLimitAndRange(t *testing.T) {
	s := newStore(t)
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	key := "NASDAQ:TSLA:1h"

	var batch market.Series
	for i := 0; i < 10; i++ {
		batch = append(batch, bar(base.Add(time.Duration(i)*time.Hour), float64(i)))
	}
	_, err := s.Merge(key, batch)
	require.NoError(t, err)

	tail, err := s.Read(key, 3)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, 7.0, tail[0].Close)

	window, err := s.ReadRange(key, base.Add(2*time.Hour), base.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 3)
	assert.Equal(t, 2.0, window[0].Close)
	assert.Equal(t, 4.0, window[2].Close)

	n, err := s.Count(key)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestMissingKeyIsEmpty(t *testing.T) {
	s := newStore(t)
	got, err := s.Read("NASDAQ:NFLX:1d", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := s.Count("NASDAQ:NFLX:1d")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCorruptFileFailsThatKeyOnly(t *testing.T) {
	s := newStore(t)
	base := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	_, err := s.Merge("NASDAQ:AAPL:1h", market.Series{bar(base, 1)})
	require.NoError(t, err)

	// Scribble over a second key's file.
	badKey := "NYSE:GE:1h"
	_, err = s.Merge(badKey, market.Series{bar(base, 2)})
	require.NoError(t, err)
	path := filepath.Join(s.Dir(), strings.ReplaceAll(badKey, ":", "__")+".ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o644))

	_, err = s.Read(badKey, 0)
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, badKey, corrupt.Key)

	// The healthy key still reads.
	got, err := s.Read("NASDAQ:AAPL:1h", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	s := newStore(t)
	base := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	_, err := s.Merge("NASDAQ:AAPL:30m", market.Series{bar(base, 1)})
	require.NoError(t, err)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestConcurrentMergesDistinctKeys(t *testing.T) {
	s := newStore(t)
	base := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	keys := []string{"A:1:1h", "B:2:1h", "C:3:1h", "D:4:1h"}
	for _, key := range keys {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(key string, i int) {
				defer wg.Done()
				_, err := s.Merge(key, market.Series{bar(base.Add(time.Duration(i)*time.Hour), float64(i))})
				assert.NoError(t, err)
			}(key, i)
		}
	}
	wg.Wait()

	for _, key := range keys {
		got, err := s.Read(key, 0)
		require.NoError(t, err)
		assert.Len(t, got, 5, key)
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i-1].Time.Before(got[i].Time))
		}
	}
}
