// Package cache is the keyed on-disk time-series store. Each cache key
// (instrument:granularity) maps to one newline-delimited JSON file of
// bars sorted by timestamp. The store owns all series persistence.
package cache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/sellwatch/market"
)

// CorruptError marks a cache file whose contents can no longer be
// decoded. It fails the affected key only; other keys are unaffected.
type CorruptError struct {
	Key  string
	Line int
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("cache: corrupt entry for %s at line %d: %v", e.Key, e.Line, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store persists bar series under a directory, one NDJSON file per key.
//
// Access to a key is mutually exclusive for the whole process: Merge
// holds the key's lock across its read-merge-write cycle. Distinct keys
// never block each other.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the cache directory if needed and returns a store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the cache root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// path converts a cache key like "NASDAQ:AAPL:30m" into a
// filesystem-safe file name.
func (s *Store) path(key string) string {
	safe := strings.ReplaceAll(key, ":", "__")
	safe = strings.ReplaceAll(safe, "/", "_")
	return filepath.Join(s.dir, safe+".ndjson")
}

// Merge unions incoming bars into the stored series for key. On a
// timestamp collision the incoming bar overwrites the stored one
// (freshest fetch wins). The result is written sorted ascending via a
// temp file and rename, so a crash mid-write leaves either the old or
// the new complete file. Merging the same batch twice is a no-op.
func (s *Store) Merge(key string, incoming market.Series) (market.Series, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.load(key, 0)
	if err != nil {
		return nil, err
	}

	byTime := make(map[int64]market.Bar, len(existing)+len(incoming))
	for _, b := range existing {
		byTime[b.Time.UnixNano()] = b
	}
	for _, b := range incoming {
		if b.Time.IsZero() {
			continue
		}
		byTime[b.Time.UnixNano()] = b
	}

	keys := make([]int64, 0, len(byTime))
	for k := range byTime {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	merged := make(market.Series, 0, len(keys))
	for _, k := range keys {
		merged = append(merged, byTime[k])
	}

	if err := s.writeAtomic(key, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Read returns up to the last limit bars for key, oldest first. A limit
// of zero or less returns the whole series. A missing file is an empty
// series, not an error.
func (s *Store) Read(key string, limit int) (market.Series, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return s.load(key, limit)
}

// ReadRange returns bars with from <= time < to, oldest first.
func (s *Store) ReadRange(key string, from, to time.Time) (market.Series, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	all, err := s.load(key, 0)
	if err != nil {
		return nil, err
	}
	out := make(market.Series, 0, len(all))
	for _, b := range all {
		if b.Time.Before(from) || !b.Time.Before(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Count returns the number of bars stored for key without keeping the
// series around.
func (s *Store) Count(key string) (int, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: open %s: %w", key, err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("cache: scan %s: %w", key, err)
	}
	return n, nil
}

// load streams the file line by line; memory is bounded by the series
// size, not the scanner buffer.
func (s *Store) load(key string, limit int) (market.Series, error) {
	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", key, err)
	}
	defer f.Close()

	var out market.Series
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var b market.Bar
		if err := json.Unmarshal([]byte(text), &b); err != nil {
			return nil, &CorruptError{Key: key, Line: line, Err: err}
		}
		out = append(out, b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cache: scan %s: %w", key, err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// writeAtomic writes the full series to a temp file in the same
// directory, fsyncs, then renames over the target.
func (s *Store) writeAtomic(key string, bars market.Series) error {
	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, b := range bars {
		if err := enc.Encode(b); err != nil {
			tmp.Close()
			return fmt.Errorf("cache: encode bar for %s: %w", key, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: flush %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("cache: rename %s: %w", key, err)
	}
	return nil
}
