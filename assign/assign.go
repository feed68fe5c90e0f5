// Package assign stores which moving average watches each held
// instrument, as a small operator-edited CSV file.
package assign

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rustyeddy/sellwatch/broker"
	"github.com/rustyeddy/sellwatch/indicators"
)

// Timeframes an assignment may watch.
const (
	TimeframeHour = "1H"
	TimeframeDay  = "1D"
)

// Assignment binds one ticker to the moving average that gates its
// exit. A row with no type is a placeholder: the position is held but
// the operator has not chosen a watch yet.
type Assignment struct {
	Ticker    string
	Type      indicators.Type
	Length    int
	Timeframe string
}

// Placeholder reports whether the row is an unassigned holding.
func (a Assignment) Placeholder() bool { return a.Type == "" }

func (a Assignment) String() string {
	if a.Placeholder() {
		return "unassigned"
	}
	return fmt.Sprintf("%s%d@%s", a.Type, a.Length, a.Timeframe)
}

// RowError reports one malformed CSV row that was skipped on load.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Line, e.Err) }

// Store reads and writes the assignments CSV. All methods are safe for
// concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store over the CSV at path. The file need not
// exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load parses the CSV. Malformed rows are skipped and returned as
// RowErrors; only an unreadable file is a hard error. A missing file
// yields an empty set.
func (s *Store) Load() ([]Assignment, []RowError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]Assignment, []RowError, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("assign: open %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("assign: parse %s: %w", s.path, err)
	}

	var out []Assignment
	var bad []RowError
	for i, rec := range records {
		line := i + 1
		if i == 0 && isHeader(rec) {
			continue
		}
		a, err := parseRow(rec)
		if err != nil {
			bad = append(bad, RowError{Line: line, Err: err})
			continue
		}
		out = append(out, a)
	}
	return out, bad, nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "ticker")
}

func parseRow(rec []string) (Assignment, error) {
	if len(rec) < 1 || strings.TrimSpace(rec[0]) == "" {
		return Assignment{}, fmt.Errorf("missing ticker")
	}
	a := Assignment{Ticker: strings.ToUpper(strings.TrimSpace(rec[0]))}

	rest := make([]string, 0, 3)
	for _, fld := range rec[1:] {
		rest = append(rest, strings.TrimSpace(fld))
	}
	for len(rest) < 3 {
		rest = append(rest, "")
	}
	if rest[0] == "" && rest[1] == "" && rest[2] == "" {
		return a, nil // placeholder
	}

	typ, err := indicators.ParseType(rest[0])
	if err != nil {
		return Assignment{}, err
	}
	length, err := strconv.Atoi(rest[1])
	if err != nil {
		return Assignment{}, fmt.Errorf("bad length %q", rest[1])
	}
	if err := indicators.CheckLength(length); err != nil {
		return Assignment{}, err
	}
	tf, err := NormalizeTimeframe(rest[2])
	if err != nil {
		return Assignment{}, err
	}
	a.Type = typ
	a.Length = length
	a.Timeframe = tf
	return a, nil
}

// NormalizeTimeframe folds the operator spellings of the two supported
// timeframes into their canonical form.
func NormalizeTimeframe(s string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1H", "H", "HOUR", "HOURLY", "60M":
		return TimeframeHour, nil
	case "1D", "D", "DAY", "DAILY":
		return TimeframeDay, nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}

// Set records or replaces the assignment for one ticker and rewrites
// the file. Malformed existing rows are dropped in the rewrite.
func (s *Store) Set(a Assignment) error {
	if a.Ticker == "" {
		return fmt.Errorf("assign: empty ticker")
	}
	if !a.Placeholder() {
		if err := indicators.CheckLength(a.Length); err != nil {
			return fmt.Errorf("assign %s: %w", a.Ticker, err)
		}
		tf, err := NormalizeTimeframe(a.Timeframe)
		if err != nil {
			return fmt.Errorf("assign %s: %w", a.Ticker, err)
		}
		a.Timeframe = tf
	}
	a.Ticker = strings.ToUpper(strings.TrimSpace(a.Ticker))

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i, cur := range existing {
		if cur.Ticker == a.Ticker {
			existing[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, a)
	}
	return s.write(existing)
}

// Reconcile compares the stored rows against live positions. Held
// tickers with no row get a placeholder appended; placeholders and
// rows for tickers no longer held are returned so the operator can be
// nagged.
func (s *Store) Reconcile(positions []broker.Position) (unassigned, stale []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _, err := s.load()
	if err != nil {
		return nil, nil, err
	}

	byTicker := make(map[string]Assignment, len(existing))
	for _, a := range existing {
		byTicker[a.Ticker] = a
	}
	held := make(map[string]bool, len(positions))

	changed := false
	for _, p := range positions {
		ticker := strings.ToUpper(strings.TrimSpace(p.Instrument))
		held[ticker] = true
		a, ok := byTicker[ticker]
		if !ok {
			placeholder := Assignment{Ticker: ticker}
			existing = append(existing, placeholder)
			byTicker[ticker] = placeholder
			unassigned = append(unassigned, ticker)
			changed = true
			continue
		}
		if a.Placeholder() {
			unassigned = append(unassigned, ticker)
		}
	}
	for _, a := range existing {
		if !held[a.Ticker] {
			stale = append(stale, a.Ticker)
		}
	}
	sort.Strings(unassigned)
	sort.Strings(stale)

	if changed {
		if err := s.write(existing); err != nil {
			return nil, nil, err
		}
	}
	return unassigned, stale, nil
}

// write rewrites the whole file through a temp file in the same
// directory so a crash never leaves a half-written CSV.
func (s *Store) write(rows []Assignment) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("assign: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "assignments-*.csv")
	if err != nil {
		return fmt.Errorf("assign: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write([]string{"ticker", "type", "length", "timeframe"}); err != nil {
		tmp.Close()
		return fmt.Errorf("assign: write header: %w", err)
	}
	for _, a := range rows {
		rec := []string{a.Ticker, "", "", ""}
		if !a.Placeholder() {
			rec[1] = string(a.Type)
			rec[2] = strconv.Itoa(a.Length)
			rec[3] = a.Timeframe
		}
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("assign: write row %s: %w", a.Ticker, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("assign: flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("assign: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("assign: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("assign: rename: %w", err)
	}
	return nil
}
