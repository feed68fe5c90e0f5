// Package intent records every order the watcher decides to place,
// before anything touches a broker. The store is append-only: an
// update is a new line for the same id and the latest line wins, so
// the file doubles as a history of each intent.
package intent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status of one intent over its life.
const (
	StatusPrepared  = "prepared"
	StatusPlaced    = "placed"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
	StatusDryRun    = "dry_run"
)

// Intent is one decided order.
type Intent struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"ts"`
	Instrument string    `json:"instrument"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Status     string    `json:"status"`
	SignalID   string    `json:"signal_id,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// Store is the on-disk intent log plus an in-memory latest-state
// index. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	latest map[string]Intent
	order  []string
}

// Open loads the log at path, replaying it to rebuild the index. The
// file is created if missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("intent: mkdir: %w", err)
	}

	s := &Store{path: path, latest: make(map[string]Intent)}
	if err := s.replay(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("intent: open %s: %w", path, err)
	}
	s.f = f
	return s, nil
}

func (s *Store) replay() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("intent: open %s: %w", s.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var in Intent
		if err := json.Unmarshal(raw, &in); err != nil {
			return fmt.Errorf("intent: %s line %d: %w", s.path, line, err)
		}
		if _, seen := s.latest[in.ID]; !seen {
			s.order = append(s.order, in.ID)
		}
		s.latest[in.ID] = in
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("intent: scan %s: %w", s.path, err)
	}
	return nil
}

// Append records a new intent. Appending an id that already exists is
// an error; use Update to advance an intent's status.
func (s *Store) Append(in Intent) error {
	if in.ID == "" {
		return fmt.Errorf("intent: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.latest[in.ID]; ok {
		return fmt.Errorf("intent: duplicate id %s", in.ID)
	}
	if err := s.writeLine(in); err != nil {
		return err
	}
	s.latest[in.ID] = in
	s.order = append(s.order, in.ID)
	return nil
}

// Exists reports whether an intent with this id has ever been recorded.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.latest[id]
	return ok
}

// Get returns the latest state of one intent.
func (s *Store) Get(id string) (Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.latest[id]
	return in, ok
}

// Update appends a new line for an existing intent with mutate applied
// to its latest state.
func (s *Store) Update(id string, mutate func(*Intent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.latest[id]
	if !ok {
		return fmt.Errorf("intent: unknown id %s", id)
	}
	mutate(&in)
	in.ID = id // the id never changes
	if err := s.writeLine(in); err != nil {
		return err
	}
	s.latest[id] = in
	return nil
}

// Recent returns the latest state of up to n intents, oldest first.
func (s *Store) Recent(n int) []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.order
	if n > 0 && len(ids) > n {
		ids = ids[len(ids)-n:]
	}
	out := make([]Intent, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.latest[id])
	}
	return out
}

func (s *Store) writeLine(in Intent) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("intent: encode: %w", err)
	}
	raw = append(raw, '\n')
	if _, err := s.f.Write(raw); err != nil {
		return fmt.Errorf("intent: write: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("intent: sync: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
