package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rustyeddy/sellwatch/signal"
)

// JSONL appends one JSON object per line to a flat file. Each record
// is flushed and synced before Append returns so a crash loses at most
// the record being written.
type JSONL struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

func NewJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &JSONL{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (j *JSONL) Append(s signal.Signal) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := json.NewEncoder(j.w).Encode(s); err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	return nil
}

// Recent returns the last n records, oldest first. Reads the whole
// file; the log is small enough that this is fine.
func (j *JSONL) Recent(n int) ([]signal.Signal, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: open %s: %w", j.path, err)
	}
	defer f.Close()

	var out []signal.Signal
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var s signal.Signal
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("journal: corrupt record: %w", err)
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan %s: %w", j.path, err)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Flush(); err != nil {
		j.f.Close()
		return err
	}
	return j.f.Close()
}
