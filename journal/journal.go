// Package journal persists every signal evaluation to an append-only
// audit log.
package journal

import (
	"github.com/rustyeddy/sellwatch/signal"
)

// Journal is the audit log. Append must be durable before it returns.
type Journal interface {
	Append(signal.Signal) error
	Recent(n int) ([]signal.Signal, error)
	Close() error
}

// Open builds a journal backend by name: "jsonl" or "sqlite".
func Open(kind, path string) (Journal, error) {
	switch kind {
	case "", "jsonl":
		return NewJSONL(path)
	case "sqlite":
		return NewSQLite(path)
	}
	return nil, errUnknownBackend(kind)
}

type errUnknownBackend string

func (e errUnknownBackend) Error() string {
	return "journal: unknown backend " + string(e)
}
