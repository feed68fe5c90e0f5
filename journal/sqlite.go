package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/sellwatch/signal"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Append(s signal.Signal) error {
	_, err := j.db.Exec(`
		INSERT INTO signals
		(id, ts, instrument, timeframe, ma_type, ma_length, close, ma_value, avg_cost,
		 distance_pct, decision, reason, action_prepared, action_executed, order_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Time.UTC(), s.Instrument, s.Timeframe, s.MAType, s.MALength,
		s.Close, s.MAValue, s.AvgCost, s.DistancePct,
		string(s.Decision), s.Reason, s.ActionPrepared, s.ActionExecuted, s.OrderID, s.Error,
	)
	return err
}

// Recent returns the last n records, oldest first.
func (j *SQLite) Recent(n int) ([]signal.Signal, error) {
	rows, err := j.db.Query(`
		SELECT id, ts, instrument, timeframe, ma_type, ma_length, close, ma_value, avg_cost,
		       distance_pct, decision, reason, action_prepared, action_executed, order_id, error
		FROM signals
		ORDER BY ts DESC, id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signal.Signal
	for rows.Next() {
		var s signal.Signal
		var ts time.Time
		var decision string
		if err := rows.Scan(
			&s.ID, &ts, &s.Instrument, &s.Timeframe, &s.MAType, &s.MALength,
			&s.Close, &s.MAValue, &s.AvgCost, &s.DistancePct,
			&decision, &s.Reason, &s.ActionPrepared, &s.ActionExecuted, &s.OrderID, &s.Error,
		); err != nil {
			return nil, err
		}
		s.Time = ts
		s.Decision = signal.Decision(decision)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Flip newest-first query order back to oldest first.
	for a, b := 0, len(out)-1; a < b; a, b = a+1, b-1 {
		out[a], out[b] = out[b], out[a]
	}
	return out, nil
}

// GetSignal returns a single record by ID.
func (j *SQLite) GetSignal(id string) (signal.Signal, error) {
	row := j.db.QueryRow(`
		SELECT id, ts, instrument, timeframe, ma_type, ma_length, close, ma_value, avg_cost,
		       distance_pct, decision, reason, action_prepared, action_executed, order_id, error
		FROM signals
		WHERE id = ?`, id)

	var s signal.Signal
	var decision string
	err := row.Scan(
		&s.ID, &s.Time, &s.Instrument, &s.Timeframe, &s.MAType, &s.MALength,
		&s.Close, &s.MAValue, &s.AvgCost, &s.DistancePct,
		&decision, &s.Reason, &s.ActionPrepared, &s.ActionExecuted, &s.OrderID, &s.Error,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return signal.Signal{}, fmt.Errorf("signal %q not found", id)
		}
		return signal.Signal{}, err
	}
	s.Decision = signal.Decision(decision)
	return s, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
