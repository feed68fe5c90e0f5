// Package signal decides whether a held instrument should be exited.
package signal

import (
	"fmt"
	"time"

	"github.com/rustyeddy/sellwatch/pkg/id"
)

// Decision is the outcome of one evaluation.
type Decision string

const (
	// Sell means every exit gate passed.
	Sell Decision = "sell_signal"
	// NoSignal means the gates were evaluated and at least one failed.
	NoSignal Decision = "no_signal"
	// Skip means the evaluation could not run (no assignment, indicator
	// not warmed up, stale data). Distinct from a negative result.
	Skip Decision = "skip"
)

// Signal is one audit record. Everything the evaluation saw goes in,
// so a decision can be reconstructed later without the market data.
type Signal struct {
	ID             string    `json:"id"`
	Time           time.Time `json:"ts"`
	Instrument     string    `json:"instrument"`
	Timeframe      string    `json:"timeframe,omitempty"`
	MAType         string    `json:"ma_type,omitempty"`
	MALength       int       `json:"ma_length,omitempty"`
	Close          float64   `json:"close,omitempty"`
	MAValue        float64   `json:"ma_value,omitempty"`
	AvgCost        float64   `json:"avg_cost,omitempty"`
	DistancePct    float64   `json:"distance_pct,omitempty"`
	Decision       Decision  `json:"decision"`
	Reason         string    `json:"reason,omitempty"`
	ActionPrepared bool      `json:"action_prepared,omitempty"`
	ActionExecuted bool      `json:"action_executed,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// New stamps a fresh record with a ULID and time.
func New(instrument string, at time.Time) Signal {
	return Signal{ID: id.New(), Time: at, Instrument: instrument}
}

// Evaluate runs the three exit gates. All comparisons are strict:
// touching the moving average, sitting exactly at cost, or the average
// sitting exactly at cost all hold the position.
//
//	close < maValue   price has dropped below the watched average
//	close > avgCost   still exiting at a profit
//	maValue > avgCost the average itself is above break-even
func Evaluate(close, maValue, avgCost float64) (Decision, string) {
	switch {
	case close >= maValue:
		return NoSignal, fmt.Sprintf("close %.4f at or above ma %.4f", close, maValue)
	case close <= avgCost:
		return NoSignal, fmt.Sprintf("close %.4f at or below cost %.4f", close, avgCost)
	case maValue <= avgCost:
		return NoSignal, fmt.Sprintf("ma %.4f at or below cost %.4f", maValue, avgCost)
	default:
		return Sell, "close below ma, both above cost"
	}
}

// DistancePct is how far close sits from the moving average, as a
// percentage of the average. Negative when close is below.
func DistancePct(close, maValue float64) float64 {
	if maValue == 0 {
		return 0
	}
	return (close - maValue) / maValue * 100
}
