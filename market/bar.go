// Package market holds the core bar and series types shared by the
// cache, aggregation and indicator layers.
package market

import (
	"errors"
	"fmt"
	"time"
)

// Granularity is the bar size for a cached series.
type Granularity string

const (
	G30m Granularity = "30m"
	G1h  Granularity = "1h"
	G1d  Granularity = "1d"
)

// Duration returns the wall-clock span covered by one bar.
func (g Granularity) Duration() time.Duration {
	switch g {
	case G30m:
		return 30 * time.Minute
	case G1h:
		return time.Hour
	case G1d:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether g is one of the supported granularities.
func (g Granularity) Valid() bool {
	return g.Duration() != 0
}

// Bar represents OHLC (Open, High, Low, Close) candlestick data for a
// single interval. Bars are immutable once written to the cache; a bar
// is identified by (instrument key, granularity, timestamp).
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks basic OHLC consistency.
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return errors.New("bar time is zero")
	}
	if b.High < b.Low {
		return fmt.Errorf("bar high %v below low %v", b.High, b.Low)
	}
	if b.Open < b.Low || b.Open > b.High {
		return fmt.Errorf("bar open %v outside [low, high]", b.Open)
	}
	if b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("bar close %v outside [low, high]", b.Close)
	}
	if b.Volume < 0 {
		return errors.New("bar volume negative")
	}
	return nil
}

// Key builds the cache key for an instrument and granularity,
// e.g. "NASDAQ:AAPL:1h". Instrument keys are EXCHANGE:TICKER.
func Key(instrument string, g Granularity) string {
	return fmt.Sprintf("%s:%s", instrument, g)
}
