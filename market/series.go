package market

import (
	"sort"
	"time"
)

// Series is an ordered run of bars for one (instrument, granularity):
// strictly increasing timestamps, no duplicates.
type Series []Bar

// Sort orders the series by timestamp ascending, in place.
func (s Series) Sort() {
	sort.Slice(s, func(i, j int) bool {
		return s[i].Time.Before(s[j].Time)
	})
}

// Closes returns the close prices in series order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Last returns the most recent bar, if any.
func (s Series) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// LastAt returns the most recent bar whose time is not after t. This is
// used to pick the closed bar preceding a snapshot instant.
func (s Series) LastAt(t time.Time) (Bar, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !s[i].Time.After(t) {
			return s[i], true
		}
	}
	return Bar{}, false
}

// Tail returns the last n bars (or the whole series when shorter).
func (s Series) Tail(n int) Series {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
