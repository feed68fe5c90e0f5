// Package indicators provides the moving-average math used to gate exit
// signals: batch SMA/EMA over a close series and streaming variants that
// update in O(1) per appended bar.
package indicators

import (
	"fmt"
	"strings"
)

// Type selects the moving-average family.
type Type string

const (
	SMA Type = "SMA"
	EMA Type = "EMA"
)

// SupportedLengths is the closed set of moving-average lengths an
// instrument may be assigned. Other lengths are configuration errors,
// never silently computed.
var SupportedLengths = []int{5, 10, 20, 50, 100, 150, 200}

// ParseType normalizes a moving-average type string.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SMA":
		return SMA, nil
	case "EMA":
		return EMA, nil
	}
	return "", fmt.Errorf("unknown moving average type %q", s)
}

// ValidLength reports whether n is one of the supported lengths.
func ValidLength(n int) bool {
	for _, l := range SupportedLengths {
		if n == l {
			return true
		}
	}
	return false
}

// CheckLength returns an error for lengths outside the supported set.
func CheckLength(n int) error {
	if !ValidLength(n) {
		return fmt.Errorf("unsupported moving average length %d (supported: %v)", n, SupportedLengths)
	}
	return nil
}

// Indicator computes a single streaming value from close prices.
// Deterministic: the same sequence of updates always yields the same
// value.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Reset clears all internal state.
	Reset()

	// Update consumes the next closed bar's close price.
	Update(close float64)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current indicator value; callers must check
	// Ready() first.
	Value() float64
}

// New builds a streaming indicator for the given type and length.
func New(typ Type, length int) (Indicator, error) {
	if err := CheckLength(length); err != nil {
		return nil, err
	}
	switch typ {
	case SMA:
		return NewMA(length), nil
	case EMA:
		return NewEMA(length), nil
	}
	return nil, fmt.Errorf("unknown moving average type %q", typ)
}

// ValueAt computes the indicator value at index i of a close series.
// The second return is false when fewer than length closes exist up to
// and including i (the value is absent, not zero).
func ValueAt(closes []float64, typ Type, length, i int) (float64, bool, error) {
	if err := CheckLength(length); err != nil {
		return 0, false, err
	}
	if i < 0 || i >= len(closes) {
		return 0, false, fmt.Errorf("index %d out of range for %d closes", i, len(closes))
	}
	ind, err := New(typ, length)
	if err != nil {
		return 0, false, err
	}
	for j := 0; j <= i; j++ {
		ind.Update(closes[j])
	}
	if !ind.Ready() {
		return 0, false, nil
	}
	return ind.Value(), true, nil
}

// Last computes the indicator value at the final index of closes.
func Last(closes []float64, typ Type, length int) (float64, bool, error) {
	if len(closes) == 0 {
		if err := CheckLength(length); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
	return ValueAt(closes, typ, length, len(closes)-1)
}
