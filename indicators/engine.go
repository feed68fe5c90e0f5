package indicators

import (
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/sellwatch/market"
)

type engineKey struct {
	instrument string
	timeframe  string
	typ        Type
	length     int
}

type engineState struct {
	ind      Indicator
	lastTime time.Time
	fed      int
}

// Engine computes moving-average values over cached series and keeps
// streaming state per (instrument, timeframe, type, length) so that
// appending one bar updates the value without re-scanning history.
//
// When a merge rewrites bars the engine already consumed (the series no
// longer extends what it has seen), the state is rebuilt from the
// earliest affected bar by replaying the series.
type Engine struct {
	mu     sync.Mutex
	states map[engineKey]*engineState
}

// NewEngine creates an empty indicator engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[engineKey]*engineState)}
}

// Value returns the moving-average value at the last bar of series.
// The boolean is false when fewer than length bars exist (absent, spec'd
// data-gap behavior). Unsupported lengths are rejected up front.
func (e *Engine) Value(instrument, timeframe string, typ Type, length int, series market.Series) (float64, bool, error) {
	if err := CheckLength(length); err != nil {
		return 0, false, err
	}
	if typ != SMA && typ != EMA {
		return 0, false, fmt.Errorf("unknown moving average type %q", typ)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := engineKey{instrument: instrument, timeframe: timeframe, typ: typ, length: length}
	st, ok := e.states[key]
	if !ok {
		ind, err := New(typ, length)
		if err != nil {
			return 0, false, err
		}
		st = &engineState{ind: ind}
		e.states[key] = st
	}

	if !e.extends(st, series) {
		st.ind.Reset()
		st.fed = 0
		st.lastTime = time.Time{}
	}

	for _, b := range series[st.fed:] {
		st.ind.Update(b.Close)
		st.lastTime = b.Time
	}
	st.fed = len(series)

	if !st.ind.Ready() {
		return 0, false, nil
	}
	return st.ind.Value(), true, nil
}

// extends reports whether series is a pure append of what the state has
// already consumed.
func (e *Engine) extends(st *engineState, series market.Series) bool {
	if st.fed == 0 {
		return true
	}
	if len(series) < st.fed {
		return false
	}
	return series[st.fed-1].Time.Equal(st.lastTime)
}

// Reset drops all streaming state for an instrument, forcing the next
// Value call to replay its series.
func (e *Engine) Reset(instrument string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.states {
		if k.instrument == instrument {
			delete(e.states, k)
		}
	}
}
