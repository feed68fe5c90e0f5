package backfill

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow admits at most max requests per rolling window across
// all instruments. On a pacing rejection the effective capacity is
// halved for a cooldown period so the whole process eases off the
// venue.
type SlidingWindow struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	sent     []time.Time
	cooldown time.Time
	now      func() time.Time
}

// NewSlidingWindow builds a limiter admitting max requests per window.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Reserve blocks until a request slot is available or ctx is done.
func (l *SlidingWindow) Reserve(ctx context.Context) error {
	for {
		wait, ok := l.tryReserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryReserve admits a request immediately or reports how long to wait
// before the next attempt.
func (l *SlidingWindow) tryReserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	keep := l.sent[:0]
	for _, t := range l.sent {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.sent = keep

	limit := l.max
	if now.Before(l.cooldown) && limit > 1 {
		limit = limit / 2
	}

	if len(l.sent) < limit {
		l.sent = append(l.sent, now)
		return 0, true
	}

	wait := l.sent[0].Add(l.window).Sub(now)
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait, false
}

// Penalize halves the effective capacity for the given duration.
// Called after a pacing rejection.
func (l *SlidingWindow) Penalize(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(d)
	if until.After(l.cooldown) {
		l.cooldown = until
	}
}
