// Package backfill walks instrument history backward in fixed slices
// until the on-disk cache holds enough bars for indicator warmup.
package backfill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/sellwatch/broker"
	"github.com/rustyeddy/sellwatch/cache"
	"github.com/rustyeddy/sellwatch/market"
	"github.com/rustyeddy/sellwatch/metrics"
)

const (
	// SliceSize is the number of bars requested per history call.
	SliceSize = 31

	// DefaultConcurrency bounds the instrument worker pool.
	DefaultConcurrency = 32

	backoffBase = time.Second
	backoffCap  = 60 * time.Second
	maxAttempts = 8
)

// Request names one instrument series to bring up to depth.
type Request struct {
	Instrument  string
	Granularity market.Granularity
	TargetBars  int
}

// Controller fills gaps in the bar cache from a historical source.
type Controller struct {
	source      broker.HistoricalDataSource
	store       *cache.Store
	limiter     *SlidingWindow
	metrics     *metrics.Recorder
	log         zerolog.Logger
	concurrency int
	backoffBase time.Duration
	now         func() time.Time
}

// NewController wires a controller against a data source and cache.
// limiter and rec may be nil.
func NewController(source broker.HistoricalDataSource, store *cache.Store, limiter *SlidingWindow, rec *metrics.Recorder, log zerolog.Logger) *Controller {
	return &Controller{
		source:      source,
		store:       store,
		limiter:     limiter,
		metrics:     rec,
		log:         log,
		concurrency: DefaultConcurrency,
		backoffBase: backoffBase,
		now:         time.Now,
	}
}

// SetConcurrency overrides the worker pool bound for EnsureAll.
func (c *Controller) SetConcurrency(n int) {
	if n > 0 {
		c.concurrency = n
	}
}

// Ensure brings the cached series for one instrument up to target bars,
// fetching older slices one at a time until the depth is met or history
// runs out. A series already at depth costs zero requests.
func (c *Controller) Ensure(ctx context.Context, instrument string, g market.Granularity, target int) error {
	if target <= 0 {
		return fmt.Errorf("backfill %s: target must be positive, got %d", instrument, target)
	}
	if !g.Valid() {
		return fmt.Errorf("backfill %s: unknown granularity %q", instrument, g)
	}

	key := market.Key(instrument, g)
	have, err := c.store.Count(key)
	if err != nil {
		return fmt.Errorf("backfill %s: count cache: %w", instrument, err)
	}
	if have >= target {
		return nil
	}

	log := c.log.With().Str("instrument", instrument).Str("granularity", string(g)).Logger()
	log.Info().Int("have", have).Int("target", target).Msg("backfill starting")

	end := c.now()
	if have > 0 {
		series, err := c.store.Read(key, 0)
		if err != nil {
			return fmt.Errorf("backfill %s: read cache: %w", instrument, err)
		}
		if len(series) > 0 {
			end = series[0].Time.Add(-time.Nanosecond)
		}
	}

	backoff := c.backoffBase
	attempts := 0
	for have < target {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.limiter != nil {
			if err := c.limiter.Reserve(ctx); err != nil {
				return err
			}
		}

		slice, err := c.source.HistoricalBars(ctx, instrument, g, end, SliceSize)
		switch {
		case err == nil:
			backoff = c.backoffBase
			attempts = 0
		case broker.IsPacing(err):
			c.metrics.Pacing()
			c.metrics.SliceRequest("pacing")
			if c.limiter != nil {
				c.limiter.Penalize(backoff)
			}
			log.Warn().Dur("backoff", backoff).Msg("pacing violation, backing off")
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		default:
			attempts++
			c.metrics.SliceRequest("error")
			if attempts >= maxAttempts {
				return fmt.Errorf("backfill %s: fetch ending %s: %w", instrument, end.Format(time.RFC3339), err)
			}
			log.Warn().Err(err).Int("attempt", attempts).Msg("transient fetch failure, retrying")
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		}

		if len(slice) == 0 {
			c.metrics.SliceRequest("exhausted")
			log.Warn().Int("have", have).Int("target", target).
				Msg("history exhausted before reaching target depth")
			return nil
		}

		merged, err := c.store.Merge(key, slice)
		if err != nil {
			return fmt.Errorf("backfill %s: merge slice: %w", instrument, err)
		}
		c.metrics.SliceRequest("ok")
		have = len(merged)
		end = slice[0].Time.Add(-time.Nanosecond)

		if len(slice) < SliceSize {
			if have < target {
				c.metrics.SliceRequest("exhausted")
				log.Warn().Int("have", have).Int("target", target).
					Msg("short slice, history exhausted before reaching target depth")
			}
			return nil
		}
	}

	log.Info().Int("have", have).Msg("backfill complete")
	return nil
}

// EnsureAll runs Ensure for every request on a bounded worker pool.
// Failures are collected per instrument; one instrument failing does
// not stop the others.
func (c *Controller) EnsureAll(ctx context.Context, reqs []Request) error {
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var errs []error

	for _, req := range reqs {
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			if err := c.Ensure(ctx, req.Instrument, req.Granularity, req.TargetBars); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s/%s: %w", req.Instrument, req.Granularity, err))
				mu.Unlock()
			}
		}(req)
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("backfill: %d of %d instruments failed: %w", len(errs), len(reqs), errs[0])
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
