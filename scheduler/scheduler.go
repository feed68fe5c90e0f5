// Package scheduler drives the two cadences of the watch loop: the
// minute status pass and the hour/end-of-day evaluation pass. Ticks
// align to the wall clock in the exchange timezone, a still-running
// pass makes the next tick skip rather than stack, and a panicking
// pass never kills the process.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/sellwatch/metrics"
)

// Task is one scheduled pass. The context is the scheduler's run
// context; tasks should stop early when it is done.
type Task func(ctx context.Context)

// Scheduler owns the cron jobs and the per-cadence overlap guards.
type Scheduler struct {
	cron    *gocron.Scheduler
	log     zerolog.Logger
	metrics *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	minuteBusy int32
	hourlyBusy int32
}

// New builds a scheduler ticking in loc.
func New(loc *time.Location, log zerolog.Logger, rec *metrics.Recorder) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cron := gocron.NewScheduler(loc)
	return &Scheduler{
		cron:    cron,
		log:     log,
		metrics: rec,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// EveryMinute registers the minute-cadence task at second zero of
// every minute.
func (s *Scheduler) EveryMinute(task Task) error {
	_, err := s.cron.Cron("* * * * *").Do(s.wrap("minute", &s.minuteBusy, task))
	if err != nil {
		return fmt.Errorf("scheduler: register minute task: %w", err)
	}
	return nil
}

// EveryHour registers the hour-cadence task at the top of every hour.
// It shares an overlap guard with the end-of-day task; the two are one
// cadence and must never run concurrently.
func (s *Scheduler) EveryHour(task Task) error {
	_, err := s.cron.Cron("0 * * * *").Do(s.wrap("hourly", &s.hourlyBusy, task))
	if err != nil {
		return fmt.Errorf("scheduler: register hourly task: %w", err)
	}
	return nil
}

// AtEndOfDay registers a task at hh:mm:ss on weekdays, in the
// scheduler's timezone.
func (s *Scheduler) AtEndOfDay(at string, task Task) error {
	var hh, mm, ss int
	if _, err := fmt.Sscanf(at, "%d:%d:%d", &hh, &mm, &ss); err != nil {
		return fmt.Errorf("scheduler: bad end-of-day time %q: %w", at, err)
	}
	spec := fmt.Sprintf("%d %d %d * * 1-5", ss, mm, hh)
	_, err := s.cron.CronWithSeconds(spec).Do(s.wrap("end_of_day", &s.hourlyBusy, task))
	if err != nil {
		return fmt.Errorf("scheduler: register end-of-day task: %w", err)
	}
	return nil
}

// wrap guards a task against overlap with its own cadence and against
// panics.
func (s *Scheduler) wrap(name string, busy *int32, task Task) func() {
	return func() {
		if !atomic.CompareAndSwapInt32(busy, 0, 1) {
			s.log.Warn().Str("cadence", name).Msg("previous pass still running, skipping tick")
			s.metrics.SchedulerSkip(name)
			return
		}
		defer atomic.StoreInt32(busy, 0)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("cadence", name).Interface("panic", r).Msg("scheduled pass panicked")
			}
		}()

		start := time.Now()
		task(s.ctx)
		s.log.Debug().Str("cadence", name).Dur("took", time.Since(start)).Msg("pass finished")
	}
}

// Start begins ticking. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.log.Info().Str("timezone", s.cron.Location().String()).Msg("scheduler started")
}

// Stop cancels the run context and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.log.Info().Msg("scheduler stopped")
}
