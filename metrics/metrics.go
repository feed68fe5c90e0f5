// Package metrics exposes Prometheus counters for the pipeline's
// operational events. All Recorder methods are nil-receiver safe so
// components can run without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps the pipeline's Prometheus collectors.
type Recorder struct {
	sliceRequests *prometheus.CounterVec
	pacingHits    prometheus.Counter
	schedulerSkip *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	cacheErrors   prometheus.Counter
}

// New registers the collectors on the default registry.
func New() *Recorder {
	return &Recorder{
		sliceRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellwatch_backfill_slice_requests_total",
				Help: "Historical slice requests issued, by outcome",
			},
			[]string{"outcome"},
		),
		pacingHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sellwatch_pacing_violations_total",
				Help: "Pacing rejections returned by the broker gateway",
			},
		),
		schedulerSkip: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellwatch_scheduler_skipped_ticks_total",
				Help: "Cadence ticks skipped because the previous handler was still running",
			},
			[]string{"cadence"},
		),
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellwatch_signal_decisions_total",
				Help: "Signal evaluations recorded, by decision",
			},
			[]string{"decision"},
		),
		cacheErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sellwatch_cache_errors_total",
				Help: "Cache merge or read failures",
			},
		),
	}
}

// SliceRequest counts one historical slice request ("ok", "error",
// "pacing").
func (r *Recorder) SliceRequest(outcome string) {
	if r == nil {
		return
	}
	r.sliceRequests.WithLabelValues(outcome).Inc()
}

// Pacing counts one pacing rejection.
func (r *Recorder) Pacing() {
	if r == nil {
		return
	}
	r.pacingHits.Inc()
}

// SchedulerSkip counts one skipped tick for a cadence.
func (r *Recorder) SchedulerSkip(cadence string) {
	if r == nil {
		return
	}
	r.schedulerSkip.WithLabelValues(cadence).Inc()
}

// Decision counts one recorded signal decision.
func (r *Recorder) Decision(decision string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(decision).Inc()
}

// CacheError counts one cache failure.
func (r *Recorder) CacheError() {
	if r == nil {
		return
	}
	r.cacheErrors.Inc()
}

// Serve exposes /metrics on addr. It blocks; run it in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
