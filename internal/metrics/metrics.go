// Package metrics exposes Prometheus instrumentation for sync passes, batches and upstream calls.
//
// A [Recorder] owns its own registry so tests and multiple instances never collide on the
// default one. Every method is safe to call on a nil *Recorder, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ytscrobble"

// Play outcomes counted by [Recorder.Play].
const (
	PlaySubmitted        = "submitted"
	PlayAlreadyScrobbled = "already_scrobbled"
	PlaySkipped          = "skipped"
	PlayFailed           = "failed"
)

// Recorder holds the collectors for one process.
type Recorder struct {
	registry *prometheus.Registry

	passes        *prometheus.CounterVec
	passDuration  prometheus.Histogram
	plays         *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchUsers    *prometheus.CounterVec
	batchDuration prometheus.Histogram
	upstream      *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	eligibleUsers prometheus.Gauge
}

// New creates a [Recorder] registered on a fresh registry, including Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	auto := promauto.With(reg)
	return &Recorder{
		registry: reg,
		passes: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Per-user sync passes by error category (empty for success).",
		}, []string{"category"}),
		passDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one per-user sync pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		plays: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "plays_total",
			Help:      "History entries processed by outcome.",
		}, []string{"outcome"}),
		batches: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Batch runs by trigger and final status.",
		}, []string{"trigger", "status"}),
		batchUsers: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "users_total",
			Help:      "Users processed by batch runs, by result.",
		}, []string{"result"}),
		batchDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a batch run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}),
		upstream: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Calls to YouTube Music and Last.fm by service and result.",
		}, []string{"service", "result"}),
		breakerState: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		eligibleUsers: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "eligible_users",
			Help:      "Users due for a sync at the start of the last batch run.",
		}),
	}
}

// Registry returns the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Pass records a finished sync pass.
func (r *Recorder) Pass(category string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.passes.WithLabelValues(category).Inc()
	r.passDuration.Observe(elapsed.Seconds())
}

// Play counts n history entries with the given outcome.
func (r *Recorder) Play(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.plays.WithLabelValues(outcome).Add(float64(n))
}

// Batch records a finished batch run.
func (r *Recorder) Batch(trigger, status string, succeeded, failed int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(trigger, status).Inc()
	r.batchUsers.WithLabelValues("succeeded").Add(float64(succeeded))
	r.batchUsers.WithLabelValues("failed").Add(float64(failed))
	r.batchDuration.Observe(elapsed.Seconds())
}

// Eligible sets the number of users due for a sync.
func (r *Recorder) Eligible(n int) {
	if r == nil {
		return
	}
	r.eligibleUsers.Set(float64(n))
}

// Upstream counts one call to an external service.
func (r *Recorder) Upstream(service, result string) {
	if r == nil {
		return
	}
	r.upstream.WithLabelValues(service, result).Inc()
}

// BreakerState publishes a circuit breaker transition.
func (r *Recorder) BreakerState(name string, state float64) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(name).Set(state)
}
