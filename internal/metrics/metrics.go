// Package metrics exposes queue counters, handler latency and status gauges
// to Prometheus.
//
// All Record methods are safe on a nil *Collector, so components can run
// without metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ronittamrakar/jobqueue/internal/state"
)

const namespace = "jobqueue"

type Collector struct {
	enqueued      prometheus.Counter
	deduplicated  prometheus.Counter
	claimed       *prometheus.CounterVec
	completed     *prometheus.CounterVec
	retried       *prometheus.CounterVec
	failed        *prometheus.CounterVec
	cancelled     prometheus.Counter
	released      prometheus.Counter
	purged        prometheus.Counter
	historyErrors prometheus.Counter

	jobDuration *prometheus.HistogramVec
	jobsByState *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewCollector registers every metric on reg. Passing a *prometheus.Registry
// also lets Handler serve exactly these metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	byType := []string{"job_type"}
	c := &Collector{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_enqueued_total",
			Help: "Jobs accepted by Schedule",
		}),
		deduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_deduplicated_total",
			Help: "Schedule calls skipped because a live job held the same key",
		}),
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_claimed_total",
			Help: "Jobs leased to a worker",
		}, byType),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_completed_total",
			Help: "Jobs that reached completed",
		}, byType),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_retried_total",
			Help: "Failed attempts rescheduled with backoff",
		}, byType),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_failed_total",
			Help: "Jobs that reached failed",
		}, byType),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_cancelled_total",
			Help: "Pending jobs cancelled by key",
		}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_released_total",
			Help: "Stale leases returned to pending by the sweeper",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_purged_total",
			Help: "Terminal jobs deleted by retention cleanup",
		}),
		historyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "history_write_failures_total",
			Help: "Terminal outcomes whose history record could not be written",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Time from claim to terminal outcome",
			Buckets: prometheus.DefBuckets,
		}, byType),
		jobsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "jobs",
			Help: "Jobs currently in each status",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.enqueued, c.deduplicated, c.claimed, c.completed, c.retried, c.failed,
		c.cancelled, c.released, c.purged, c.historyErrors, c.jobDuration, c.jobsByState,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

func (c *Collector) RecordEnqueued() {
	if c == nil {
		return
	}
	c.enqueued.Inc()
}

func (c *Collector) RecordDeduplicated() {
	if c == nil {
		return
	}
	c.deduplicated.Inc()
}

func (c *Collector) RecordClaimed(jobType string) {
	if c == nil {
		return
	}
	c.claimed.WithLabelValues(jobType).Inc()
}

// RecordCompleted counts a completion and observes its run time.
func (c *Collector) RecordCompleted(jobType string, seconds float64) {
	if c == nil {
		return
	}
	c.completed.WithLabelValues(jobType).Inc()
	c.jobDuration.WithLabelValues(jobType).Observe(seconds)
}

func (c *Collector) RecordRetried(jobType string) {
	if c == nil {
		return
	}
	c.retried.WithLabelValues(jobType).Inc()
}

func (c *Collector) RecordFailed(jobType string, seconds float64) {
	if c == nil {
		return
	}
	c.failed.WithLabelValues(jobType).Inc()
	c.jobDuration.WithLabelValues(jobType).Observe(seconds)
}

func (c *Collector) RecordCancelled() {
	if c == nil {
		return
	}
	c.cancelled.Inc()
}

func (c *Collector) RecordReleased(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.released.Add(float64(n))
}

func (c *Collector) RecordPurged(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.purged.Add(float64(n))
}

func (c *Collector) RecordHistoryWriteFailure() {
	if c == nil {
		return
	}
	c.historyErrors.Inc()
}

// SetStatusCounts replaces the per-status gauge values.
func (c *Collector) SetStatusCounts(counts map[state.JobStatus]int) {
	if c == nil {
		return
	}
	for _, status := range state.AllStatuses {
		c.jobsByState.WithLabelValues(status.String()).Set(float64(counts[status]))
	}
}

// Handler serves the registry the collector was created with, or the default
// gatherer when that registry cannot be gathered.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
