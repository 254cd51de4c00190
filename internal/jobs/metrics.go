// Package jobs holds the run metrics shared by the engine's background
// jobs: per-user profile updates, the daily global profile and season score
// refresh, and interaction trimming.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
)

// Job types.
const (
	JobTypeProfileUpdate   = "profile_update"
	JobTypeGlobalProfile   = "global_profile"
	JobTypeInteractionTrim = "interaction_trim"
	JobTypeSeasonSim       = "season_sim"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Failure reasons.
const (
	FailureTimeout          = "timeout"
	FailureStore            = "store_error"
	FailureRecompute        = "recompute_error"
	FailureRetriesExhausted = "retries_exhausted"
)

// FailureFor classifies err: a missed deadline is FailureTimeout, anything
// else is fallback.
func FailureFor(err error, fallback string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return fallback
}

// Metrics counts job runs. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewMetrics creates unregistered job metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobsTotal,
			Help: "Background job runs by type and status",
		}, []string{"job_type", "status"}),
		// The global profile scan and season scoring page through every
		// summary and can run for minutes.
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricBackgroundJobsDuration,
			Help:    "Background job run time in seconds",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600},
		}, []string{"job_type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobErrorsTotal,
			Help: "Failed background job runs by type and reason",
		}, []string{"job_type", "error_type"}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.runs, m.duration, m.failures}
}

// Finish records one run of jobType. An empty failure marks it successful;
// otherwise the run is a failure counted under that reason.
func (m *Metrics) Finish(jobType string, elapsed time.Duration, failure string) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if failure != "" {
		status = StatusFailure
		m.failures.WithLabelValues(jobType, failure).Inc()
	}
	m.runs.WithLabelValues(jobType, status).Inc()
	m.duration.WithLabelValues(jobType).Observe(elapsed.Seconds())
}
