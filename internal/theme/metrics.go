package theme

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRowsTotal    = "theme_rows_total"
	MetricFeedDuration = "theme_feed_duration_seconds"
)

const (
	rowOutcomeOK      = "ok"
	rowOutcomeEmpty   = "empty"
	rowOutcomeError   = "error"
	rowOutcomeTimeout = "timeout"
)

// Metrics contains Prometheus metrics for feed generation.
// A nil *Metrics records nothing.
type Metrics struct {
	rows     *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates unregistered feed metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRowsTotal,
				Help: "Feed rows generated by row key and outcome",
			},
			[]string{"row", "outcome"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricFeedDuration,
			Help:    "Time to generate all feed rows",
			Buckets: prometheus.DefBuckets,
		}),
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
	return []prometheus.Collector{m.rows, m.duration}
}

func (m *Metrics) incRow(row, outcome string) {
	if m != nil {
		m.rows.WithLabelValues(row, outcome).Inc()
	}
}

func (m *Metrics) observeDuration(seconds float64) {
	if m != nil {
		m.duration.Observe(seconds)
	}
}
