package rerank

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRerankTotal    = "rerank_requests_total"
	MetricRerankDuration = "rerank_duration_seconds"
)

const (
	outcomeSuccess  = "success"
	outcomeDegraded = "degraded"
	outcomeEmpty    = "empty"
)

// Metrics contains Prometheus metrics for reranking.
// A nil *Metrics records nothing.
type Metrics struct {
	total    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates unregistered rerank metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRerankTotal,
				Help: "Total rerank calls by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRerankDuration,
			Help:    "Histogram of cross-encoder scoring latency in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
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
	return []prometheus.Collector{m.total, m.duration}
}

func (m *Metrics) incRerank(outcome string) {
	if m != nil {
		m.total.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) observeDuration(seconds float64) {
	if m != nil {
		m.duration.Observe(seconds)
	}
}
