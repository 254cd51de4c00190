package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRetrievalsTotal  = "retrieval_requests_total"
	MetricRelaxationsTotal = "retrieval_relaxations_total"
	MetricRetrievalResults = "retrieval_results"
)

const (
	outcomeSuccess = "success"
	outcomeInvalid = "invalid_query"
	outcomeError   = "error"
)

// Metrics contains Prometheus metrics for candidate retrieval.
// A nil *Metrics records nothing.
type Metrics struct {
	retrievals  *prometheus.CounterVec
	relaxations *prometheus.CounterVec
	results     prometheus.Histogram
}

// NewMetrics creates unregistered retrieval metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		retrievals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRetrievalsTotal,
				Help: "Total retrieval calls by outcome",
			},
			[]string{"outcome"},
		),
		relaxations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRelaxationsTotal,
				Help: "Total filter relaxations by stage",
			},
			[]string{"stage"},
		),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRetrievalResults,
			Help:    "Number of candidates returned per retrieval",
			Buckets: []float64{0, 1, 5, 10, 30, 50, 100, 200},
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
	return []prometheus.Collector{m.retrievals, m.relaxations, m.results}
}

func (m *Metrics) incRetrieval(outcome string) {
	if m != nil {
		m.retrievals.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) incRelaxation(stage Stage) {
	if m != nil {
		m.relaxations.WithLabelValues(string(stage)).Inc()
	}
}

func (m *Metrics) observeResults(n int) {
	if m != nil {
		m.results.Observe(float64(n))
	}
}
