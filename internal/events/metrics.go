package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricPublishedTotal = "events_published_total"
	MetricConsumedTotal  = "events_consumed_total"
)

const (
	outcomeOK        = "ok"
	outcomeDuplicate = "duplicate"
	outcomeInvalid   = "invalid"
	outcomeError     = "error"
)

// Metrics contains Prometheus metrics for the interaction event stream.
// A nil *Metrics records nothing.
type Metrics struct {
	published *prometheus.CounterVec
	consumed  *prometheus.CounterVec
}

// NewMetrics creates unregistered event metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPublishedTotal,
				Help: "Interaction events published by outcome",
			},
			[]string{"outcome"},
		),
		consumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricConsumedTotal,
				Help: "Interaction messages consumed by outcome",
			},
			[]string{"outcome"},
		),
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
	return []prometheus.Collector{m.published, m.consumed}
}

func (m *Metrics) incPublished(outcome string) {
	if m != nil {
		m.published.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) incConsumed(outcome string) {
	if m != nil {
		m.consumed.WithLabelValues(outcome).Inc()
	}
}
