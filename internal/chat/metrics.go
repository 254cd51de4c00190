package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricTurnsTotal   = "chat_turns_total"
	MetricIntentsTotal = "chat_intents_total"
	MetricTurnDuration = "chat_turn_duration_seconds"
)

// Turn outcomes.
const (
	outcomeResults   = "results"
	outcomeNoResults = "no_results"
	outcomeRefused   = "refused"
	outcomeClarify   = "clarify"
	outcomeClosed    = "closed"
	outcomeCached    = "cached"
	outcomeInvalid   = "invalid"
	outcomeError     = "error"
)

// Metrics contains Prometheus metrics for chat turns.
// A nil *Metrics records nothing.
type Metrics struct {
	turns    *prometheus.CounterVec
	intents  *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates unregistered chat metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTurnsTotal,
				Help: "Chat turns by outcome",
			},
			[]string{"outcome"},
		),
		intents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricIntentsTotal,
				Help: "Classified intents by intent and deciding source",
			},
			[]string{"intent", "source"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricTurnDuration,
			Help:    "Time to answer one chat turn",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
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
	return []prometheus.Collector{m.turns, m.intents, m.duration}
}

func (m *Metrics) incTurn(outcome string) {
	if m != nil {
		m.turns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) incIntent(intent Intent, source IntentSource) {
	if m != nil {
		m.intents.WithLabelValues(string(intent), string(source)).Inc()
	}
}

func (m *Metrics) observeDuration(seconds float64) {
	if m != nil {
		m.duration.Observe(seconds)
	}
}
