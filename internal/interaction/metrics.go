package interaction

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricEventsTotal    = "interaction_events_total"
	MetricTrimmedTotal   = "interaction_events_trimmed_total"
	MetricListenerErrors = "interaction_listener_errors_total"
)

// Outcome label values for MetricEventsTotal.
const (
	OutcomeRecorded  = "recorded"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Metrics contains Prometheus metrics for interaction recording.
type Metrics struct {
	eventsTotal    *prometheus.CounterVec
	trimmedTotal   prometheus.Counter
	listenerErrors prometheus.Counter
}

// NewMetrics creates unregistered interaction metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsTotal,
				Help: "Total interaction events by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		trimmedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTrimmedTotal,
			Help: "Total interaction events removed by the per-user cap",
		}),
		listenerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricListenerErrors,
			Help: "Total errors returned by interaction listeners",
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
	return []prometheus.Collector{m.eventsTotal, m.trimmedTotal, m.listenerErrors}
}

func (m *Metrics) incEvent(action Action, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(action), outcome).Inc()
}

func (m *Metrics) addTrimmed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.trimmedTotal.Add(float64(n))
}

func (m *Metrics) incListenerError() {
	if m == nil {
		return
	}
	m.listenerErrors.Inc()
}
