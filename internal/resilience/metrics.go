package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Metric names.
const (
	MetricBreakerState       = "circuit_breaker_state"
	MetricBreakerRequests    = "circuit_breaker_requests_total"
	MetricBreakerTransitions = "circuit_breaker_transitions_total"
)

const (
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultRejected = "rejected"
)

// Metrics contains Prometheus metrics shared by all breakers.
// A nil *Metrics records nothing.
type Metrics struct {
	state       *prometheus.GaugeVec
	requests    *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetrics creates unregistered breaker metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricBreakerState,
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBreakerRequests,
				Help: "Requests through a circuit breaker by result",
			},
			[]string{"name", "result"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBreakerTransitions,
				Help: "Circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
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
	return []prometheus.Collector{m.state, m.requests, m.transitions}
}

func (m *Metrics) setState(name string, s gobreaker.State) {
	if m != nil {
		m.state.WithLabelValues(name).Set(stateValue(s))
	}
}

func (m *Metrics) incRequest(name, result string) {
	if m != nil {
		m.requests.WithLabelValues(name, result).Inc()
	}
}

func (m *Metrics) incTransition(name string, from, to gobreaker.State) {
	if m != nil {
		m.transitions.WithLabelValues(name, from.String(), to.String()).Inc()
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
