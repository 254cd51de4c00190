package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricCacheRequests counts cache lookups and failures.
const MetricCacheRequests = "cache_requests_total"

const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

// Metrics contains Prometheus metrics for caches.
// A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics creates unregistered cache metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheRequests,
				Help: "Cache operations by cache name and result",
			},
			[]string{"cache", "result"},
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
	return []prometheus.Collector{m.requests}
}

func (m *Metrics) inc(cache, result string) {
	if m != nil {
		m.requests.WithLabelValues(cache, result).Inc()
	}
}
