package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "rate_limit_redis_errors_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
)

var (
	limitLabels   = []string{"endpoint", "key_type"}
	requestLabels = []string{"method", "route", "status"}

	// Feed and interaction calls finish in milliseconds; chat turns wait on
	// the model and can take most of the request timeout.
	latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	// Feeds and chat answers are JSON well under a megabyte.
	sizeBuckets = prometheus.ExponentialBuckets(128, 4, 8)
)

// Metrics holds the HTTP and rate limit collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	limitChecks   *prometheus.CounterVec
	limitBlocked  *prometheus.CounterVec
	limitFailOpen prometheus.Counter
	duration      *prometheus.HistogramVec
	requests      *prometheus.CounterVec
	requestSize   *prometheus.HistogramVec
	responseSize  *prometheus.HistogramVec
}

// NewMetrics creates unregistered middleware metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		limitChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitRequests,
			Help: "Rate limit checks by endpoint and key type",
		}, limitLabels),
		limitBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitBlocked,
			Help: "Requests rejected with 429 by endpoint and key type",
		}, limitLabels),
		limitFailOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitRedisErrors,
			Help: "Rate limit checks let through because Redis failed",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestDuration,
			Help:    "HTTP request latency in seconds",
			Buckets: latencyBuckets,
		}, requestLabels),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "HTTP requests served",
		}, requestLabels),
		requestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestSizeBytes,
			Help:    "HTTP request body size in bytes",
			Buckets: sizeBuckets,
		}, requestLabels),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPResponseSizeBytes,
			Help:    "HTTP response body size in bytes",
			Buckets: sizeBuckets,
		}, requestLabels),
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
	return []prometheus.Collector{
		m.limitChecks, m.limitBlocked, m.limitFailOpen,
		m.duration, m.requests, m.requestSize, m.responseSize,
	}
}

func (m *Metrics) incLimitCheck(endpoint, keyType string) {
	if m != nil {
		m.limitChecks.WithLabelValues(endpoint, keyType).Inc()
	}
}

func (m *Metrics) incLimitBlocked(endpoint, keyType string) {
	if m != nil {
		m.limitBlocked.WithLabelValues(endpoint, keyType).Inc()
	}
}

func (m *Metrics) incFailOpen() {
	if m != nil {
		m.limitFailOpen.Inc()
	}
}

func (m *Metrics) observeRequest(method, route, status string, seconds float64, reqBytes, respBytes int64) {
	if m == nil {
		return
	}
	labels := []string{method, route, status}
	m.duration.WithLabelValues(labels...).Observe(seconds)
	m.requests.WithLabelValues(labels...).Inc()
	m.requestSize.WithLabelValues(labels...).Observe(float64(reqBytes))
	m.responseSize.WithLabelValues(labels...).Observe(float64(respBytes))
}
