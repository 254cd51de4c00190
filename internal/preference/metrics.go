package preference

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricProfileUpdatesTotal    = "preference_profile_updates_total"
	MetricProfileUpdateDuration  = "preference_profile_update_duration_seconds"
	MetricEventsSkippedTotal     = "preference_events_skipped_total"
	MetricUpdatesCoalescedTotal  = "preference_updates_coalesced_total"
	MetricUpdateRetriesTotal     = "preference_update_retries_total"
	MetricPendingUsers           = "preference_pending_users"
	MetricGlobalProfileUserCount = "preference_global_profile_user_count"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics contains Prometheus metrics for preference aggregation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	updatesTotal     *prometheus.CounterVec
	updateDuration   prometheus.Histogram
	eventsSkipped    prometheus.Counter
	updatesCoalesced prometheus.Counter
	updateRetries    prometheus.Counter
	pendingUsers     prometheus.Gauge
	globalUserCount  prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		updatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricProfileUpdatesTotal,
				Help: "Total number of user profile recomputes by status",
			},
			[]string{"status"},
		),
		updateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricProfileUpdateDuration,
			Help:    "Histogram of user profile recompute duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		eventsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsSkippedTotal,
			Help: "Total number of events skipped because their content has no usable features",
		}),
		updatesCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricUpdatesCoalescedTotal,
			Help: "Total number of profile update requests served by a shared recompute",
		}),
		updateRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricUpdateRetriesTotal,
			Help: "Total number of profile update retries",
		}),
		pendingUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPendingUsers,
			Help: "Number of users waiting for an asynchronous profile update",
		}),
		globalUserCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricGlobalProfileUserCount,
			Help: "Number of user profiles in the last global profile",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.updatesTotal,
		m.updateDuration,
		m.eventsSkipped,
		m.updatesCoalesced,
		m.updateRetries,
		m.pendingUsers,
		m.globalUserCount,
	}
}

func (m *Metrics) incUpdate(status string) {
	if m != nil {
		m.updatesTotal.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) observeUpdateDuration(seconds float64) {
	if m != nil {
		m.updateDuration.Observe(seconds)
	}
}

func (m *Metrics) addSkipped(n int) {
	if m != nil {
		m.eventsSkipped.Add(float64(n))
	}
}

func (m *Metrics) incCoalesced() {
	if m != nil {
		m.updatesCoalesced.Inc()
	}
}

func (m *Metrics) incRetry() {
	if m != nil {
		m.updateRetries.Inc()
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pendingUsers.Set(float64(n))
	}
}

func (m *Metrics) setGlobalUsers(n int) {
	if m != nil {
		m.globalUserCount.Set(float64(n))
	}
}
