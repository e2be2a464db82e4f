package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for bridge-health.
type Metrics struct {
	registry                 *prometheus.Registry
	pollDurationSeconds      prometheus.Histogram
	nodes                    *prometheus.GaugeVec
	bridgeOnline             prometheus.Gauge
	identityMismatches       prometheus.Gauge
	pendingOperations        *prometheus.GaugeVec
	nodeQueryErrorsTotal     *prometheus.CounterVec
	pollFailuresTotal        prometheus.Counter
	alertsTotal              *prometheus.CounterVec
	lastSuccessfulCycleGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		pollDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_health_poll_duration_seconds",
			Help:    "Wall-clock duration of fleet poll cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_health_nodes",
			Help: "Orchestrator nodes by status in the latest snapshot.",
		}, []string{"status"}),
		bridgeOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_health_bridge_online",
			Help: "1 when the bridge is online in the latest snapshot, 0 otherwise.",
		}),
		identityMismatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_health_identity_mismatches",
			Help: "Nodes whose reported pillar name differs from the registry.",
		}),
		pendingOperations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_health_pending_operations",
			Help: "Pending operations to sign summed across nodes, by chain and direction.",
		}, []string{"chain", "direction"}),
		nodeQueryErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_health_node_query_errors_total",
			Help: "Failed node queries after retries, by category.",
		}, []string{"category"}),
		pollFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_health_poll_failures_total",
			Help: "Poll cycles that did not produce a snapshot.",
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_health_alerts_total",
			Help: "Transition alerts emitted, by kind.",
		}, []string{"kind"}),
		lastSuccessfulCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_health_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last successful poll cycle.",
		}),
	}

	registry.MustRegister(
		m.pollDurationSeconds,
		m.nodes,
		m.bridgeOnline,
		m.identityMismatches,
		m.pendingOperations,
		m.nodeQueryErrorsTotal,
		m.pollFailuresTotal,
		m.alertsTotal,
		m.lastSuccessfulCycleGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePollDuration records the duration of a completed poll.
func (m *Metrics) ObservePollDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.pollDurationSeconds.Observe(duration.Seconds())
}

// SetNodes sets the node gauge for the given status.
func (m *Metrics) SetNodes(status string, value int) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(status).Set(float64(value))
}

// SetBridgeOnline records the bridge state.
func (m *Metrics) SetBridgeOnline(online bool) {
	if m == nil {
		return
	}
	value := 0.0
	if online {
		value = 1
	}
	m.bridgeOnline.Set(value)
}

// SetIdentityMismatches records the number of mismatched identities.
func (m *Metrics) SetIdentityMismatches(value int) {
	if m == nil {
		return
	}
	m.identityMismatches.Set(float64(value))
}

// SetPendingOperations sets the pending operations gauge for a chain/direction.
func (m *Metrics) SetPendingOperations(chain, direction string, value int) {
	if m == nil {
		return
	}
	m.pendingOperations.WithLabelValues(chain, direction).Set(float64(value))
}

// IncNodeQueryErrors increments the node query error counter for category.
func (m *Metrics) IncNodeQueryErrors(category string) {
	if m == nil {
		return
	}
	m.nodeQueryErrorsTotal.WithLabelValues(category).Inc()
}

// IncPollFailures increments the failed poll counter.
func (m *Metrics) IncPollFailures() {
	if m == nil {
		return
	}
	m.pollFailuresTotal.Inc()
}

// IncAlertsTotal increments the alerts counter for the given kind.
func (m *Metrics) IncAlertsTotal(kind string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(kind).Inc()
}

// SetLastSuccessfulCycleTimestamp sets the last successful cycle time.
func (m *Metrics) SetLastSuccessfulCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCycleGauge.Set(float64(t.Unix()))
}
