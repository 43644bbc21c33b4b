package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsDelivered prometheus.Counter
	NotificationsQueued    prometheus.Counter
	NotificationsFailed    prometheus.Counter
	RateLimited            prometheus.Counter
	PushLatency            prometheus.Histogram
	ActiveConnections      prometheus.Gauge
	HeartbeatEvictions     prometheus.Counter
	AuditDropped           prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Notifications pushed to at least one live connection.",
		}),
		NotificationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_queued_total",
			Help: "Notifications parked in the offline queue at submit time.",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Delivery attempts recorded as permanently failed.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submissions_rate_limited_total",
			Help: "Submissions rejected by the per-recipient rate limiter.",
		}),
		PushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "push_delivery_seconds",
			Help:    "Latency from submit to live push acknowledgement by the transport.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Currently registered live push connections.",
		}),
		HeartbeatEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heartbeat_evictions_total",
			Help: "Connections reclaimed after failing a liveness probe cycle.",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Audit events discarded because the sink buffer was full.",
		}),
	}

	reg.MustRegister(
		m.NotificationsDelivered,
		m.NotificationsQueued,
		m.NotificationsFailed,
		m.RateLimited,
		m.PushLatency,
		m.ActiveConnections,
		m.HeartbeatEvictions,
		m.AuditDropped,
	)

	return m
}
