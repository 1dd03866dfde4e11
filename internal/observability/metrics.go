package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for TMWS.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Access decision metrics.
	AccessChecksTotal   *prometheus.CounterVec
	AccessCheckDuration *prometheus.HistogramVec
	PoliciesActive      prometheus.Gauge
	ApprovalsPending    prometheus.Gauge
	AbuseSignalsTotal   *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		AccessChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmws",
			Subsystem: "access",
			Name:      "checks_total",
			Help:      "Total access checks performed.",
		}, []string{"resource_type", "action", "decision"}),

		AccessCheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tmws",
			Subsystem: "access",
			Name:      "check_duration_seconds",
			Help:      "Access check evaluation duration in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"resource_type"}),

		PoliciesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tmws",
			Subsystem: "access",
			Name:      "policies_active",
			Help:      "Number of installed access policies.",
		}),

		ApprovalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tmws",
			Subsystem: "access",
			Name:      "approvals_pending",
			Help:      "Number of approval requests awaiting resolution.",
		}),

		AbuseSignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmws",
			Subsystem: "access",
			Name:      "abuse_signals_total",
			Help:      "Repeated-denial abuse signals raised.",
		}, []string{"agent"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmws",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tmws",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tmws",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.AccessChecksTotal,
		m.AccessCheckDuration,
		m.PoliciesActive,
		m.ApprovalsPending,
		m.AbuseSignalsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
