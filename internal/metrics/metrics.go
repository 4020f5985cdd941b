// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paylink_api_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paylink_api_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Webhooks
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paylink_webhook_events_total",
			Help: "Webhook deliveries by correlation result",
		},
		[]string{"result"}, // dispatched, duplicate, unresolved, ignored, rejected, error
	)

	DedupSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paylink_dedup_swept_total",
			Help: "Expired event ids removed from the dedup window",
		},
	)

	// Reconciliation
	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paylink_reconciliations_total",
			Help: "Balance reconciliations by result",
		},
		[]string{"source", "result"}, // source: webhook, poll; result: applied, repeat, error
	)

	// Delivery
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paylink_deliveries_total",
			Help: "Outcome notifications by delivery result",
		},
		[]string{"result"},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paylink_live_connections",
			Help: "Current number of live client connections",
		},
	)

	// Provider
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paylink_provider_calls_total",
			Help: "Payment provider API calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paylink_provider_call_duration_seconds",
			Help:    "Payment provider API latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paylink_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Alerts
	SellerAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paylink_seller_alerts_total",
			Help: "Seller payment alerts by result",
		},
		[]string{"result"},
	)
)

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordProviderCall records one payment provider call.
func RecordProviderCall(operation string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ProviderCalls.WithLabelValues(operation, result).Inc()
	ProviderCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordReconciliation records a reconcile attempt.
func RecordReconciliation(source string, applied bool, err error) {
	result := "applied"
	switch {
	case err != nil:
		result = "error"
	case !applied:
		result = "repeat"
	}
	Reconciliations.WithLabelValues(source, result).Inc()
}
