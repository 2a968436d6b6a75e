package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AmoCRMRequestsTotal tracks the number of outbound API calls to amoCRM.
	AmoCRMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amocrm_api_requests_total",
			Help: "Total number of amoCRM API requests made (by endpoint, method, and status).",
		},
		[]string{"endpoint", "method", "status"},
	)

	// AmoCRMRequestDuration measures the duration of outbound amoCRM API calls.
	AmoCRMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amocrm_api_request_duration_seconds",
			Help:    "Duration of amoCRM API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint", "method"},
	)

	// OperationsTotal counts contact/lead operations by their outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amocrm_operations_total",
			Help: "Contact and lead operations by outcome (found, created, updated, not_found, already_exists, error).",
		},
		[]string{"operation", "outcome"},
	)

	// TokenEvents counts token store transitions.
	TokenEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amocrm_token_events_total",
			Help: "Token store loads, exchanges and refreshes by result.",
		},
		[]string{"event", "result"},
	)

	// NATSMessagesTotal counts published NATS messages by subject and status.
	NATSMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Number of NATS messages published (by subject and status).",
		},
		[]string{"subject", "status"},
	)

	// NATSMessageLatency measures JetStream publish latency.
	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_publish_latency_seconds",
			Help:    "JetStream publish latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// NATSPublishErrors tracks NATS publish failures by subject.
	NATSPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_errors_total",
			Help: "Number of NATS publish failures by subject.",
		},
		[]string{"subject"},
	)
)

// IncAmoCRMRequest increments the amoCRM API request counter.
func IncAmoCRMRequest(endpoint, method, status string) {
	AmoCRMRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncOperation records the outcome of a service-level operation.
func IncOperation(operation, outcome string) {
	OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncTokenEvent records a token store event ("load", "exchange", "refresh").
func IncTokenEvent(event, result string) {
	TokenEvents.WithLabelValues(event, result).Inc()
}

// ObserveDuration records elapsed time since start into a HistogramVec or SummaryVec.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()
	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

// IncNATSPublishError increments the NATS publish error counter for the given subject.
func IncNATSPublishError(subject string) {
	NATSPublishErrors.WithLabelValues(subject).Inc()
}

// IncNATSMessage increments the published message counter.
func IncNATSMessage(subject, status string) {
	NATSMessagesTotal.WithLabelValues(subject, status).Inc()
}
