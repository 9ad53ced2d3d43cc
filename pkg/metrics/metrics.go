// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RelayEventsTotal counts processed inbound messages by direction and outcome.
	RelayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Inbound platform messages processed by the relay",
		},
		[]string{"direction", "status"},
	)

	// SendDuration tracks outbound platform send latency.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_send_duration_seconds",
			Help:    "Outbound platform send duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 20},
		},
		[]string{"target", "status"},
	)

	// PersistDuration tracks store write latency per backend.
	PersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_store_persist_duration_seconds",
			Help:    "Conversation store persistence duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"driver", "status"},
	)

	// ModerationChecksTotal counts group moderation classifications.
	ModerationChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_moderation_checks_total",
			Help: "Group messages classified by the moderation gate",
		},
		[]string{"result"},
	)

	// UsersKnown tracks how many users the store knows about.
	UsersKnown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_users_known",
			Help: "Users recorded in the conversation store",
		},
	)

	// ThreadIndexSize tracks the number of resolvable operator-side message ids.
	ThreadIndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_thread_index_size",
			Help: "Operator-side message ids that resolve to a user message",
		},
	)

	// EventsPublishedTotal counts relay audit events published to JetStream.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Relay audit events published to the event stream",
		},
		[]string{"status"},
	)

	// SSEConnections tracks open relay event streams.
	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sse_connections_active",
			Help: "Number of active relay event stream connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRelay records the outcome of one relay step.
func RecordRelay(direction, status string) {
	RelayEventsTotal.WithLabelValues(direction, status).Inc()
}

// RecordSend records an outbound send attempt.
func RecordSend(target string, err error, duration float64) {
	SendDuration.WithLabelValues(target, statusLabel(err)).Observe(duration)
}

// RecordPersist records a store write.
func RecordPersist(driver string, err error, duration float64) {
	PersistDuration.WithLabelValues(driver, statusLabel(err)).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connections gauge.
func IncrementSSEConnections() {
	SSEConnections.Inc()
}

// DecrementSSEConnections decrements the active SSE connections gauge.
func DecrementSSEConnections() {
	SSEConnections.Dec()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
