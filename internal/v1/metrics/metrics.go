// Package metrics declares the broker's Prometheus instrumentation, in the
// same promauto declare-at-package-scope style the teacher uses, renamed
// from the video-conferencing namespace to the broker's.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentbus"

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "active_connections",
		Help:      "Number of live sessions across all clients.",
	})

	ConnectionsByClient = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "connections_per_client",
		Help:      "Live connection count for a given client_id.",
	}, []string{"client_id"})

	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "connections_rejected_total",
		Help:      "Connections rejected due to MAX_CONNECTIONS or per-client caps.",
	}, []string{"reason"})

	MessagesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "message",
		Name:      "ingress_total",
		Help:      "Messages accepted on ingress, by priority.",
	}, []string{"priority"})

	MessagesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "message",
		Name:      "delivered_total",
		Help:      "Messages delivered to a recipient session.",
	}, []string{"priority"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "message",
		Name:      "dropped_total",
		Help:      "Messages dropped due to backpressure or queue caps.",
	}, []string{"priority", "reason"})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "message",
		Name:      "delivery_failed_total",
		Help:      "Pending deliveries exhausted without an ack.",
	}, []string{"message_type"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "message",
		Name:      "queue_depth",
		Help:      "Current depth of the priority queue, by priority.",
	}, []string{"priority"})

	DeliveryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "message",
		Name:      "delivery_latency_seconds",
		Help:      "Time from enqueue to first delivery attempt.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"priority"})

	DeliveryLatencySummary = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  namespace,
		Subsystem:  "message",
		Name:       "delivery_latency_summary_seconds",
		Help:       "Delivery latency summary exposing P50/P90/P99.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"priority"})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "active_total",
		Help:      "Number of rooms currently active.",
	})

	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "members",
		Help:      "Active member count for a given room_id.",
	}, []string{"room_id"})

	RoomFileBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "file_bytes",
		Help:      "Total stored file bytes for a given room_id.",
	}, []string{"room_id"})

	FilesEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "files_evicted_total",
		Help:      "Files evicted by the per-room LRU policy.",
	}, []string{"room_id"})

	CodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "code_executions_total",
		Help:      "Code execution requests by terminal status.",
	}, []string{"status"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Requests rejected by the token-bucket limiter.",
	}, []string{"scope"})

	PersistenceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "writes_total",
		Help:      "Persistence writes, by table and outcome.",
	}, []string{"table", "outcome"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "circuit_breaker_state",
		Help:      "0=closed 1=half-open 2=open, by breaker name.",
	}, []string{"breaker"})
)

// IncConnection records a newly-registered session for client id.
func IncConnection(clientID string) {
	ActiveConnections.Inc()
	ConnectionsByClient.WithLabelValues(clientID).Inc()
}

// DecConnection records a deregistered session for client id.
func DecConnection(clientID string) {
	ActiveConnections.Dec()
	ConnectionsByClient.WithLabelValues(clientID).Dec()
}
