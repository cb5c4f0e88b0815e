// Package metrics exposes the broker's Prometheus metric registry.
//
// Grounded on the teacher's metrics.go: a set of package-level collectors
// registered once and updated from the hot paths (append, poll, dispatch).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streambroker_messages_appended_total",
			Help: "Total number of messages appended across all partitions.",
		},
		[]string{"stream", "topic"},
	)

	BatchesAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streambroker_batches_appended_total",
			Help: "Total number of batches appended across all partitions.",
		},
		[]string{"stream", "topic"},
	)

	MessagesPolled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streambroker_messages_polled_total",
			Help: "Total number of messages returned to consumers.",
		},
		[]string{"stream", "topic"},
	)

	SegmentsRolled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streambroker_segments_rolled_total",
			Help: "Total number of segment roll events.",
		},
		[]string{"stream", "topic"},
	)

	SegmentsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streambroker_segments_deleted_total",
			Help: "Total number of segments deleted by retention.",
		},
		[]string{"stream", "topic"},
	)

	DedupHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streambroker_dedup_hits_total",
			Help: "Total number of messages suppressed as duplicates.",
		},
		[]string{"topic"},
	)

	GroupRebalances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streambroker_group_rebalances_total",
			Help: "Total number of consumer group rebalances.",
		},
		[]string{"group"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "streambroker_active_connections",
			Help: "Number of currently connected client sessions.",
		},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streambroker_dispatch_duration_seconds",
			Help:    "Latency of dispatched commands by command name.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	DispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streambroker_dispatch_errors_total",
			Help: "Total number of dispatched commands that returned an error.",
		},
		[]string{"command", "kind"},
	)
)

var (
	registerOnce sync.Once
	registry     *prometheus.Registry
)

// Registry returns the process-wide prometheus registry, registering all
// collectors on first use. The collectors are package-level vars so every
// caller (including tests) shares one registration.
func Registry() *prometheus.Registry {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			MessagesAppended,
			BatchesAppended,
			MessagesPolled,
			SegmentsRolled,
			SegmentsDeleted,
			DedupHits,
			GroupRebalances,
			ActiveConnections,
			DispatchDuration,
			DispatchErrors,
		)
	})
	return registry
}
