package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Notification dispatch
	NotificationsDelivered *prometheus.CounterVec
	NotificationsFailed    *prometheus.CounterVec
	NotificationRetries    *prometheus.CounterVec
	NotificationQueueSize  prometheus.Gauge
	DeliveryLatency        prometheus.Histogram

	// Permission registry
	PermissionGrants  prometheus.Counter
	PermissionRevokes prometheus.Counter
	CounterRepairs    prometheus.Counter

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram

	// Document store / cache
	DatabaseOperations *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics against reg.
// A nil reg registers nowhere, which keeps tests isolated.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NotificationsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "delivered_total",
			Help:      "Total number of delivered push notifications",
		}, []string{"type"}),
		NotificationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "failed_total",
			Help:      "Total number of dead-lettered push notifications",
		}, []string{"type", "reason"}),
		NotificationRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "retry_attempts_total",
			Help:      "Total number of notifications requeued for retry",
		}, []string{"type"}),
		NotificationQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Current number of notifications waiting in the queue",
		}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent on a single push delivery attempt",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		PermissionGrants: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permissions",
			Name:      "grants_total",
			Help:      "Total number of doctor access grants",
		}),
		PermissionRevokes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permissions",
			Name:      "revokes_total",
			Help:      "Total number of doctor access revocations",
		}),
		CounterRepairs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permissions",
			Name:      "counter_repairs_total",
			Help:      "Doctor active patient counters corrected by reconciliation",
		}),

		OutboxEventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_processed_total",
			Help:      "Total number of successfully published document changes",
		}),
		OutboxEventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_failed_total",
			Help:      "Total number of document changes that failed to publish",
		}),
		OutboxProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing a batch of document changes",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of document store operations",
		}, []string{"operation", "status"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Document cache lookups by result",
		}, []string{"result"}),
	}
}
