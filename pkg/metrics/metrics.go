package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsConsumed counts bus events by handling result (processed|dropped|malformed).
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinnotify_events_total",
			Help: "Total number of notification events consumed from the bus",
		},
		[]string{"result"},
	)

	// Notifications counts orchestrator outcomes per notification type
	// (created|merged|duplicate|self).
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinnotify_notifications_total",
			Help: "Notification aggregation outcomes",
		},
		[]string{"type", "outcome"},
	)

	// PushMessages counts push sends by message kind and result (delivered|absent|failed).
	PushMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinnotify_push_total",
			Help: "Push messages sent over user channels",
		},
		[]string{"kind", "result"},
	)

	// PushChannels tracks the number of registered push channels on this instance.
	PushChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pinnotify_push_channels",
			Help: "Number of registered push channels",
		},
	)

	// RetentionDeleted counts notifications removed by the retention sweep.
	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pinnotify_retention_deleted_total",
			Help: "Notifications deleted by the retention sweep",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinnotify_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
