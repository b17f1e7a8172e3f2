package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrackingRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoptrack_tracking_refreshes_total",
		Help: "Tracking provider refreshes by result (ok, changed, not_found, unavailable, rate_limited).",
	}, []string{"result"})

	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoptrack_poll_cycles_total",
		Help: "Completed poll cycles.",
	})

	PollInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoptrack_poll_in_flight",
		Help: "Provider requests currently in flight.",
	})

	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoptrack_notifications_created_total",
		Help: "Notifications appended to the log, by action.",
	}, []string{"action"})

	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoptrack_notifications_dropped_total",
		Help: "Events that did not produce a notification, by reason.",
	}, []string{"reason"})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoptrack_notification_persist_failures_total",
		Help: "Failed writes of the notification state.",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoptrack_webhook_deliveries_total",
		Help: "Outbound webhook attempts by result.",
	}, []string{"result"})

	WebhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shoptrack_webhook_latency_seconds",
		Help:    "Latency of outbound webhook calls.",
		Buckets: prometheus.DefBuckets,
	})
)
