package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync metrics
	PollTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifysync_poll_ticks_total",
			Help: "Total number of unread-count poll ticks",
		},
	)

	SyncErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifysync_sync_errors_total",
			Help: "Total number of failed sync operations by operation",
		},
		[]string{"op"},
	)

	UnreadCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifysync_unread_count",
			Help: "Last known unread notification count",
		},
	)

	LoadedNotifications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifysync_loaded_notifications",
			Help: "Number of notifications held in the local list",
		},
	)

	// Push metrics
	PushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifysync_pushes_total",
			Help: "Total number of OS-level pushes emitted",
		},
	)

	PushesSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifysync_pushes_suppressed_total",
			Help: "Pushes not emitted, by reason (duplicate, permission)",
		},
		[]string{"reason"},
	)

	// API metrics
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifysync_api_request_duration_seconds",
			Help:    "Notification API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PollTicksTotal)
	prometheus.MustRegister(SyncErrorsTotal)
	prometheus.MustRegister(UnreadCount)
	prometheus.MustRegister(LoadedNotifications)
	prometheus.MustRegister(PushesTotal)
	prometheus.MustRegister(PushesSuppressed)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records an API call duration. outcome is "ok" or "error".
func ObserveRequest(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	APIRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
