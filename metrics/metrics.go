package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchdog_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// CycleTotal counts poll cycles per source by outcome (ok, fetch_error,
	// conflict, store_error, panic).
	CycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_poll_cycles_total",
			Help: "Number of poll cycles by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchdog_poll_cycle_duration_seconds",
			Help:    "Duration of poll cycles",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	NewListings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_new_listings_total",
			Help: "Number of newly stored listings",
		},
		[]string{"source"},
	)

	// Deliveries counts notification attempts per channel by outcome.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_notification_deliveries_total",
			Help: "Number of notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	BroadcastListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchdog_broadcast_listeners",
			Help: "Number of connected broadcast listeners",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		RequestCount,
		RequestDuration,
		CycleTotal,
		CycleDuration,
		NewListings,
		Deliveries,
		BroadcastListeners,
	)
}
