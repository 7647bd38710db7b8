package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersByStatus counts terminal orders by final status (confirmed/failed)
var OrdersByStatus = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swapflow_orders_total",
		Help: "Total number of orders reaching a terminal status",
	},
	[]string{"status"},
)

// OrderLatency records latency distribution from pickup to terminal status
var OrderLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "swapflow_order_processing_latency_seconds",
		Help:    "Latency in seconds from job pickup to terminal status",
		Buckets: prometheus.DefBuckets,
	},
)

// VenueCallLatency records per-venue quote/swap call latency
var VenueCallLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "swapflow_venue_call_latency_seconds",
		Help:    "Latency in seconds of venue quote and swap calls",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"venue", "op"},
)

// BreakerState exposes each venue breaker state (0 closed, 1 open, 2 half-open)
var BreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "swapflow_circuit_breaker_state",
		Help: "Circuit breaker state per venue (0 closed, 1 open, 2 half-open)",
	},
	[]string{"venue"},
)

// Work queue depth gauges
var (
	QueueWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapflow_queue_waiting_jobs",
			Help: "Number of jobs waiting in the work queue",
		},
	)

	QueueActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapflow_queue_active_jobs",
			Help: "Number of jobs currently leased by workers",
		},
	)

	QueueDelayed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapflow_queue_delayed_jobs",
			Help: "Number of jobs waiting out a backoff delay",
		},
	)
)

// StreamSubscribers tracks live status-stream subscribers
var StreamSubscribers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "swapflow_stream_subscribers",
		Help: "Number of connected status-stream subscribers",
	},
)

func init() {
	prometheus.MustRegister(OrdersByStatus, OrderLatency)
	prometheus.MustRegister(VenueCallLatency, BreakerState)
	prometheus.MustRegister(QueueWaiting, QueueActive, QueueDelayed)
	prometheus.MustRegister(StreamSubscribers)
}
