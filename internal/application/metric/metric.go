package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request handling time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	openRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "open_rooms",
			Help: "Number of rooms with at least one member",
		},
	)

	envelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envelopes_total",
			Help: "Total number of inbound envelopes by type",
		},
		[]string{"type"},
	)
)

// RecordHTTPMetrics records counters and latency for one HTTP request.
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

func IncrementWSActiveConnections() {
	wsActiveConnections.Inc()
}

func DecrementWSActiveConnections() {
	wsActiveConnections.Dec()
}

func IncrementOpenRooms() {
	openRooms.Inc()
}

func DecrementOpenRooms() {
	openRooms.Dec()
}

func RecordEnvelope(envelopeType string) {
	envelopesTotal.WithLabelValues(envelopeType).Inc()
}
