package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "replinet"

var (
	registerOnce sync.Once

	connAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "accepted_total",
			Help:      "Connections accepted and registered with the loop.",
		},
	)
	connActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "active",
			Help:      "Connections currently registered with the loop.",
		},
	)
	connClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "closed_total",
			Help:      "Connections closed, by reason.",
		},
		[]string{"reason"},
	)
	connRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "rejected_total",
			Help:      "Connections closed on accept because max_connections was reached.",
		},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests answered, by content type and outcome.",
		},
		[]string{"content_type", "outcome"},
	)
	requestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from a complete request to its fully drained response.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes moved on client sockets, by direction.",
		},
		[]string{"direction"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"

	OutcomeOK           = "ok"
	OutcomeHandlerError = "handler_error"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connAccepted, connActive, connClosed, connRejected,
			requests, requestDuration, wireBytes,
			httpRequests, httpDuration,
		)
	})
}

func RecordAccepted(active int) {
	RegisterMetrics()
	connAccepted.Inc()
	connActive.Set(float64(active))
}

func RecordClosed(reason string, active int) {
	RegisterMetrics()
	connClosed.WithLabelValues(reason).Inc()
	connActive.Set(float64(active))
}

func RecordRejected() {
	RegisterMetrics()
	connRejected.Inc()
}

func RecordRequest(contentType, outcome string, duration time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(contentType, outcome).Inc()
	requestDuration.Observe(duration.Seconds())
}

func RecordBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	wireBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
