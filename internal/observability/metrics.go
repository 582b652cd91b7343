package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rfidctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rfidctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rfidctl",
			Subsystem: "session",
			Name:      "exchanges_total",
			Help:      "Socket exchanges performed under the pending-operation slot.",
		},
		[]string{"kind", "success"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rfidctl",
			Subsystem: "session",
			Name:      "exchange_duration_seconds",
			Help:      "Duration of one socket exchange including slot wait.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)
	keepaliveProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rfidctl",
			Subsystem: "reader",
			Name:      "keepalive_probes_total",
			Help:      "Keepalive probes sent to the reader.",
		},
		[]string{"success"},
	)
	connectionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rfidctl",
			Subsystem: "supervisor",
			Name:      "connection_events_total",
			Help:      "Connection status events emitted by the supervisor.",
		},
		[]string{"status"},
	)
	tagLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rfidctl",
			Subsystem: "tags",
			Name:      "lines_total",
			Help:      "Tag lines received from the reader.",
		},
		[]string{"source", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			exchanges, exchangeDuration,
			keepaliveProbes, connectionEvents, tagLines,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordExchange(kind string, success bool, duration time.Duration) {
	RegisterMetrics()
	exchanges.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
	exchangeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordKeepalive(success bool) {
	RegisterMetrics()
	keepaliveProbes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordConnectionEvent(status string) {
	RegisterMetrics()
	connectionEvents.WithLabelValues(status).Inc()
}

func RecordTagLine(source, outcome string) {
	RegisterMetrics()
	tagLines.WithLabelValues(source, outcome).Inc()
}
