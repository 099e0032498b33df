package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeLivenessFailed = "liveness_failed"
	OutcomeTransportError = "transport_error"
)

// Record kinds.
const (
	KindConnection = "connection"
	KindRaw        = "raw"
	KindFormatted  = "formatted"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leapscan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "leapscan",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	scans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leapscan",
			Subsystem: "debug_scan",
			Name:      "scans_total",
			Help:      "Completed debug scan sessions by outcome.",
		},
		[]string{"outcome"},
	)
	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leapscan",
			Subsystem: "debug_scan",
			Name:      "duration_seconds",
			Help:      "Debug scan session duration in seconds.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
	)
	records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leapscan",
			Subsystem: "debug_scan",
			Name:      "records_total",
			Help:      "Decoded debug scan records by kind.",
		},
		[]string{"kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, scans, scanDuration, records)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordScan(outcome string, duration time.Duration) {
	RegisterMetrics()
	scans.WithLabelValues(outcome).Inc()
	scanDuration.Observe(duration.Seconds())
}

func RecordRecord(kind string) {
	RegisterMetrics()
	records.WithLabelValues(kind).Inc()
}
