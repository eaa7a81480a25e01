package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	// UploadsTotal counts upload pipeline runs by outcome.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "uploads_total",
			Help:      "Total number of upload pipeline runs",
		},
		[]string{"status"},
	)

	// StageDuration tracks per-stage pipeline durations.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Time spent in each upload pipeline stage",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// EnqueueFailures counts best-effort job enqueue failures. These are
	// never surfaced to the uploader.
	EnqueueFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "job_enqueue_failures_total",
			Help:      "Total number of job enqueue failures (upload still succeeds)",
		},
	)
)

// Listing cache metrics
var (
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "list_cache_hits_total",
			Help:      "Total number of list cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "list_cache_misses_total",
			Help:      "Total number of list cache misses",
		},
	)
)

// Worker metrics
var (
	// JobsHandled counts consumed queue messages by outcome. Duplicate
	// deliveries are counted again; the handler is idempotent.
	JobsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Subsystem: "worker",
			Name:      "jobs_handled_total",
			Help:      "Total number of queue messages handled",
		},
		[]string{"outcome"},
	)

	// JobLag tracks the delay between job dispatch and consumption.
	JobLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Subsystem: "worker",
			Name:      "job_lag_seconds",
			Help:      "Delay between job enqueue and worker handling",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)
)

// API metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	// ClientLockouts counts client IPs that crossed the auth failure
	// threshold and were locked out for the window.
	ClientLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vod",
			Subsystem: "api",
			Name:      "client_lockouts_total",
			Help:      "Total number of clients locked out after repeated auth failures",
		},
	)
)

// Worker job outcomes.
const (
	JobOutcomeProcessed = "processed"
	JobOutcomeDropped   = "dropped"
)

// RecordJobProcessed records a successfully handled job message.
func RecordJobProcessed() {
	JobsHandled.WithLabelValues(JobOutcomeProcessed).Inc()
}

// RecordJobDropped records a malformed message that was acknowledged and
// dropped.
func RecordJobDropped() {
	JobsHandled.WithLabelValues(JobOutcomeDropped).Inc()
}
