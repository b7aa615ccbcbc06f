// Package metrics provides Prometheus metrics for the nonce submitter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/somnia-chain/nonce-submitter/internal/nonce"
)

var (
	// HTTP metrics (aggregate only)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nonce_submitter_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nonce_submitter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Dispatcher metrics
	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nonce_submitter_jobs_queued",
			Help: "Number of transaction jobs waiting for a worker",
		},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nonce_submitter_jobs_total",
			Help: "Total number of transaction jobs by outcome",
		},
		[]string{"status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nonce_submitter_job_duration_seconds",
			Help:    "Time from job pickup to send (or receipt, when waiting)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"wait"},
	)

	// Nonce manager collectors, registered with the default registry.
	Nonce = nonce.NewMetrics(prometheus.DefaultRegisterer)
)
