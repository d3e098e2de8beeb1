// Package metrics exposes Prometheus collectors for the pieces of the
// server an operator actually needs a dashboard for: how deep the
// processing queue is, which pipeline stages are failing, how long
// inference calls wait on their concurrency limiter, how many bytes move
// through blob storage, and how often the sync lease is contended.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkvault_processor_queue_depth",
			Help: "Number of files currently queued or in flight in the processing pipeline",
		},
	)

	StageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkvault_processor_stage_total",
			Help: "Completed pipeline stage runs by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	InferenceWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkvault_inference_wait_seconds",
			Help:    "Time spent waiting to acquire the inference concurrency limiter",
			Buckets: prometheus.DefBuckets,
		},
	)

	BlobBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inkvault_blob_bytes_written_total",
			Help: "Total bytes written to blob storage",
		},
	)

	BlobBytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inkvault_blob_bytes_read_total",
			Help: "Total bytes read from blob storage",
		},
	)

	SyncLeaseContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inkvault_sync_lease_contention_total",
			Help: "Total number of sync start requests rejected because another device already held the lease",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkvault_http_requests_total",
			Help: "Total HTTP requests by route and status code",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		StageTotal,
		InferenceWaitSeconds,
		BlobBytesWritten,
		BlobBytesRead,
		SyncLeaseContentionTotal,
		HTTPRequestsTotal,
	)
}

// Handler serves the Prometheus exposition format for scraping. httpapi
// mounts it at /debug/metrics on the same listener as its other routes.
func Handler() http.Handler {
	return promhttp.Handler()
}
