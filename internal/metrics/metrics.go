// Package metrics exposes Prometheus counters for the processing pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelpress_jobs_processed_total",
			Help: "Total number of processed jobs by outcome",
		},
		[]string{"outcome"}, // completed, failed, skipped, cancelled
	)

	jobProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pixelpress_job_processing_duration_seconds",
			Help:    "End-to-end job processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	retryAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixelpress_retry_attempts_total",
			Help: "Total number of job retry deliveries",
		},
	)

	versionsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelpress_versions_generated_total",
			Help: "Total number of image versions generated by type",
		},
		[]string{"type"},
	)

	analysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelpress_ai_analysis_total",
			Help: "Total number of AI analysis calls by result",
		},
		[]string{"result"}, // ok, degraded, failed, skipped
	)

	queuePendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelpress_queue_pending_jobs",
			Help: "Number of tasks waiting for a worker",
		},
	)

	queueProcessingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelpress_queue_processing_jobs",
			Help: "Number of tasks currently held by workers",
		},
	)
)

// RecordJobProcessed records one finished delivery and its duration.
func RecordJobProcessed(outcome string, duration time.Duration) {
	jobsProcessedTotal.WithLabelValues(outcome).Inc()
	jobProcessingDuration.Observe(duration.Seconds())
}

// RecordRetryAttempt records a re-delivery.
func RecordRetryAttempt() {
	retryAttemptsTotal.Inc()
}

// RecordVersionGenerated records one generated rendition.
func RecordVersionGenerated(versionType string) {
	versionsGeneratedTotal.WithLabelValues(versionType).Inc()
}

// RecordAnalysis records the result of one AI analysis call.
func RecordAnalysis(result string) {
	analysisTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth updates the queue gauges.
func SetQueueDepth(pending, processing int64) {
	queuePendingGauge.Set(float64(pending))
	queueProcessingGauge.Set(float64(processing))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
