// Package metrics holds the Prometheus collectors of summary generation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Product refresh
	ProductRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubedash_product_refresh_total",
			Help: "Product refreshes by outcome",
		},
		[]string{"outcome"}, // "refreshed", "skipped", "failed"
	)

	ProductRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cubedash_product_refresh_duration_seconds",
			Help:    "Duration of a full product refresh including summary generation",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
	)

	// Dataset extents
	ExtentRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubedash_extent_rows_written_total",
			Help: "dataset_spatial rows written",
		},
		[]string{"path"}, // "bulk", "per_record"
	)

	ExtentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cubedash_extent_failures_total",
			Help: "Datasets whose footprint could not be computed",
		},
	)

	BulkExtentFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cubedash_extent_bulk_fallbacks_total",
			Help: "Bulk extent inserts that failed and fell back to per-record computation",
		},
	)

	// Summaries
	SummaryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubedash_summary_duration_seconds",
			Help:    "Duration of summary generation by period type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"period_type"},
	)

	SummaryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubedash_summary_writes_total",
			Help: "time_overview writes by outcome",
		},
		[]string{"outcome"}, // "stored", "stale", "pruned"
	)

	// Product cache
	ProductCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cubedash_product_cache_hits_total",
			Help: "Product summary lookups served from the store cache",
		},
	)

	ProductCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cubedash_product_cache_misses_total",
			Help: "Product summary lookups that went to the database",
		},
	)

	// Store connections
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cubedash_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Generation queue
	QueueTasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cubedash_queue_tasks_running",
			Help: "Product refresh tasks currently running",
		},
	)

	// Read API
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubedash_http_requests_total",
			Help: "API requests by route pattern and status code",
		},
		[]string{"route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubedash_http_request_duration_seconds",
			Help:    "API request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	OnDemandSummaries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubedash_on_demand_summaries_total",
			Help: "Summaries requested through the API that were not yet stored, by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordSummary observes the duration of one summary computation.
func RecordSummary(periodType string, start time.Time) {
	SummaryDuration.WithLabelValues(periodType).Observe(time.Since(start).Seconds())
}
