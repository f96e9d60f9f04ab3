// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the sync service:
// - PostgreSQL query performance
// - ODK Central API calls and circuit breaker state
// - Sync cycle and per-stream stage metrics
// - Attachment processing and signed URL refresh
// - Ops API endpoint latency

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pg_query_duration_seconds",
			Help:    "Duration of PostgreSQL queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pg_query_errors_total",
			Help: "Total number of PostgreSQL query errors",
		},
		[]string{"operation", "table"},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pg_connections_in_use",
			Help: "Current number of database connections in use",
		},
	)

	// Sync Cycle Metrics
	SyncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"status"}, // "success", "partial", "failure"
	)

	SyncCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "Duration of full sync cycles in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_stage_duration_seconds",
			Help:    "Duration of individual sync stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stream"}, // main_submissions, person_details, image_processing, url_refresh, unified_rebuild
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_processed_total",
			Help: "Total number of records processed per sync stream",
		},
		[]string{"stream"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of sync errors per stream",
		},
		[]string{"stream"},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful run per stream",
		},
		[]string{"stream"},
	)

	// ODK Central API Metrics
	ODKRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "odk_request_duration_seconds",
			Help:    "Duration of ODK Central API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"}, // "submissions", "person_details", "attachment", "session"
	)

	ODKRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odk_request_errors_total",
			Help: "Total number of failed ODK Central API requests",
		},
		[]string{"endpoint"},
	)

	// Attachment Processing Metrics
	AttachmentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_processed_total",
			Help: "Total number of attachment processing outcomes",
		},
		[]string{"result"}, // "uploaded", "placeholder", "skipped", "failed"
	)

	AttachmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attachment_processing_duration_seconds",
			Help:    "Duration of single attachment download-and-upload operations",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// Signed URL Lifecycle Metrics
	URLFieldsRefreshed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "url_fields_refreshed_total",
			Help: "Total number of signed URL fields re-signed",
		},
	)

	URLRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "url_refresh_duration_seconds",
			Help:    "Duration of the URL refresh stage in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	// Object Storage Metrics
	S3Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3_operations_total",
			Help: "Total number of object storage operations",
		},
		[]string{"operation", "result"}, // operation: "put", "sign", "list", "delete"
	)

	// Unified Table Metrics
	UnifiedRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unified_rebuild_duration_seconds",
			Help:    "Duration of unified table rebuilds in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	UnifiedRowsBuilt = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unified_rows_built",
			Help:    "Number of rows written per unified table rebuild",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordDBQuery records a database query's duration and outcome.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordSyncStage records a completed sync stage for one stream.
func RecordSyncStage(stream string, duration time.Duration, records int, err error) {
	SyncStageDuration.WithLabelValues(stream).Observe(duration.Seconds())
	if err != nil {
		SyncErrors.WithLabelValues(stream).Inc()
		return
	}
	SyncRecordsProcessed.WithLabelValues(stream).Add(float64(records))
	SyncLastSuccess.WithLabelValues(stream).SetToCurrentTime()
}

// RecordODKRequest records an ODK Central API call.
func RecordODKRequest(endpoint string, duration time.Duration, err error) {
	ODKRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if err != nil {
		ODKRequestErrors.WithLabelValues(endpoint).Inc()
	}
}

// RecordAttachment records the outcome of one attachment processing attempt.
func RecordAttachment(result string, duration time.Duration) {
	AttachmentsProcessed.WithLabelValues(result).Inc()
	AttachmentDuration.Observe(duration.Seconds())
}

// RecordS3Operation records an object storage operation outcome.
func RecordS3Operation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	S3Operations.WithLabelValues(operation, result).Inc()
}

// RecordUnifiedRebuild records a completed unified table rebuild.
func RecordUnifiedRebuild(duration time.Duration, rows int) {
	UnifiedRebuildDuration.Observe(duration.Seconds())
	UnifiedRowsBuilt.Observe(float64(rows))
}
