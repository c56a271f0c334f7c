// Package metrics provides Prometheus metrics for the complaints pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "complaints"

var (
	// RunsTotal tracks pipeline runs by mode and final status
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by mode and status",
		},
		[]string{"mode", "status"},
	)

	// RunDuration tracks pipeline run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"mode"},
	)

	// RunsInFlight is 1 while this process holds the run lock
	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_in_flight",
			Help:      "Number of pipeline runs currently executing in this process",
		},
	)

	// RecordsFetched tracks raw records returned by the source API
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "records_total",
			Help:      "Total number of raw records fetched",
		},
		[]string{"company"},
	)

	// RecordsSkipped tracks records dropped by the transformer for a missing id
	RecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "skipped_total",
			Help:      "Total number of records dropped for a missing complaint_id",
		},
	)

	// FilesUploaded tracks staged extracts written to the object store
	FilesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploader",
			Name:      "files_total",
			Help:      "Total number of staged extract uploads by status",
		},
		[]string{"status"},
	)

	// CleanupFailures tracks swallowed cleanup failures
	CleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploader",
			Name:      "cleanup_failures_total",
			Help:      "Total number of superseded-file cleanup failures",
		},
	)

	// FilesLoaded tracks staged files ingested by status
	FilesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "files_loaded_total",
			Help:      "Total number of staged files ingested by status",
		},
		[]string{"status"},
	)

	// RowsLoaded tracks rows written to the target table
	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "rows_loaded_total",
			Help:      "Total number of rows written to the target table by load path",
		},
		[]string{"path"},
	)

	// RowErrors tracks rows rejected during ingest
	RowErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "row_errors_total",
			Help:      "Total number of rows rejected during ingest",
		},
	)

	// ValidationDuplicates reports the duplicate complaint_id count of the last validation
	ValidationDuplicates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "duplicate_ids",
			Help:      "Duplicate complaint_id count at the last validation pass",
		},
	)

	// ValidationNullIDs reports the null complaint_id count of the last validation
	ValidationNullIDs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "null_ids",
			Help:      "Null complaint_id count at the last validation pass",
		},
	)

	// ValidationTotalRows reports the table size at the last validation
	ValidationTotalRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "total_rows",
			Help:      "Target table row count at the last validation pass",
		},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordRun records a finished pipeline run
func RecordRun(mode, status string, durationSeconds float64) {
	RunsTotal.WithLabelValues(mode, status).Inc()
	RunDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordFileLoad records one staged file ingest
func RecordFileLoad(status string, rowsLoaded, rowErrors int64) {
	FilesLoaded.WithLabelValues(status).Inc()
	RowsLoaded.WithLabelValues("staged").Add(float64(rowsLoaded))
	RowErrors.Add(float64(rowErrors))
}

// RecordValidation publishes the latest validation figures
func RecordValidation(totalRows, duplicates, nullIDs int64) {
	ValidationTotalRows.Set(float64(totalRows))
	ValidationDuplicates.Set(float64(duplicates))
	ValidationNullIDs.Set(float64(nullIDs))
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
