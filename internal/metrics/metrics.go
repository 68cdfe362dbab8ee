package metrics

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch metrics
var (
	// BatchesTotal tracks processed batches by outcome ("success" or "failed").
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_batches_total",
			Help: "Total number of finding batches processed by status",
		},
		[]string{"status"},
	)

	// BatchDuration tracks batch processing time.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vulncatalog_batch_duration_seconds",
			Help:    "Finding batch processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// BatchFindings tracks the size of processed batches.
	BatchFindings = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vulncatalog_batch_findings",
			Help:    "Number of raw findings per batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		},
	)
)

// Catalog write metrics
var (
	// UnifiedTotal tracks unified vulnerability writes by result
	// ("created", "updated", "adopted", "reopened", "error").
	UnifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_unified_total",
			Help: "Total unified vulnerability writes by result",
		},
		[]string{"result"},
	)

	// InstancesTotal tracks instance writes by result
	// ("created", "already_existed", "skipped_duplicate", "error").
	InstancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_instances_total",
			Help: "Total vulnerability instance writes by result",
		},
		[]string{"result"},
	)

	// UnifiedByStatus is the number of unified vulnerabilities per status,
	// refreshed by the catalog-stats controller.
	UnifiedByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vulncatalog_unified_vulnerabilities",
			Help: "Current number of unified vulnerabilities by status",
		},
		[]string{"status"},
	)

	// ResolvedTotal tracks vulnerabilities auto-resolved as fixed.
	ResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vulncatalog_resolved_total",
			Help: "Total vulnerabilities transitioned to fixed by scan comparison",
		},
	)
)

// Title metrics
var (
	// TitlesTotal tracks titles produced by tier ("ai", "deterministic", "literal").
	TitlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_titles_total",
			Help: "Total normalized titles by producing tier",
		},
		[]string{"tier"},
	)

	// TitleErrorsTotal tracks tier failures that triggered a fallback.
	TitleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_title_errors_total",
			Help: "Total title tier failures by tier",
		},
		[]string{"tier"},
	)

	// TitleCacheTotal tracks AI title cache lookups by result ("hit", "miss", "error").
	TitleCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_title_cache_total",
			Help: "Total AI title cache lookups by result",
		},
		[]string{"result"},
	)

	// LLMRequestDuration tracks AI provider latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulncatalog_llm_request_duration_seconds",
			Help:    "LLM provider request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "status"},
	)
)

// Worker metrics
var (
	// TasksTotal tracks background tasks by type and status.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_tasks_total",
			Help: "Total background tasks handled by type and status",
		},
		[]string{"type", "status"},
	)

	// SweepRunsTotal tracks resolution sweeper runs by status.
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_sweep_runs_total",
			Help: "Total resolution sweep runs by status",
		},
		[]string{"status"},
	)

	// LogsDroppedTotal tracks log records dropped by sampling.
	LogsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_logs_dropped_total",
			Help: "Total log records dropped by sampling",
		},
		[]string{"level"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulncatalog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulncatalog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulncatalog_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// LogDropped counts a log record dropped by sampling. It matches the
// logger.SamplingConfig OnDropped hook.
func LogDropped(_ context.Context, r slog.Record) {
	LogsDroppedTotal.WithLabelValues(strings.ToLower(r.Level.String())).Inc()
}
