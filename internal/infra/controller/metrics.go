package controller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	reconcileTotal    *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	itemsProcessed    *prometheus.CounterVec
	controllerRunning *prometheus.GaugeVec
	lastReconcileTime *prometheus.GaugeVec
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the controller collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		reconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulncatalog_controller_reconcile_total",
				Help: "Total number of reconciliations by controller and result",
			},
			[]string{"controller", "result"},
		),
		reconcileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vulncatalog_controller_reconcile_duration_seconds",
				Help:    "Duration of reconciliation in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"controller"},
		),
		itemsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulncatalog_controller_items_processed_total",
				Help: "Total number of items changed by controller",
			},
			[]string{"controller"},
		),
		controllerRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulncatalog_controller_running",
				Help: "Whether the controller is running (1) or not (0)",
			},
			[]string{"controller"},
		),
		lastReconcileTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulncatalog_controller_last_reconcile_timestamp_seconds",
				Help: "Unix timestamp of the last reconciliation",
			},
			[]string{"controller"},
		),
	}
}

// RecordReconcile records one pass.
func (m *PrometheusMetrics) RecordReconcile(controller string, items int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.reconcileTotal.WithLabelValues(controller, result).Inc()
	m.reconcileDuration.WithLabelValues(controller).Observe(duration.Seconds())
	if items > 0 {
		m.itemsProcessed.WithLabelValues(controller).Add(float64(items))
	}
	m.lastReconcileTime.WithLabelValues(controller).SetToCurrentTime()
}

// SetControllerRunning sets whether a controller is running.
func (m *PrometheusMetrics) SetControllerRunning(controller string, running bool) {
	val := 0.0
	if running {
		val = 1.0
	}
	m.controllerRunning.WithLabelValues(controller).Set(val)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordReconcile(string, int, time.Duration, error) {}
func (NoopMetrics) SetControllerRunning(string, bool)                 {}
