// Package middleware provides ready-made interceptors for the reactive
// runtime: Prometheus metrics and OpenTelemetry tracing over mutations
// and batches.
package middleware

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reflow-dev/reflow/pkg/reactive"
)

// MetricsConfig configures the Prometheus metrics interceptor.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "reflow").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for batch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics interceptor.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:   "reflow",
		Subsystem:   "",
		ConstLabels: nil,
		Buckets:     prometheus.DefBuckets,
		Registry:    prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus metrics for the runtime.
type metrics struct {
	mutationsTotal *prometheus.CounterVec
	vetoesTotal    *prometheus.CounterVec
	batchesTotal   prometheus.Counter
	batchDuration  prometheus.Histogram
	activeCells    prometheus.Gauge
	cellsCreated   prometheus.Counter
	cellsDisposed  prometheus.Counter
}

// globalMetrics is the singleton metrics instance, created on the first
// call to Prometheus(). Prometheus registration is process-global, so
// subsequent calls reuse it regardless of options.
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

// initMetrics initializes the Prometheus metrics.
func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		mutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "mutations_total",
			Help:        "Total number of cell mutations by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		vetoesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "vetoes_total",
			Help:        "Total number of vetoed mutations by cell label",
			ConstLabels: config.ConstLabels,
		}, []string{"label"}),

		batchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "batches_total",
			Help:        "Total number of outermost transactions",
			ConstLabels: config.ConstLabels,
		}),

		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "batch_duration_seconds",
			Help:        "Transaction body duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		activeCells: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_cells",
			Help:        "Number of live reactive values",
			ConstLabels: config.ConstLabels,
		}),

		cellsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cells_created_total",
			Help:        "Total number of reactive values created",
			ConstLabels: config.ConstLabels,
		}),

		cellsDisposed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cells_disposed_total",
			Help:        "Total number of reactive values disposed",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Prometheus creates an interceptor that collects Prometheus metrics
// for the reactive runtime.
//
// Metrics collected:
//   - reflow_mutations_total: Counter of mutations by outcome
//   - reflow_vetoes_total: Counter of vetoed mutations by cell label
//   - reflow_batches_total: Counter of outermost transactions
//   - reflow_batch_duration_seconds: Histogram of transaction duration
//   - reflow_active_cells: Gauge of live reactive values
//   - reflow_cells_created_total / reflow_cells_disposed_total
//
// Example:
//
//	reactive.DefaultRegistry().Register(
//	    middleware.Prometheus(middleware.WithNamespace("myapp")),
//	)
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) *reactive.Interceptor {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return &reactive.Interceptor{
		Name: "prometheus",
		Mutation: func(cell reactive.Observable, ch *reactive.Change, next func()) {
			next()
			if ch.Applied() {
				m.mutationsTotal.WithLabelValues("applied").Inc()
				return
			}
			m.mutationsTotal.WithLabelValues("vetoed").Inc()
			label := ch.Label()
			if label == "" {
				label = "unnamed"
			}
			m.vetoesTotal.WithLabelValues(label).Inc()
		},
		Batch: func(next func()) {
			start := time.Now()
			defer func() {
				m.batchDuration.Observe(time.Since(start).Seconds())
				m.batchesTotal.Inc()
			}()
			next()
		},
		Init: func(cell reactive.Observable) {
			m.activeCells.Inc()
			m.cellsCreated.Inc()
		},
		Dispose: func(cell reactive.Observable) {
			m.activeCells.Dec()
			m.cellsDisposed.Inc()
		},
	}
}

// Collector bundles the runtime metrics as one prometheus.Collector,
// so they can be registered on additional registries alongside other
// application metrics.
type Collector struct {
	inner []prometheus.Collector
}

// GetMetrics returns the global metrics collector. Returns nil if the
// Prometheus interceptor has not been initialized.
func GetMetrics() *Collector {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics == nil {
		return nil
	}
	return &Collector{
		inner: []prometheus.Collector{
			globalMetrics.mutationsTotal,
			globalMetrics.vetoesTotal,
			globalMetrics.batchesTotal,
			globalMetrics.batchDuration,
			globalMetrics.activeCells,
			globalMetrics.cellsCreated,
			globalMetrics.cellsDisposed,
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.inner {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.inner {
		m.Collect(ch)
	}
}
