package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brianhks/asterion/internal/persistence"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// Collector holds the Prometheus metrics of one process. Each collector
// owns its registry, so several can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	// Backend metrics
	DBOperations *prometheus.CounterVec
	DBDuration   *prometheus.HistogramVec

	// Bulk transfer metrics
	VerticesExported prometheus.Counter
	VerticesImported prometheus.Counter
	ExportFailures   prometheus.Counter
}

var _ persistence.Recorder = (*Collector)(nil)

// NewCollector creates a metrics collector with the given namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	dbOperations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_operations_total",
			Help:      "Total number of backing store operations",
		},
		[]string{"operation", "table", "status"},
	)

	dbDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_operation_duration_seconds",
			Help:      "Backing store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	verticesExported := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vertices_exported_total",
			Help:      "Total number of vertices written by export",
		},
	)

	verticesImported := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vertices_imported_total",
			Help:      "Total number of vertex records replayed by import",
		},
	)

	exportFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_failures_total",
			Help:      "Total number of vertices that could not be exported",
		},
	)

	registry.MustRegister(
		dbOperations,
		dbDuration,
		verticesExported,
		verticesImported,
		exportFailures,
	)

	return &Collector{
		registry:         registry,
		DBOperations:     dbOperations,
		DBDuration:       dbDuration,
		VerticesExported: verticesExported,
		VerticesImported: verticesImported,
		ExportFailures:   exportFailures,
	}
}

// RecordOperation implements persistence.Recorder. The status label is
// "success" or the lower-case error type.
func (c *Collector) RecordOperation(operation, table string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = statusOf(err)
	}
	c.DBOperations.WithLabelValues(operation, table, status).Inc()
	c.DBDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func statusOf(err error) string {
	switch appErrors.TypeOf(err) {
	case appErrors.ErrorTypeConnectivity:
		return "connectivity"
	case appErrors.ErrorTypeSchema:
		return "schema"
	case appErrors.ErrorTypeTimeout:
		return "timeout"
	case appErrors.ErrorTypeNotFound:
		return "not_found"
	case appErrors.ErrorTypeValidation:
		return "validation"
	default:
		return "error"
	}
}
