package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the audit service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Audit write metrics
	AuditEventsWrittenTotal *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter

	// Read-path metrics
	SearchDuration  prometheus.Histogram
	ExportRowsTotal prometheus.Counter

	// Retention metrics
	RetentionDeletedTotal prometheus.Counter

	// Request-context metrics
	LiveRequestContexts prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// creates a fresh one, which keeps tests isolated from each other.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audittrail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuditEventsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_events_written_total",
				Help: "Total number of audit entries persisted",
			},
			[]string{"action", "status"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_write_failures_total",
				Help: "Total number of failed audit writes",
			},
		),
		SearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audittrail_search_duration_seconds",
				Help:    "Audit log search duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ExportRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_export_rows_total",
				Help: "Total number of rows rendered by CSV export",
			},
		),
		RetentionDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_retention_deleted_total",
				Help: "Total number of audit entries deleted by the retention cleaner",
			},
		),
		LiveRequestContexts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audittrail_live_request_contexts",
				Help: "Number of request contexts currently registered in the context store",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuditEventsWrittenTotal,
		m.AuditWriteFailuresTotal,
		m.SearchDuration,
		m.ExportRowsTotal,
		m.RetentionDeletedTotal,
		m.LiveRequestContexts,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
