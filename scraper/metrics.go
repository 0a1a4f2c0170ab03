package scraper

import (
	"time"

	"github.com/aluiziolira/go-order-export/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for authentication and listing walks.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	PagesTotal      *prometheus.CounterVec
	OrdersTotal     *prometheus.CounterVec
	DuplicatesTotal *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	StopsTotal      *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_requests_total",
			Help: "Total HTTP requests issued, by phase.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exporter_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_pages_total",
			Help: "Listing pages fetched and extracted.",
		},
		[]string{"listing"},
	)
	orders := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_orders_accepted_total",
			Help: "New orders accepted during listing walks.",
		},
		[]string{"listing"},
	)
	duplicates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_duplicate_rows_total",
			Help: "Rows skipped because their order id was already known.",
		},
		[]string{"listing"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exporter_retries_total",
			Help: "Total number of page fetch retries.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_errors_total",
			Help: "Total number of errors by type.",
		},
		[]string{"error_type"},
	)
	stops := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_walk_stops_total",
			Help: "Listing walks ended, by stop reason.",
		},
		[]string{"listing", "reason"},
	)

	registry.MustRegister(requests, requestDuration, pages, orders, duplicates, retries, errorsTotal, stops)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		PagesTotal:      pages,
		OrdersTotal:     orders,
		DuplicatesTotal: duplicates,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		StopsTotal:      stops,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPage counts an extracted listing page.
func (m *Metrics) IncPage(kind models.ListingKind) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(string(kind)).Inc()
}

// AddOrders counts accepted orders.
func (m *Metrics) AddOrders(kind models.ListingKind, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OrdersTotal.WithLabelValues(string(kind)).Add(float64(n))
}

// AddDuplicates counts skipped duplicate rows.
func (m *Metrics) AddDuplicates(kind models.ListingKind, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DuplicatesTotal.WithLabelValues(string(kind)).Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncStop records why a walk ended.
func (m *Metrics) IncStop(kind models.ListingKind, reason models.StopReason) {
	if m == nil {
		return
	}
	m.StopsTotal.WithLabelValues(string(kind), string(reason)).Inc()
}
