// Package metrics defines the Prometheus collectors used by the producer and
// the worker and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SubmissionsTotal     *prometheus.CounterVec
	DeliveriesTotal      *prometheus.CounterVec
	DeliveryDuration     *prometheus.HistogramVec
	DeliveriesInFlight   prometheus.Gauge
	ExtractionLatency    *prometheus.HistogramVec
	ParseWarningsTotal   *prometheus.CounterVec
	RecordsStoredTotal   prometheus.Counter
	BrokerReconnects     prometheus.Counter
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submissions_total",
				Help: "Submissions by result (accepted, invalid, unavailable, error).",
			},
			[]string{"result"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliveries_total",
				Help: "Deliveries by final state (acked, nacked_requeue, nacked_discard).",
			},
			[]string{"state"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delivery_duration_seconds",
				Help:    "Time from receipt to acknowledgment of a delivery.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"state"},
		),
		DeliveriesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "deliveries_in_flight",
				Help: "Deliveries currently inside the processing handler (0 or 1 per worker).",
			},
		),
		ExtractionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extraction_latency_seconds",
				Help:    "Extraction service call latency by status.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		ParseWarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parse_warnings_total",
				Help: "Values or periods that could not be parsed, by field.",
			},
			[]string{"field"},
		),
		RecordsStoredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "records_stored_total",
				Help: "Structured records written to storage.",
			},
		),
		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "broker_reconnects_total",
				Help: "Broker connections re-established after a disconnect.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SubmissionsTotal,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.DeliveriesInFlight,
		m.ExtractionLatency,
		m.ParseWarningsTotal,
		m.RecordsStoredTotal,
		m.BrokerReconnects,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
