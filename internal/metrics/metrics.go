// Package metrics exposes prometheus collectors for discovery and request
// dispatch.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/registry"
)

const namespace = "switchyard"

// Metrics holds the framework collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	Rejections       *prometheus.CounterVec
	Components       *prometheus.CounterVec
	DiscoveryErrors  *prometheus.CounterVec
	Routes           prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of dispatched requests",
			},
			[]string{"verb", "route", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Request dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"verb", "route"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Requests currently being dispatched",
			},
		),

		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rejections_total",
				Help:      "Requests stopped by a filter or interceptor",
			},
			[]string{"stage"},
		),

		Components: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "components_total",
				Help:      "Instances added to the registry",
			},
			[]string{"source"},
		),

		DiscoveryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "errors_total",
				Help:      "Discovery and wiring errors",
			},
			[]string{"kind", "code"},
		),

		Routes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "routing",
				Name:      "routes",
				Help:      "Routes in the route table",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.Rejections,
		m.Components,
		m.DiscoveryErrors,
		m.Routes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// EntryAdded implements registry.Observer.
func (m *Metrics) EntryAdded(e *registry.Entry) {
	m.Components.WithLabelValues(string(e.Source)).Inc()
}

// DiscoveryFailed implements registry.Observer.
func (m *Metrics) DiscoveryFailed(err *errors.FrameworkError) {
	m.DiscoveryErrors.WithLabelValues(string(err.Kind), err.Code).Inc()
}

// SetRoutes records the size of the route table.
func (m *Metrics) SetRoutes(n int) { m.Routes.Set(float64(n)) }

// RequestStarted marks a request in flight.
func (m *Metrics) RequestStarted() { m.RequestsInFlight.Inc() }

// RequestFinished records a completed request. route is the matched pattern,
// or empty when none matched.
func (m *Metrics) RequestFinished(verb, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.RequestsInFlight.Dec()
	m.RequestsTotal.WithLabelValues(verb, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(verb, route).Observe(d.Seconds())
}

// Rejected counts a request stopped at stage ("filter" or "interceptor").
func (m *Metrics) Rejected(stage string) {
	m.Rejections.WithLabelValues(stage).Inc()
}
