// Package metrics exposes the Prometheus metrics of the gateway and the edge
// service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "envelope_gateway"

// Metrics holds every collector the process reports.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Rejections      *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	LogTypeReloads  prometheus.Counter
}

// New creates the metrics on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total number of forwarded requests",
			},
			[]string{"route", "method", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Time from receiving a request to the end of the upstream response",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "edge",
				Name:      "rejections_total",
				Help:      "Requests rejected before dispatch",
			},
			[]string{"reason"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "classified_total",
				Help:      "Failures turned into envelopes by the error boundary",
			},
			[]string{"boundary", "kind", "code"},
		),

		LogTypeReloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "log_type_reloads_total",
				Help:      "Hot reloads of the default access-log type",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.Rejections,
		m.ErrorsTotal,
		m.LogTypeReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one forwarded request. A nil receiver is a no-op.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unrouted"
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveRejection records a request refused before dispatch.
func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// ObserveError records a classified failure.
func (m *Metrics) ObserveError(boundary, kind, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(boundary, kind, code).Inc()
}

// ObserveLogTypeReload records a hot reload of the access-log default.
func (m *Metrics) ObserveLogTypeReload() {
	if m == nil {
		return
	}
	m.LogTypeReloads.Inc()
}
