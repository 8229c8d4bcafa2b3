package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/port/outbound"
)

const namespace = "ipcgate"

// Metrics holds all Prometheus metrics for the gate.
// It is the CallObserver and CallRecorder handed to connections.
type Metrics struct {
	CallsTotal           *prometheus.CounterVec
	CallDuration         *prometheus.HistogramVec
	DispatchTotal        *prometheus.CounterVec
	DispatchDuration     *prometheus.HistogramVec
	AdmissionsTotal      *prometheus.CounterVec
	ConnectionsActive    *prometheus.GaugeVec
	CapabilitiesExported prometheus.Gauge
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of outbound capability calls",
			},
			[]string{"interface", "method", "status"},
		),
		CallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Outbound call round trip in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
			},
			[]string{"interface", "method"},
		),
		DispatchTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of inbound calls served locally",
			},
			[]string{"interface", "method", "status"},
		),
		DispatchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent in local implementations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"interface", "method"},
		),
		AdmissionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Inbound call admission decisions",
			},
			[]string{"decision"}, // decision=allow/deny/rejected
		),
		ConnectionsActive: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_active",
				Help:      "Number of open connections",
			},
			[]string{"role"},
		),
		CapabilitiesExported: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "capabilities_exported",
				Help:      "Number of live exported capabilities",
			},
		),
		HTTPRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests to the operational endpoints",
			},
			[]string{"path", "status"}, // status=ok/error
		),
		HTTPRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}
}

// CallCompleted implements outbound.CallObserver.
func (m *Metrics) CallCompleted(iface, method, status string, d time.Duration) {
	m.CallsTotal.WithLabelValues(iface, method, status).Inc()
	m.CallDuration.WithLabelValues(iface, method).Observe(d.Seconds())
}

// DispatchCompleted implements outbound.CallObserver.
func (m *Metrics) DispatchCompleted(iface, method, status string, d time.Duration) {
	m.DispatchTotal.WithLabelValues(iface, method, status).Inc()
	m.DispatchDuration.WithLabelValues(iface, method).Observe(d.Seconds())
}

// ConnectionOpened implements outbound.CallObserver.
func (m *Metrics) ConnectionOpened(role string) {
	m.ConnectionsActive.WithLabelValues(role).Inc()
}

// ConnectionClosed implements outbound.CallObserver.
func (m *Metrics) ConnectionClosed(role string) {
	m.ConnectionsActive.WithLabelValues(role).Dec()
}

// ExportsChanged implements outbound.CallObserver.
func (m *Metrics) ExportsChanged(delta int) {
	m.CapabilitiesExported.Add(float64(delta))
}

// RecordCall implements proxy.CallRecorder.
func (m *Metrics) RecordCall(record proxy.CallRecord) {
	m.AdmissionsTotal.WithLabelValues(record.Decision).Inc()
}

var (
	_ outbound.CallObserver = (*Metrics)(nil)
	_ proxy.CallRecorder    = (*Metrics)(nil)
)
