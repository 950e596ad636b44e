// Package metrics holds the prometheus collectors shared by the device
// session and the signing orchestrator. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick results
const (
	TickUnreachable = "unreachable"
	TickSent        = "sent"
	TickError       = "error"
)

// Signing paths
const (
	PathLocal  = "local"
	PathDevice = "device"
	PathNoKey  = "no_key"
	PathFailed = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	deviceTicks    *prometheus.CounterVec
	deviceSessions *prometheus.CounterVec
	signed         *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deviceTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hwsign",
			Subsystem: "device",
			Name:      "ticks_total",
			Help:      "Device session ticks by result.",
		}, []string{"result"}),
		deviceSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hwsign",
			Subsystem: "device",
			Name:      "sessions_total",
			Help:      "Ended device sessions by outcome.",
		}, []string{"outcome"}),
		signed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hwsign",
			Name:      "signing_total",
			Help:      "Finalized pending transactions by signing path.",
		}, []string{"path"}),
	}
	m.registry.MustRegister(m.deviceTicks, m.deviceSessions, m.signed)
	return m
}

func (m *Metrics) ObserveTick(result string) {
	if m == nil {
		return
	}
	m.deviceTicks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSession(outcome string) {
	if m == nil {
		return
	}
	m.deviceSessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSigning(path string) {
	if m == nil {
		return
	}
	m.signed.WithLabelValues(path).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
