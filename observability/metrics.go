// Package observability provides the host's Prometheus metrics and
// OpenTelemetry tracing helpers.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig holds configuration for the metrics collector.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
	Path      string `yaml:"path" json:"path"`
	Enabled   bool   `yaml:"enabled" json:"enabled"`
}

// DefaultMetricsConfig returns the default configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "nodehost",
		Path:      "/metrics",
		Enabled:   true,
	}
}

// Metrics wraps the Prometheus collectors for capability invocation.
// Every method is safe to call on a nil *Metrics.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	Providers          *prometheus.GaugeVec
	ProvidersTotal     prometheus.Gauge
	ContractViolations *prometheus.CounterVec
}

// NewMetrics creates the collectors on their own Prometheus registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem

	m := &Metrics{
		config:   cfg,
		registry: reg,
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "capability_invocations_total",
			Help:      "Total number of capability invocations",
		}, []string{"capability", "plugin", "status"}),
		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "capability_invocation_duration_seconds",
			Help:      "Duration of capability invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capability", "plugin"}),
		Providers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "capability_providers",
			Help:      "Number of registered providers per capability",
		}, []string{"capability"}),
		ProvidersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "registered_providers",
			Help:      "Number of registered providers across all capabilities",
		}),
		ContractViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "contract_violations_total",
			Help:      "Total number of rejected implementations",
		}, []string{"capability", "source"}),
	}

	reg.MustRegister(m.Invocations, m.InvocationDuration, m.Providers, m.ProvidersTotal, m.ContractViolations)
	return m
}

// RecordInvocation records the outcome and duration of one invocation.
func (m *Metrics) RecordInvocation(capabilityName, plugin, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(capabilityName, plugin, status).Inc()
	m.InvocationDuration.WithLabelValues(capabilityName, plugin).Observe(d.Seconds())
}

// SetProviders sets the provider gauge for a capability.
func (m *Metrics) SetProviders(capabilityName string, n int) {
	if m == nil {
		return
	}
	m.Providers.WithLabelValues(capabilityName).Set(float64(n))
}

// SetTotalProviders sets the gauge of providers across all capabilities.
func (m *Metrics) SetTotalProviders(n int) {
	if m == nil {
		return
	}
	m.ProvidersTotal.Set(float64(n))
}

// RecordViolation counts a rejected implementation. source is "static" or
// "dynamic".
func (m *Metrics) RecordViolation(capabilityName, source string) {
	if m == nil {
		return
	}
	m.ContractViolations.WithLabelValues(capabilityName, source).Inc()
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Path returns the configured metrics path.
func (m *Metrics) Path() string {
	if m == nil || m.config.Path == "" {
		return "/metrics"
	}
	return m.config.Path
}

// Handler returns an HTTP handler serving this collector's metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
