// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
)

const defaultNamespace = "hooktrader"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Signal metrics
	SignalsTotal *prometheus.CounterVec

	// Lifecycle metrics
	ExitsApplied       *prometheus.CounterVec
	ActiveMonitors     prometheus.Gauge
	Capital            *prometheus.GaugeVec
	ProtectiveFailures *prometheus.CounterVec

	// Exchange metrics
	ExchangeRetries *prometheus.CounterVec

	// Journal metrics
	JournalErrors prometheus.Counter
}

// NewMetrics registers every metric on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "signals_total",
			Help:      "Signals handled by profile and outcome",
		}, []string{"profile", "outcome"}),

		ExitsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "exits_applied_total",
			Help:      "Exits realized against capital by kind",
		}, []string{"kind"}),
		ActiveMonitors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "active_monitors",
			Help:      "Exit monitors currently polling",
		}),
		Capital: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "capital_usd",
			Help:      "Virtual capital per profile and symbol",
		}, []string{"profile", "symbol"}),
		ProtectiveFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "protective_orders_abandoned_total",
			Help:      "TP/SL legs left unplaced after a non-retryable error",
		}, []string{"kind"}),

		ExchangeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "retries_total",
			Help:      "Retries after an overload response by policy",
		}, []string{"policy"}),

		JournalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "write_errors_total",
			Help:      "Exit records that could not be written",
		}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSignal counts a handled signal.
func (m *Metrics) ObserveSignal(profile, outcome string) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(profile, outcome).Inc()
}

// ObserveExit counts an exit and refreshes the capital gauge.
func (m *Metrics) ObserveExit(rec *domain.ExitRecord) {
	if m == nil || rec == nil {
		return
	}
	m.ExitsApplied.WithLabelValues(string(rec.Kind)).Inc()
	m.SetCapital(domain.Key{Profile: rec.Profile, Symbol: rec.Symbol}, rec.CapitalAfter)
}

// SetCapital records the capital of one ledger.
func (m *Metrics) SetCapital(key domain.Key, capital decimal.Decimal) {
	if m == nil {
		return
	}
	m.Capital.WithLabelValues(key.Profile, key.Symbol).Set(capital.InexactFloat64())
}

func (m *Metrics) ObserveRetry(policy string) {
	if m == nil {
		return
	}
	m.ExchangeRetries.WithLabelValues(policy).Inc()
}

func (m *Metrics) ObserveAbandoned(kind domain.ExitKind) {
	if m == nil {
		return
	}
	m.ProtectiveFailures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ObserveJournalError() {
	if m == nil {
		return
	}
	m.JournalErrors.Inc()
}

func (m *Metrics) MonitorStarted() {
	if m == nil {
		return
	}
	m.ActiveMonitors.Inc()
}

func (m *Metrics) MonitorStopped() {
	if m == nil {
		return
	}
	m.ActiveMonitors.Dec()
}
