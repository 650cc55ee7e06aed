// Package metrics provides Prometheus instrumentation for the action engine.
//
// Metrics owns a private registry so tests can build as many instances as
// they like. A nil *Metrics is valid and records nothing.
//
// Import Path: fleetd.io/fleetd/internal/pkg/metrics
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetd"

// Metrics holds the engine collectors.
type Metrics struct {
	registry *prometheus.Registry

	actionsTotal    *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	lockContention  prometheus.Counter
	policyChecks    *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	redeliveryTotal *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions that reached a terminal status",
		}, []string{"kind", "status"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Wall-clock duration of action execution",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"kind"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Lock acquisitions that found the target already locked",
		}),
		policyChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_checks_total",
			Help:      "Policy hook invocations by outcome",
		}, []string{"policy_type", "result"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Action notifications published",
		}, []string{"dispatcher"}),
		redeliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redelivery_total",
			Help:      "Action deliveries retried after lock contention",
		}, []string{"dispatcher"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.actionsTotal,
		m.actionDuration,
		m.lockContention,
		m.policyChecks,
		m.dispatchTotal,
		m.redeliveryTotal,
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ActionFinished records a terminal action status and its duration.
func (m *Metrics) ActionFinished(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(kind, status).Inc()
	m.actionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// LockContended records a failed lock acquisition.
func (m *Metrics) LockContended() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

// PolicyChecked records one policy hook outcome (ok, vetoed, check_error).
func (m *Metrics) PolicyChecked(policyType, result string) {
	if m == nil {
		return
	}
	m.policyChecks.WithLabelValues(policyType, result).Inc()
}

// Dispatched records a published notification.
func (m *Metrics) Dispatched(dispatcher string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(dispatcher).Inc()
}

// Redelivered records a redelivery after lock contention.
func (m *Metrics) Redelivered(dispatcher string) {
	if m == nil {
		return
	}
	m.redeliveryTotal.WithLabelValues(dispatcher).Inc()
}
