// Package metrics holds the Prometheus collectors of the payment engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "payment"

// Result labels.
const (
	ResultApplied  = "applied"
	ResultReplayed = "replayed"
	ResultConflict = "conflict"
	ResultAnomaly  = "anomaly"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultOK       = "ok"
)

type Metrics struct {
	// kind: success|failure|pending|cancelled|unknown
	CallbacksTotal *prometheus.CounterVec
	// result: ok|config_error|provider_error|invalid
	InitiationsTotal *prometheus.CounterVec
	// hook: success|failure, result: ok|error
	HookInvocationsTotal *prometheus.CounterVec
	// result: ok|declined|unsupported|error
	RefundsTotal      *prometheus.CounterVec
	ReconcileDuration *prometheus.HistogramVec
	TransitionsTotal  *prometheus.CounterVec
}

// New builds the collectors and registers them with reg. A nil reg leaves
// them unregistered, which suits tests that only read values back.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callbacks_total",
				Help:      "Provider callbacks by provider, outcome kind and result.",
			},
			[]string{"provider", "kind", "result"},
		),
		InitiationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "initiations_total",
				Help:      "Payment initiations by provider and result.",
			},
			[]string{"provider", "result"},
		),
		HookInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_invocations_total",
				Help:      "Merchant hook invocations by hook kind and result.",
			},
			[]string{"hook", "result"},
		),
		RefundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refunds_total",
				Help:      "Refund attempts by provider and result.",
			},
			[]string{"provider", "result"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of callback reconciliation in seconds.",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"provider"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transitions_total",
				Help:      "Order status transitions by target status.",
			},
			[]string{"to"},
		),
	}
	if reg != nil {
		m.register(reg)
	}
	return m
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.CallbacksTotal,
		m.InitiationsTotal,
		m.HookInvocationsTotal,
		m.RefundsTotal,
		m.ReconcileDuration,
		m.TransitionsTotal,
	)
}

func (m *Metrics) Callback(provider, kind, result string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.CallbacksTotal.WithLabelValues(provider, kind, result).Inc()
}

func (m *Metrics) Initiation(provider, result string) {
	if m == nil {
		return
	}
	m.InitiationsTotal.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Hook(hook, result string) {
	if m == nil {
		return
	}
	m.HookInvocationsTotal.WithLabelValues(hook, result).Inc()
}

func (m *Metrics) Refund(provider, result string) {
	if m == nil {
		return
	}
	m.RefundsTotal.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(to).Inc()
}

// ObserveReconcile records the time since start.
func (m *Metrics) ObserveReconcile(provider string, start time.Time) {
	if m == nil {
		return
	}
	m.ReconcileDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}
