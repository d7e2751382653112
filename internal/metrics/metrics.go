// Package metrics exposes Prometheus collectors for the wallet core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors used across the core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	GateAttempts      *prometheus.CounterVec
	Operations        *prometheus.CounterVec
	PermissionDenials *prometheus.CounterVec
	ChainLatency      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		GateAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsula_gate_attempts_total",
				Help: "Authentication gate attempts by method and result",
			},
			[]string{"method", "result"},
		),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsula_keymanager_operations_total",
				Help: "Key manager operations by operation and result code",
			},
			[]string{"operation", "result"},
		),
		PermissionDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsula_sdk_permission_denials_total",
				Help: "Mini-app SDK calls refused for a missing permission",
			},
			[]string{"permission"},
		),
		ChainLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capsula_chain_request_duration_seconds",
				Help:    "Latency of blockchain access facade calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	for _, c := range []prometheus.Collector{m.GateAttempts, m.Operations, m.PermissionDenials, m.ChainLatency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// GateAttempt records one gate invocation.
func (m *Metrics) GateAttempt(method string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.GateAttempts.WithLabelValues(method, result).Inc()
}

// Operation records a key manager operation outcome. code is "ok" on success.
func (m *Metrics) Operation(op, code string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, code).Inc()
}

// PermissionDenied records an SDK permission refusal.
func (m *Metrics) PermissionDenied(permission string) {
	if m == nil {
		return
	}
	m.PermissionDenials.WithLabelValues(permission).Inc()
}

// ObserveChain records the latency of a facade call started at start.
func (m *Metrics) ObserveChain(method string, start time.Time) {
	if m == nil {
		return
	}
	m.ChainLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
