package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.GateAttempt("biometric", true)
	m.GateAttempt("biometric", false)
	m.GateAttempt("pin", false)
	m.Operation("sign_transaction", "ok")
	m.PermissionDenied("transaction.sign")
	m.ObserveChain("estimate_gas", time.Now())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.GateAttempts.WithLabelValues("biometric", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GateAttempts.WithLabelValues("pin", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues("sign_transaction", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermissionDenials.WithLabelValues("transaction.sign")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ChainLatency))
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.GateAttempt("pin", true)
		m.Operation("x", "ok")
		m.PermissionDenied("ui")
		m.ObserveChain("x", time.Now())
	})
}
