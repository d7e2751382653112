package auth

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsula-wallet/capsula/internal/metrics"
	"github.com/capsula-wallet/capsula/internal/securestore"
	"github.com/capsula-wallet/capsula/internal/testutil"
)

type gateFixture struct {
	gate     *Gate
	platform *testutil.FakeBiometrics
	prompter *testutil.FakePINPrompter
	pins     *PINService
	session  *Session
	metrics  *metrics.Metrics
}

func newGateFixture(t *testing.T, biometrics bool) *gateFixture {
	t.Helper()
	store := securestore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	platform := testutil.NewFakeBiometrics()
	platform.Hardware = biometrics
	prompter := &testutil.FakePINPrompter{PIN: "1234"}
	session := NewSession(0, 0, nil)
	pins := NewPINService(store, PINConfig{AttemptsPerMinute: 60, Burst: 10})

	return &gateFixture{
		gate:     NewGate(NewBiometricGate(platform, session, time.Second, m), pins, prompter, session, m),
		platform: platform,
		prompter: prompter,
		pins:     pins,
		session:  session,
		metrics:  m,
	}
}

func TestGate_PrefersBiometrics(t *testing.T) {
	f := newGateFixture(t, true)
	require.NoError(t, f.pins.StorePIN(context.Background(), "1234"))

	res := f.gate.Authenticate(context.Background(), "Sign transaction")
	assert.True(t, res.Success)
	assert.Equal(t, MethodBiometric, res.Method)
	assert.Equal(t, 1, f.platform.PromptCount())
	assert.Equal(t, 0, f.prompter.PromptCount())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.GateAttempts.WithLabelValues(MethodBiometric, "success")))
}

func TestGate_BiometricFailureDoesNotFallBack(t *testing.T) {
	f := newGateFixture(t, true)
	require.NoError(t, f.pins.StorePIN(context.Background(), "1234"))
	f.platform.SetApprove(false)

	res := f.gate.Authenticate(context.Background(), "Sign transaction")
	assert.False(t, res.Success)
	assert.Equal(t, 0, f.prompter.PromptCount())
}

func TestGate_PINFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("correct PIN", func(t *testing.T) {
		f := newGateFixture(t, false)
		require.NoError(t, f.pins.StorePIN(ctx, "1234"))

		res := f.gate.Authenticate(ctx, "Sign transaction")
		assert.True(t, res.Success)
		assert.Equal(t, MethodPIN, res.Method)
		assert.Equal(t, 0, f.platform.PromptCount())
		assert.Equal(t, 1, f.prompter.PromptCount())
		assert.True(t, f.session.IsAuthenticated())
	})

	t.Run("wrong PIN", func(t *testing.T) {
		f := newGateFixture(t, false)
		require.NoError(t, f.pins.StorePIN(ctx, "9999"))

		res := f.gate.Authenticate(ctx, "Sign transaction")
		assert.False(t, res.Success)
		assert.Equal(t, "incorrect PIN", res.Error)
		assert.False(t, f.session.IsAuthenticated())
	})

	t.Run("prompt dismissed", func(t *testing.T) {
		f := newGateFixture(t, false)
		require.NoError(t, f.pins.StorePIN(ctx, "1234"))
		f.prompter.Cancel = true

		res := f.gate.Authenticate(ctx, "Sign transaction")
		assert.False(t, res.Success)
		assert.Equal(t, "authentication cancelled", res.Error)
	})

	t.Run("no PIN set", func(t *testing.T) {
		f := newGateFixture(t, false)

		res := f.gate.Authenticate(ctx, "Sign transaction")
		assert.False(t, res.Success)
		assert.True(t, res.Unavailable)
		assert.Equal(t, 0, f.prompter.PromptCount())
	})
}

func TestGate_AuthenticateWithPIN(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t, false)
	require.NoError(t, f.pins.StorePIN(ctx, "1234"))

	assert.True(t, f.gate.AuthenticateWithPIN(ctx, "1234").Success)
	assert.False(t, f.gate.AuthenticateWithPIN(ctx, "0000").Success)
	assert.Equal(t, 0, f.prompter.PromptCount())
}

func TestGate_RateLimitedPIN(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t, false)
	f.gate.pins = NewPINService(f.gate.pins.store, PINConfig{AttemptsPerMinute: 1, Burst: 1})
	require.NoError(t, f.gate.pins.StorePIN(ctx, "1234"))

	assert.False(t, f.gate.AuthenticateWithPIN(ctx, "0000").Success)
	res := f.gate.AuthenticateWithPIN(ctx, "1234")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "too many PIN attempts")
}
