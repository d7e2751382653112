package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/metrics"
)

// Gate methods, used in results and metrics.
const (
	MethodBiometric = "biometric"
	MethodPIN       = "pin"
	MethodNone      = "none"
)

// DefaultPromptTimeout bounds a single platform prompt.
const DefaultPromptTimeout = 2 * time.Minute

// Biometrics is the platform adapter over the device's biometric APIs.
type Biometrics interface {
	HasHardware(ctx context.Context) (bool, error)
	IsEnrolled(ctx context.Context) (bool, error)

	// Prompt shows the system prompt. It returns false when the user
	// cancels, and an error for lockout or platform failures.
	Prompt(ctx context.Context, message string) (bool, error)
}

// Result is the outcome of one gate invocation. It never carries key material.
type Result struct {
	Success bool   `json:"success"`
	Method  string `json:"method"`
	Error   string `json:"error,omitempty"`

	// Unavailable is set when no authentication method could be offered.
	Unavailable bool `json:"unavailable,omitempty"`
}

func failed(method, reason string) Result {
	return Result{Success: false, Method: method, Error: reason}
}

func interrupted(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return failed(MethodBiometric, "authentication timed out")
	}
	return failed(MethodBiometric, "authentication cancelled")
}

// BiometricGate wraps the platform biometric prompt. Every Authenticate call
// resolves, including on cancellation, timeout, lockout or a platform panic.
type BiometricGate struct {
	platform Biometrics
	session  *Session
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// NewBiometricGate creates a BiometricGate. A nil platform is never supported.
func NewBiometricGate(platform Biometrics, session *Session, timeout time.Duration, m *metrics.Metrics) *BiometricGate {
	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}
	return &BiometricGate{platform: platform, session: session, timeout: timeout, metrics: m}
}

// IsSupported requires both hardware and an enrolled biometric.
func (g *BiometricGate) IsSupported(ctx context.Context) bool {
	if g.platform == nil {
		return false
	}
	hasHardware, err := g.platform.HasHardware(ctx)
	if err != nil || !hasHardware {
		return false
	}
	enrolled, err := g.platform.IsEnrolled(ctx)
	return err == nil && enrolled
}

// Authenticate shows the biometric prompt and updates the session on success.
func (g *BiometricGate) Authenticate(ctx context.Context, message string) Result {
	if g.platform == nil {
		return Result{Method: MethodBiometric, Error: "biometric authentication not available", Unavailable: true}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("biometric prompt panicked: %v", r)}
			}
		}()
		ok, err := g.platform.Prompt(ctx, message)
		done <- outcome{ok: ok, err: err}
	}()

	var res Result
	select {
	case <-ctx.Done():
		res = interrupted(ctx.Err())
	case o := <-done:
		switch {
		case o.err != nil && ctx.Err() != nil:
			res = interrupted(ctx.Err())
		case o.err != nil:
			logger.Warn(ctx, "biometric prompt failed", "error", o.err)
			res = failed(MethodBiometric, o.err.Error())
		case !o.ok:
			res = failed(MethodBiometric, "authentication cancelled")
		default:
			res = Result{Success: true, Method: MethodBiometric}
		}
	}

	if res.Success && g.session != nil {
		g.session.MarkAuthenticated()
	}
	g.metrics.GateAttempt(MethodBiometric, res.Success)
	return res
}
