package auth

import (
	"context"
	"errors"

	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/metrics"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
)

// PINPrompter asks the user for their PIN. ok is false when the user
// dismisses the prompt.
type PINPrompter interface {
	PromptPIN(ctx context.Context, message string) (pin string, ok bool, err error)
}

// Gate is the single authentication checkpoint used by the key manager.
// It prompts biometrics when the device supports them and falls back to the
// PIN otherwise. Each call is one atomic pass or fail.
type Gate struct {
	biometric *BiometricGate
	pins      *PINService
	prompter  PINPrompter
	session   *Session
	metrics   *metrics.Metrics
}

// NewGate creates a Gate. prompter may be nil when no PIN UI exists.
func NewGate(biometric *BiometricGate, pins *PINService, prompter PINPrompter, session *Session, m *metrics.Metrics) *Gate {
	return &Gate{biometric: biometric, pins: pins, prompter: prompter, session: session, metrics: m}
}

// IsBiometricSupported reports device biometric support.
func (g *Gate) IsBiometricSupported(ctx context.Context) bool {
	return g.biometric != nil && g.biometric.IsSupported(ctx)
}

// Session returns the session the gate updates.
func (g *Gate) Session() *Session {
	return g.session
}

// PINs returns the PIN service backing the fallback.
func (g *Gate) PINs() *PINService {
	return g.pins
}

// Authenticate runs one gate pass with message as the prompt text.
func (g *Gate) Authenticate(ctx context.Context, message string) Result {
	if g.IsBiometricSupported(ctx) {
		return g.biometric.Authenticate(ctx, message)
	}
	return g.authenticatePIN(ctx, message)
}

func (g *Gate) authenticatePIN(ctx context.Context, message string) Result {
	if g.pins == nil || g.prompter == nil {
		g.metrics.GateAttempt(MethodNone, false)
		return Result{Method: MethodNone, Error: "no authentication method available", Unavailable: true}
	}

	hasPIN, err := g.pins.HasPIN(ctx)
	if err != nil || !hasPIN {
		g.metrics.GateAttempt(MethodNone, false)
		return Result{Method: MethodNone, Error: "biometrics unavailable and no PIN set", Unavailable: true}
	}

	pin, ok, err := g.prompter.PromptPIN(ctx, message)
	if err != nil {
		logger.Warn(ctx, "PIN prompt failed", "error", err)
		g.metrics.GateAttempt(MethodPIN, false)
		return failed(MethodPIN, err.Error())
	}
	if !ok {
		g.metrics.GateAttempt(MethodPIN, false)
		return failed(MethodPIN, "authentication cancelled")
	}

	res := g.checkPIN(ctx, pin)
	g.metrics.GateAttempt(MethodPIN, res.Success)
	return res
}

// AuthenticateWithPIN validates a PIN supplied directly by the caller, as on
// the PIN-backed wallet creation path.
func (g *Gate) AuthenticateWithPIN(ctx context.Context, pin string) Result {
	if g.pins == nil {
		return Result{Method: MethodNone, Error: "PIN authentication not configured", Unavailable: true}
	}
	res := g.checkPIN(ctx, pin)
	g.metrics.GateAttempt(MethodPIN, res.Success)
	return res
}

func (g *Gate) checkPIN(ctx context.Context, pin string) Result {
	valid, err := g.pins.ValidatePIN(ctx, pin)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrCodeRateLimited {
			return failed(MethodPIN, "too many PIN attempts, try again later")
		}
		return failed(MethodPIN, err.Error())
	}
	if !valid {
		return failed(MethodPIN, "incorrect PIN")
	}
	if g.session != nil {
		g.session.MarkAuthenticated()
	}
	return Result{Success: true, Method: MethodPIN}
}
