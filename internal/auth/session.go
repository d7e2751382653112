// Package auth implements the authentication gate that must pass before any
// credential read: platform biometrics first, a salted PIN as fallback, and
// the process-lifetime session those passes update.
package auth

import (
	"sync"
	"time"
)

// Default timer lengths.
const (
	DefaultSessionTTL   = 30 * time.Minute
	DefaultReauthWindow = 5 * time.Minute
)

// SessionState is a point-in-time copy of a Session.
type SessionState struct {
	IsAuthenticated   bool      `json:"is_authenticated"`
	SessionExpiry     time.Time `json:"session_expiry"`
	BiometricAuthTime time.Time `json:"biometric_auth_time"`
}

// Session tracks two independent timers: session liveness (TTL from the last
// full authentication) and the step-up window since the last gate pass.
// It holds no key material.
type Session struct {
	mu  sync.Mutex
	now func() time.Time

	ttl          time.Duration
	reauthWindow time.Duration

	authenticated     bool
	expiry            time.Time
	biometricAuthTime time.Time
}

// NewSession creates an unauthenticated session. A nil now uses time.Now.
func NewSession(ttl, reauthWindow time.Duration, now func() time.Time) *Session {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if reauthWindow <= 0 {
		reauthWindow = DefaultReauthWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Session{now: now, ttl: ttl, reauthWindow: reauthWindow}
}

// MarkAuthenticated records a successful gate pass.
func (s *Session) MarkAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.authenticated = true
	s.expiry = now.Add(s.ttl)
	s.biometricAuthTime = now
}

// IsAuthenticated reports whether the session is live (now < expiry).
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked()
}

// RequiresReauth reports whether more than the re-auth window has passed
// since the last gate pass, independent of session expiry. A session that
// never passed the gate always requires it.
func (s *Session) RequiresReauth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.biometricAuthTime.IsZero() {
		return true
	}
	return s.now().Sub(s.biometricAuthTime) > s.reauthWindow
}

// Lock ends the session explicitly.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = false
	s.expiry = time.Time{}
	s.biometricAuthTime = time.Time{}
}

// State returns a copy of the current session.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{
		IsAuthenticated:   s.liveLocked(),
		SessionExpiry:     s.expiry,
		BiometricAuthTime: s.biometricAuthTime,
	}
}

func (s *Session) liveLocked() bool {
	return s.authenticated && s.now().Before(s.expiry)
}
