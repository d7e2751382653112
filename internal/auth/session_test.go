package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSession_RequiresReauth(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"4 minutes since gate pass", 4 * time.Minute, false},
		{"exactly 5 minutes", 5 * time.Minute, false},
		{"6 minutes since gate pass", 6 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			s := NewSession(DefaultSessionTTL, DefaultReauthWindow, clock.Now)
			s.MarkAuthenticated()
			clock.Advance(tt.elapsed)

			assert.Equal(t, tt.want, s.RequiresReauth())
			assert.True(t, s.IsAuthenticated(), "session TTL is independent of the re-auth window")
		})
	}
}

func TestSession_NeverAuthenticated(t *testing.T) {
	s := NewSession(0, 0, nil)
	assert.False(t, s.IsAuthenticated())
	assert.True(t, s.RequiresReauth())
}

func TestSession_Expiry(t *testing.T) {
	clock := newFakeClock()
	s := NewSession(30*time.Minute, 5*time.Minute, clock.Now)
	s.MarkAuthenticated()

	clock.Advance(29 * time.Minute)
	assert.True(t, s.IsAuthenticated())

	clock.Advance(time.Minute)
	assert.False(t, s.IsAuthenticated())
	assert.False(t, s.State().IsAuthenticated)
}

func TestSession_Lock(t *testing.T) {
	clock := newFakeClock()
	s := NewSession(DefaultSessionTTL, DefaultReauthWindow, clock.Now)
	s.MarkAuthenticated()

	state := s.State()
	assert.True(t, state.IsAuthenticated)
	assert.Equal(t, clock.Now(), state.BiometricAuthTime)
	assert.Equal(t, clock.Now().Add(DefaultSessionTTL), state.SessionExpiry)

	s.Lock()
	assert.False(t, s.IsAuthenticated())
	assert.True(t, s.RequiresReauth())
}
