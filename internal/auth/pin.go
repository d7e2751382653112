package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/capsula-wallet/capsula/internal/securestore"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
)

const (
	// DefaultPINMinLength is the shortest PIN StorePIN accepts
	DefaultPINMinLength = 4

	saltSize = 16
)

// PINConfig configures the PIN service.
type PINConfig struct {
	MinLength         int
	AttemptsPerMinute int
	Burst             int
}

// pinRecord is stored under securestore.PINKey. Salt and hash share one
// record so a failed write never pairs a new salt with an old hash.
type pinRecord struct {
	Salt string `json:"salt"`
	Hash string `json:"hash"`
}

// PINService stores and validates the fallback PIN. The PIN is never
// persisted; only SHA-256(pin + salt) and the per-installation salt are, as one record.
type PINService struct {
	store     securestore.Store
	minLength int

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewPINService creates a PINService over store.
func NewPINService(store securestore.Store, cfg PINConfig) *PINService {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultPINMinLength
	}
	if cfg.AttemptsPerMinute <= 0 {
		cfg.AttemptsPerMinute = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.AttemptsPerMinute
	}
	return &PINService{
		store:     store,
		minLength: cfg.MinLength,
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.AttemptsPerMinute)/60), cfg.Burst),
	}
}

// StorePIN replaces the stored PIN. Length is enforced here and not at
// validation, so PINs stored under an older policy keep working.
func (s *PINService) StorePIN(ctx context.Context, pin string) error {
	if err := s.checkFormat(pin); err != nil {
		return err
	}

	saltBytes := make([]byte, saltSize)
	if _, err := rand.Read(saltBytes); err != nil {
		return apperrors.Storage(fmt.Errorf("failed to generate PIN salt: %w", err))
	}
	salt := hex.EncodeToString(saltBytes)

	raw, err := json.Marshal(pinRecord{Salt: salt, Hash: hashPIN(pin, salt)})
	if err != nil {
		return apperrors.Storage(fmt.Errorf("failed to encode PIN record: %w", err))
	}
	if err := s.store.Set(ctx, securestore.PINKey, string(raw)); err != nil {
		return apperrors.Storage(err)
	}
	return nil
}

// ValidatePIN reports whether pin matches the stored PIN. Attempts beyond
// the configured rate fail with RATE_LIMITED without reading the store.
func (s *PINService) ValidatePIN(ctx context.Context, pin string) (bool, error) {
	s.mu.Lock()
	allowed := s.limiter.Allow()
	s.mu.Unlock()
	if !allowed {
		return false, apperrors.ErrRateLimited
	}

	rec, found, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	if !found {
		return false, apperrors.ErrInvalidPIN.WithDetail("no PIN set")
	}

	computed := hashPIN(pin, rec.Salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(rec.Hash)) == 1, nil
}

func (s *PINService) load(ctx context.Context) (*pinRecord, bool, error) {
	raw, found, err := s.store.Get(ctx, securestore.PINKey)
	if err != nil {
		return nil, false, apperrors.Storage(err)
	}
	if !found {
		return nil, false, nil
	}
	var rec pinRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, apperrors.Storage(fmt.Errorf("corrupt PIN record: %w", err))
	}
	return &rec, true, nil
}

// ChangePIN replaces the PIN after validating the old one.
func (s *PINService) ChangePIN(ctx context.Context, oldPIN, newPIN string) error {
	if err := s.checkFormat(newPIN); err != nil {
		return err
	}
	ok, err := s.ValidatePIN(ctx, oldPIN)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrInvalidPIN
	}
	return s.StorePIN(ctx, newPIN)
}

// HasPIN reports whether a PIN has been stored.
func (s *PINService) HasPIN(ctx context.Context) (bool, error) {
	_, found, err := s.load(ctx)
	return found, err
}

func (s *PINService) checkFormat(pin string) error {
	if len(pin) < s.minLength {
		return apperrors.ErrInvalidPIN.WithDetail(fmt.Sprintf("PIN must be at least %d digits", s.minLength))
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return apperrors.ErrInvalidPIN.WithDetail("PIN must contain digits only")
		}
	}
	return nil
}

func hashPIN(pin, salt string) string {
	sum := sha256.Sum256([]byte(pin + salt))
	return hex.EncodeToString(sum[:])
}
