package auth

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsula-wallet/capsula/internal/securestore"
	"github.com/capsula-wallet/capsula/internal/testutil"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
)

func newTestPINService(t *testing.T, cfg PINConfig) (*PINService, *securestore.LevelDBStore) {
	t.Helper()
	store := securestore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	if cfg.AttemptsPerMinute == 0 {
		cfg.AttemptsPerMinute = 60
		cfg.Burst = 100
	}
	return NewPINService(store, cfg), store
}

func TestPINService_StoreAndValidate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestPINService(t, PINConfig{})

	has, err := svc.HasPIN(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, svc.StorePIN(ctx, "1234"))

	has, err = svc.HasPIN(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	ok, err := svc.ValidatePIN(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.ValidatePIN(ctx, "4321")
	require.NoError(t, err)
	assert.False(t, ok)

	raw, found, err := store.Get(ctx, securestore.PINKey)
	require.NoError(t, err)
	require.True(t, found)
	var rec pinRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.NotContains(t, raw, "1234")
	assert.Len(t, rec.Salt, 2*saltSize)
	assert.Equal(t, hashPIN("1234", rec.Salt), rec.Hash)
}

func TestPINService_SaltChangesPerStore(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestPINService(t, PINConfig{})

	require.NoError(t, svc.StorePIN(ctx, "1234"))
	first, _, _ := store.Get(ctx, securestore.PINKey)
	require.NoError(t, svc.StorePIN(ctx, "1234"))
	second, _, _ := store.Get(ctx, securestore.PINKey)

	assert.NotEqual(t, first, second)
}

func TestPINService_StoreRejectsBadFormat(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPINService(t, PINConfig{})

	tests := []struct {
		name string
		pin  string
	}{
		{"too short", "123"},
		{"empty", ""},
		{"letters", "12ab"},
		{"spaces", "12 34"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.StorePIN(ctx, tt.pin)
			assert.ErrorIs(t, err, apperrors.ErrInvalidPIN)
		})
	}
}

func TestPINService_LengthEnforcedOnlyAtStore(t *testing.T) {
	ctx := context.Background()
	store := securestore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	old := NewPINService(store, PINConfig{MinLength: 4, AttemptsPerMinute: 60, Burst: 10})
	require.NoError(t, old.StorePIN(ctx, "1234"))

	stricter := NewPINService(store, PINConfig{MinLength: 6, AttemptsPerMinute: 60, Burst: 10})
	ok, err := stricter.ValidatePIN(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, stricter.StorePIN(ctx, "5678"), apperrors.ErrInvalidPIN)
}

func TestPINService_ValidateWithoutPIN(t *testing.T) {
	svc, _ := newTestPINService(t, PINConfig{})
	ok, err := svc.ValidatePIN(context.Background(), "1234")
	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPIN)
}

func TestPINService_RateLimited(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPINService(t, PINConfig{AttemptsPerMinute: 1, Burst: 3})
	require.NoError(t, svc.StorePIN(ctx, "1234"))

	for i := 0; i < 3; i++ {
		_, err := svc.ValidatePIN(ctx, "0000")
		require.NoError(t, err)
	}

	ok, err := svc.ValidatePIN(ctx, "1234")
	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestPINService_ChangePIN(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPINService(t, PINConfig{})
	require.NoError(t, svc.StorePIN(ctx, "1234"))

	assert.ErrorIs(t, svc.ChangePIN(ctx, "0000", "5678"), apperrors.ErrInvalidPIN)
	assert.ErrorIs(t, svc.ChangePIN(ctx, "1234", "56"), apperrors.ErrInvalidPIN)

	require.NoError(t, svc.ChangePIN(ctx, "1234", "567890"))
	ok, err := svc.ValidatePIN(ctx, "567890")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.ValidatePIN(ctx, "1234")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPINService_FailedChangeKeepsOldPIN(t *testing.T) {
	ctx := context.Background()
	inner := securestore.NewMemoryStore()
	t.Cleanup(func() { inner.Close() })
	store := &testutil.FailingStore{Store: inner}
	svc := NewPINService(store, PINConfig{AttemptsPerMinute: 60, Burst: 100})
	require.NoError(t, svc.StorePIN(ctx, "1234"))

	store.SetFailures("", securestore.PINKey, "")
	err := svc.ChangePIN(ctx, "1234", "5678")
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	store.SetFailures("", "", "")

	ok, err := svc.ValidatePIN(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.ValidatePIN(ctx, "5678")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPINService_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestPINService(t, PINConfig{})
	require.NoError(t, store.Set(ctx, securestore.PINKey, "not-json"))

	_, err := svc.ValidatePIN(ctx, "1234")
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}
