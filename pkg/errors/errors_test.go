package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without detail",
			err: &AppError{
				Code:    ErrCodeAuthenticationRequired,
				Message: "Authentication required",
			},
			expected: "AUTHENTICATION_REQUIRED: Authentication required",
		},
		{
			name: "error with detail",
			err: &AppError{
				Code:    ErrCodeInvalidMnemonic,
				Message: "Invalid recovery phrase",
				Detail:  "word_count",
			},
			expected: "INVALID_MNEMONIC: Invalid recovery phrase (word_count)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNew(t *testing.T) {
	err := New("TEST_CODE", "Test message")

	assert.Equal(t, "TEST_CODE", err.Code)
	assert.Equal(t, "Test message", err.Message)
	assert.Empty(t, err.Detail)
	assert.False(t, err.Retryable)
}

func TestWithDetail_DoesNotMutateTemplate(t *testing.T) {
	derived := ErrWalletNotFound.WithDetail("wallet_id: abc")

	assert.Equal(t, "wallet_id: abc", derived.Detail)
	assert.Empty(t, ErrWalletNotFound.Detail)
	assert.Equal(t, ErrCodeWalletNotFound, derived.Code)
}

func TestAppError_Is(t *testing.T) {
	err := fmt.Errorf("sign: %w", WalletNotFound("w1"))

	assert.True(t, errors.Is(err, ErrWalletNotFound))
	assert.False(t, errors.Is(err, ErrCredentialsNotFound))
}

func TestRetryableKinds(t *testing.T) {
	assert.True(t, ErrNetwork.Retryable)
	assert.True(t, ErrAuthenticationRequired.Retryable)
	assert.False(t, ErrWalletNotFound.Retryable)
	assert.False(t, ErrCredentialsNotFound.Retryable)
}

func TestFrom(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, From(nil, nil))
	})

	t.Run("app error passes through", func(t *testing.T) {
		src := ErrSigningFailed.WithDetail("bad key")
		got := From(fmt.Errorf("wrapped: %w", src), ErrStorage)
		assert.Same(t, src, got)
	})

	t.Run("plain error uses fallback", func(t *testing.T) {
		got := From(errors.New("dial tcp: timeout"), ErrNetwork)
		require.NotNil(t, got)
		assert.Equal(t, ErrCodeNetworkError, got.Code)
		assert.Equal(t, "dial tcp: timeout", got.Detail)
		assert.True(t, got.Retryable)
	})

	t.Run("nil fallback means storage error", func(t *testing.T) {
		got := From(errors.New("locked"), nil)
		assert.Equal(t, ErrCodeStorageError, got.Code)
	})
}

func TestPermissionError(t *testing.T) {
	err := NewPermissionError("transaction.sign", "swap")

	assert.Equal(t, ErrCodePermissionDenied, err.Code)
	assert.Contains(t, err.Error(), "transaction.sign")
	assert.Contains(t, err.Error(), "swap")

	got, ok := IsPermissionError(fmt.Errorf("sdk: %w", err))
	require.True(t, ok)
	assert.Equal(t, "swap", got.MiniAppID)

	_, ok = IsPermissionError(ErrStorage)
	assert.False(t, ok)
}
