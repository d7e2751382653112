package securestore

import (
	"context"
	"encoding/base64"
	"fmt"
)

// EncryptedStore wraps a Store so that every value is sealed by a
// KMSProvider before it is written. The store key is the seal binding, so a
// ciphertext copied under another key fails to open.
type EncryptedStore struct {
	inner    Store
	provider KMSProvider
}

// NewEncryptedStore creates an EncryptedStore over inner.
func NewEncryptedStore(inner Store, provider KMSProvider) *EncryptedStore {
	return &EncryptedStore{inner: inner, provider: provider}
}

// Get implements Store
func (s *EncryptedStore) Get(ctx context.Context, key string) (string, bool, error) {
	stored, found, err := s.inner.Get(ctx, key)
	if err != nil || !found {
		return "", found, err
	}

	sealed, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", false, fmt.Errorf("%w: corrupt value for %s: %v", ErrUnavailable, key, err)
	}

	plaintext, err := s.provider.Open(ctx, key, sealed)
	if err != nil {
		return "", false, fmt.Errorf("%w: open %s: %v", ErrUnavailable, key, err)
	}
	defer clear(plaintext)
	return string(plaintext), true, nil
}

// Set implements Store
func (s *EncryptedStore) Set(ctx context.Context, key, value string) error {
	plaintext := []byte(value)
	sealed, err := s.provider.Seal(ctx, key, plaintext)
	clear(plaintext)
	if err != nil {
		return fmt.Errorf("%w: seal %s: %v", ErrUnavailable, key, err)
	}
	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

// Delete implements Store
func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Provider returns the name of the KMS provider in use.
func (s *EncryptedStore) Provider() string {
	return s.provider.Provider()
}

var _ Store = (*EncryptedStore)(nil)
