package securestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const localKeyInfo = "capsula/securestore/v1"

// LocalKMSProvider seals values with AES-256-GCM under a key derived by
// HKDF-SHA256 from the installation master secret. The binding is the GCM
// additional data.
type LocalKMSProvider struct {
	key []byte
}

// NewLocalKMSProvider derives the sealing key from masterKey. A 64-char hex
// string is used as raw key material; anything else is treated as a
// passphrase.
func NewLocalKMSProvider(masterKey string) (*LocalKMSProvider, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key is required for local KMS provider")
	}

	secret := []byte(masterKey)
	if raw, err := hex.DecodeString(masterKey); err == nil && len(raw) == 32 {
		secret = raw
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(localKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive local key: %w", err)
	}
	return &LocalKMSProvider{key: key}, nil
}

// Seal implements KMSProvider
func (p *LocalKMSProvider) Seal(_ context.Context, binding string, plaintext []byte) ([]byte, error) {
	return sealGCM(p.key, plaintext, []byte(binding))
}

// Open implements KMSProvider
func (p *LocalKMSProvider) Open(_ context.Context, binding string, sealed []byte) ([]byte, error) {
	return openGCM(p.key, sealed, []byte(binding))
}

// Provider implements KMSProvider
func (p *LocalKMSProvider) Provider() string {
	return string(KMSProviderLocal)
}
