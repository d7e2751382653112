package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// KMSProvider seals secure-store values. binding is the store key the value
// is written under: a value sealed for one binding must fail to open under
// any other.
type KMSProvider interface {
	Seal(ctx context.Context, binding string, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, binding string, sealed []byte) ([]byte, error)

	// Provider returns the provider name ("local", "aws-kms" or "vault")
	Provider() string
}

// KMSProviderType names a supported provider.
type KMSProviderType string

const (
	// KMSProviderLocal derives an AES-256-GCM key from a per-installation master secret
	KMSProviderLocal KMSProviderType = "local"

	// KMSProviderAWSKMS wraps a fresh data key per value with AWS KMS
	KMSProviderAWSKMS KMSProviderType = "aws-kms"

	// KMSProviderVault seals values with the Vault Transit engine
	KMSProviderVault KMSProviderType = "vault"
)

// KMSConfig selects and configures a provider.
type KMSConfig struct {
	Provider string

	LocalMasterKey string

	AWSKMSKeyID  string
	AWSKMSRegion string

	VaultAddress      string
	VaultToken        string
	VaultTransitMount string
	VaultTransitKey   string
}

// NewKMSProvider builds the provider named by cfg.Provider.
func NewKMSProvider(ctx context.Context, cfg *KMSConfig) (KMSProvider, error) {
	switch p := KMSProviderType(cfg.Provider); p {
	case KMSProviderLocal, "":
		return NewLocalKMSProvider(cfg.LocalMasterKey)
	case KMSProviderAWSKMS:
		return NewAWSKMSProvider(ctx, cfg.AWSKMSKeyID, cfg.AWSKMSRegion)
	case KMSProviderVault:
		return NewVaultProvider(VaultConfig{
			Address:      cfg.VaultAddress,
			Token:        cfg.VaultToken,
			TransitMount: cfg.VaultTransitMount,
			TransitKey:   cfg.VaultTransitKey,
		})
	default:
		return nil, fmt.Errorf("unsupported KMS provider: %s (supported: %s, %s, %s)",
			p, KMSProviderLocal, KMSProviderAWSKMS, KMSProviderVault)
	}
}

// sealGCM encrypts plaintext under key with aad authenticated. The nonce is
// prepended to the output.
func sealGCM(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func openGCM(key, sealed, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

var (
	_ KMSProvider = (*LocalKMSProvider)(nil)
	_ KMSProvider = (*AWSKMSProvider)(nil)
	_ KMSProvider = (*VaultProvider)(nil)
)
