package securestore

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

const defaultTransitMount = "transit"

// VaultConfig configures the Transit provider. The transit key must be an
// AEAD key type (aes256-gcm96 or chacha20-poly1305) so associated data is
// authenticated.
type VaultConfig struct {
	Address      string
	Token        string
	TransitMount string
	TransitKey   string
}

// VaultProvider seals values with the Vault Transit engine. The binding is
// sent as associated_data, so Transit rejects a ciphertext opened under a
// different store key.
type VaultProvider struct {
	logical    *vault.Logical
	mount      string
	transitKey string
}

// NewVaultProvider creates a Transit client for cfg.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	switch {
	case cfg.Address == "":
		return nil, fmt.Errorf("Vault address is required")
	case cfg.Token == "":
		return nil, fmt.Errorf("Vault token is required")
	case cfg.TransitKey == "":
		return nil, fmt.Errorf("Vault transit key name is required")
	}
	mount := strings.Trim(cfg.TransitMount, "/")
	if mount == "" {
		mount = defaultTransitMount
	}

	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &VaultProvider{logical: client.Logical(), mount: mount, transitKey: cfg.TransitKey}, nil
}

// Seal implements KMSProvider
func (p *VaultProvider) Seal(ctx context.Context, binding string, plaintext []byte) ([]byte, error) {
	ciphertext, err := p.transit(ctx, "encrypt", map[string]any{
		"plaintext":       base64.StdEncoding.EncodeToString(plaintext),
		"associated_data": base64.StdEncoding.EncodeToString([]byte(binding)),
	}, "ciphertext")
	if err != nil {
		return nil, err
	}
	return []byte(ciphertext), nil
}

// Open implements KMSProvider
func (p *VaultProvider) Open(ctx context.Context, binding string, sealed []byte) ([]byte, error) {
	encoded, err := p.transit(ctx, "decrypt", map[string]any{
		"ciphertext":      string(sealed),
		"associated_data": base64.StdEncoding.EncodeToString([]byte(binding)),
	}, "plaintext")
	if err != nil {
		return nil, err
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: bad plaintext encoding: %w", err)
	}
	return plaintext, nil
}

// Provider implements KMSProvider
func (p *VaultProvider) Provider() string {
	return string(KMSProviderVault)
}

// transit writes body to {mount}/{op}/{key} and returns the string field
// named want from the response data.
func (p *VaultProvider) transit(ctx context.Context, op string, body map[string]any, want string) (string, error) {
	path := fmt.Sprintf("%s/%s/%s", p.mount, op, p.transitKey)
	secret, err := p.logical.WriteWithContext(ctx, path, body)
	if err != nil {
		return "", fmt.Errorf("vault transit %s failed: %w", op, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault transit %s returned an empty response", op)
	}
	v, ok := secret.Data[want].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("vault transit %s: %s missing from response", op, want)
	}
	return v, nil
}
