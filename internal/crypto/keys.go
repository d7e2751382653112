// Package crypto produces and validates wallet key material. Functions here
// do no I/O apart from reading the system entropy source.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/capsula-wallet/capsula/pkg/types"
)

// ErrInvalidPrivateKey is returned for keys that are not 32 bytes of hex or
// fall outside the secp256k1 scalar range.
var ErrInvalidPrivateKey = errors.New("invalid private key")

// ParsePrivateKey parses a 64-hex-char key with an optional 0x prefix.
func ParsePrivateKey(key string) (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(key), "0x")
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: expected 64 hex characters, got %d", ErrInvalidPrivateKey, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	pk, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return pk, nil
}

// ValidatePrivateKey reports whether key can be used to construct a wallet.
func ValidatePrivateKey(key string) bool {
	_, err := ParsePrivateKey(key)
	return err == nil
}

// WalletFromPrivateKey builds wallet material for an imported private key.
// The result carries no mnemonic or derivation path.
func WalletFromPrivateKey(key string) (*types.WalletMaterial, error) {
	pk, err := ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}
	return materialFromKey(pk, "", ""), nil
}

// Address returns the checksummed address of a private key.
func Address(privateKey *ecdsa.PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(privateKey.PublicKey)
}

// PrivateKeyHex encodes a private key as 0x-prefixed hex.
func PrivateKeyHex(privateKey *ecdsa.PrivateKey) string {
	return hexutil.Encode(ethcrypto.FromECDSA(privateKey))
}

// PublicKeyHex encodes the uncompressed public key as 0x-prefixed hex.
func PublicKeyHex(privateKey *ecdsa.PrivateKey) string {
	return hexutil.Encode(ethcrypto.FromECDSAPub(&privateKey.PublicKey))
}

// AddressesEqual compares two hex addresses ignoring checksum case.
func AddressesEqual(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}

func materialFromKey(pk *ecdsa.PrivateKey, mnemonic, path string) *types.WalletMaterial {
	return &types.WalletMaterial{
		Mnemonic:       mnemonic,
		PrivateKey:     PrivateKeyHex(pk),
		Address:        Address(pk).Hex(),
		PublicKey:      PublicKeyHex(pk),
		DerivationPath: path,
	}
}
