package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/capsula-wallet/capsula/pkg/types"
)

// Mnemonic validation failures. Each names the stage that rejected the phrase.
var (
	ErrMnemonicWordCount  = errors.New("mnemonic must have 12 or 24 words")
	ErrMnemonicChecksum   = errors.New("mnemonic checksum mismatch")
	ErrMnemonicDerivation = errors.New("mnemonic derivation failed")
)

// Entropy sizes in bits for the supported phrase lengths.
const (
	Entropy12Words = 128
	Entropy24Words = 256
)

// MaxDeriveAccounts bounds DeriveAccounts.
const MaxDeriveAccounts = 100

// NormalizeMnemonic lowercases the phrase and collapses whitespace.
func NormalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// CheckMnemonic validates phrase and returns its normalized form. The
// returned error wraps one of ErrMnemonicWordCount, ErrMnemonicChecksum or
// ErrMnemonicDerivation.
func CheckMnemonic(phrase string) (string, error) {
	normalized := NormalizeMnemonic(phrase)
	words := strings.Fields(normalized)
	if len(words) != 12 && len(words) != 24 {
		return "", fmt.Errorf("%w: got %d", ErrMnemonicWordCount, len(words))
	}
	if !bip39.IsMnemonicValid(normalized) {
		return "", ErrMnemonicChecksum
	}
	material, err := DeriveFromMnemonic(normalized, types.DefaultDerivationPath)
	if err != nil {
		return "", err
	}
	if !common.IsHexAddress(material.Address) {
		return "", fmt.Errorf("%w: derived address %q", ErrMnemonicDerivation, material.Address)
	}
	return normalized, nil
}

// ValidateMnemonic reports whether phrase is a 12 or 24 word BIP39 phrase
// with a valid checksum that derives a wallet.
func ValidateMnemonic(phrase string) bool {
	_, err := CheckMnemonic(phrase)
	return err == nil
}

// GenerateMnemonic creates a new phrase from bits of system entropy.
func GenerateMnemonic(bits int) (string, error) {
	if bits != Entropy12Words && bits != Entropy24Words {
		return "", fmt.Errorf("unsupported entropy size %d", bits)
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	defer clear(entropy)
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to encode mnemonic: %w", err)
	}
	return mnemonic, nil
}

// GenerateRandomWallet creates a fresh 12-word wallet at the default path.
func GenerateRandomWallet() (*types.WalletMaterial, error) {
	mnemonic, err := GenerateMnemonic(Entropy12Words)
	if err != nil {
		return nil, err
	}
	return DeriveFromMnemonic(mnemonic, types.DefaultDerivationPath)
}

// DeriveFromMnemonic derives the key at path (BIP32/BIP44) from the BIP39
// seed of mnemonic with an empty passphrase. An empty path means the default.
func DeriveFromMnemonic(mnemonic, path string) (*types.WalletMaterial, error) {
	if path == "" {
		path = types.DefaultDerivationPath
	}
	derivationPath, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMnemonicDerivation, err)
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMnemonicChecksum, err)
	}
	defer clear(seed)

	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %v", ErrMnemonicDerivation, err)
	}
	for _, index := range derivationPath {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("%w: child %d: %v", ErrMnemonicDerivation, index, err)
		}
	}

	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMnemonicDerivation, err)
	}
	raw := ecPriv.Serialize()
	defer clear(raw)

	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMnemonicDerivation, err)
	}

	return materialFromKey(pk, mnemonic, derivationPath.String()), nil
}

// AccountPath returns the BIP44 Ethereum path of the account at index.
func AccountPath(index uint32) string {
	return fmt.Sprintf("m/44'/60'/0'/0/%d", index)
}

// DeriveAccounts derives the first count addresses of mnemonic along
// m/44'/60'/0'/0/i.
func DeriveAccounts(mnemonic string, count int) ([]*types.WalletMaterial, error) {
	if count <= 0 || count > MaxDeriveAccounts {
		return nil, fmt.Errorf("count must be between 1 and %d", MaxDeriveAccounts)
	}
	out := make([]*types.WalletMaterial, 0, count)
	for i := 0; i < count; i++ {
		m, err := DeriveFromMnemonic(mnemonic, AccountPath(uint32(i)))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// MaterialFromCredential recomputes wallet material from a stored credential,
// preferring the mnemonic when both secrets are present.
func MaterialFromCredential(cred *types.WalletCredential) (*types.WalletMaterial, error) {
	switch {
	case cred.HasMnemonic():
		return DeriveFromMnemonic(cred.Mnemonic, cred.DerivationPath)
	case cred.PrivateKey != "":
		return WalletFromPrivateKey(cred.PrivateKey)
	default:
		return nil, errors.New("credential holds no key material")
	}
}
