package types

import (
	"time"

	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
)

// DefaultDerivationPath is the BIP44 Ethereum path of the first account.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// RecordSchemaVersion is the schema version written with every persisted record.
const RecordSchemaVersion = 1

// Wallet is the non-sensitive wallet metadata kept in general app state.
// KeyRefID always resolves to exactly one WalletCredential in the secure store.
type Wallet struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Address         string     `json:"address"`
	PublicKey       string     `json:"public_key"`
	KeyRefID        string     `json:"key_ref_id"`
	IsPasskeyBacked bool       `json:"is_passkey_backed"`
	DerivationPath  string     `json:"derivation_path,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastAccessedAt  *time.Time `json:"last_accessed_at,omitempty"`
}

// WalletCredential is the secret record owned by the secure credential store.
// Address is recomputed from PrivateKey or Mnemonic on every read and must match.
type WalletCredential struct {
	ID             string    `json:"id"`
	PrivateKey     string    `json:"private_key,omitempty"`
	Mnemonic       string    `json:"mnemonic,omitempty"`
	DerivationPath string    `json:"derivation_path,omitempty"`
	Address        string    `json:"address"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasMnemonic reports whether the credential was created from a recovery phrase.
func (c *WalletCredential) HasMnemonic() bool {
	return c.Mnemonic != ""
}

// Wipe clears secret fields in place.
func (c *WalletCredential) Wipe() {
	c.PrivateKey = ""
	c.Mnemonic = ""
}

// Network describes an EVM chain the wallet can talk to.
type Network struct {
	ChainID     int64  `json:"chain_id"`
	Name        string `json:"name"`
	RPCURL      string `json:"rpc_url"`
	Symbol      string `json:"symbol"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	IsTestnet   bool   `json:"is_testnet"`
}

// WalletMaterial is the output of key derivation.
type WalletMaterial struct {
	Mnemonic       string `json:"-"`
	PrivateKey     string `json:"-"`
	Address        string `json:"address"`
	PublicKey      string `json:"public_key"`
	DerivationPath string `json:"derivation_path,omitempty"`
}

// Result is the discriminated result returned by every key manager and SDK
// operation. Exactly one of Data (Success=true) or Error (Success=false) is meaningful.
type Result[T any] struct {
	Success bool                `json:"success"`
	Data    T                   `json:"data,omitempty"`
	Error   *apperrors.AppError `json:"error,omitempty"`
}

// Ok wraps data in a successful Result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail wraps err in a failed Result.
func Fail[T any](err *apperrors.AppError) Result[T] {
	return Result[T]{Success: false, Error: err}
}

// Empty is the payload of results that carry no data.
type Empty struct{}
