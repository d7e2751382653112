package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// TransactionRequest is what a caller asks to send, before gas estimation
// and nonce lookup. Value is a decimal wei amount.
type TransactionRequest struct {
	To      string `json:"to"`
	Value   string `json:"value,omitempty"`
	Data    string `json:"data,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`
}

// UnsignedTransaction is produced by gas estimation + nonce fetch and is the
// only input accepted for signing. Amounts are decimal wei strings.
type UnsignedTransaction struct {
	From                 string `json:"from"`
	To                   string `json:"to"`
	Value                string `json:"value"`
	Data                 string `json:"data,omitempty"`
	GasLimit             uint64 `json:"gas_limit"`
	GasPrice             string `json:"gas_price,omitempty"`
	MaxFeePerGas         string `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                uint64 `json:"nonce"`
	ChainID              int64  `json:"chain_id"`
}

// IsDynamicFee reports whether the transaction uses EIP-1559 fee fields.
func (tx *UnsignedTransaction) IsDynamicFee() bool {
	return tx.MaxFeePerGas != ""
}

// Signature holds the r, s, v components as 0x-prefixed hex.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V string `json:"v"`
}

// SignedTransaction extends an UnsignedTransaction with its signature. The
// embedded fields must be identical to the transaction that was authorized.
type SignedTransaction struct {
	UnsignedTransaction
	Signature Signature `json:"signature"`
	// RawTransaction is the RLP/typed envelope, 0x-prefixed hex.
	RawTransaction string `json:"raw_transaction"`
	Hash           string `json:"hash"`
}

// GasEstimate is returned by the blockchain access facade.
type GasEstimate struct {
	GasLimit             uint64 `json:"gas_limit"`
	GasPrice             string `json:"gas_price"`
	MaxFeePerGas         string `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas,omitempty"`
}

// ParseWei parses a decimal wei amount bounded to 256 bits. An empty string is zero.
func ParseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid wei amount %q: %w", s, err)
	}
	return v.ToBig(), nil
}

// FormatWei renders a wei amount as a decimal string.
func FormatWei(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
