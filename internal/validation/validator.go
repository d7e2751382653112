// Package validation checks transaction parameters before they reach the
// signer or the blockchain access facade.
package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/capsula-wallet/capsula/pkg/types"
)

// EthereumAddressPattern is the regex pattern for Ethereum addresses
var EthereumAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

const (
	// MinGasLimit is the intrinsic gas of a plain transfer
	MinGasLimit = 21000

	// MaxGasLimit caps a single transaction
	MaxGasLimit = 30000000

	// MaxDataSize is the largest calldata accepted, in bytes
	MaxDataSize = 128 * 1024
)

// maxGasPrice is 100000 Gwei
var maxGasPrice = new(big.Int).SetUint64(100000000000000)

// ValidateEthereumAddress validates an Ethereum address format
func ValidateEthereumAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !EthereumAddressPattern.MatchString(address) {
		return fmt.Errorf("invalid Ethereum address format: must be 0x followed by 40 hex characters")
	}

	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid Ethereum address")
	}

	// Prevent sending to zero address (common mistake)
	if strings.ToLower(address) == "0x0000000000000000000000000000000000000000" {
		return fmt.Errorf("cannot send to zero address")
	}

	return nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return fmt.Errorf("chain ID must be positive")
	}
	return nil
}

// ValidateData decodes 0x-prefixed calldata and checks its size.
func ValidateData(data string) ([]byte, error) {
	if data == "" || data == "0x" {
		return nil, nil
	}
	b, err := hexutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("data must be 0x-prefixed hex: %w", err)
	}
	if len(b) > MaxDataSize {
		return nil, fmt.Errorf("transaction data too large: %d bytes > %d bytes max", len(b), MaxDataSize)
	}
	return b, nil
}

// ValidateRequest checks a transaction request before gas estimation.
// An empty recipient is a contract deployment and requires data.
func ValidateRequest(req *types.TransactionRequest) error {
	data, err := ValidateData(req.Data)
	if err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	if req.To == "" {
		if len(data) == 0 {
			return fmt.Errorf("contract deployment requires data")
		}
	} else if err := ValidateEthereumAddress(req.To); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	if _, err := types.ParseWei(req.Value); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	if req.ChainID != 0 {
		if err := ValidateChainID(req.ChainID); err != nil {
			return fmt.Errorf("invalid chain ID: %w", err)
		}
	}
	return nil
}

// ValidateGasParameters validates gas-related parameters of a dynamic-fee transaction
func ValidateGasParameters(gasLimit uint64, gasFeeCap, gasTipCap *big.Int) error {
	if err := ValidateGasLimit(gasLimit); err != nil {
		return err
	}

	if gasFeeCap == nil {
		return fmt.Errorf("gas fee cap cannot be nil")
	}

	if gasTipCap == nil {
		return fmt.Errorf("gas tip cap cannot be nil")
	}

	if gasFeeCap.Sign() <= 0 {
		return fmt.Errorf("gas fee cap must be positive")
	}

	// Tip cannot exceed fee cap
	if gasTipCap.Cmp(gasFeeCap) > 0 {
		return fmt.Errorf("gas tip cap cannot exceed gas fee cap")
	}

	if gasFeeCap.Cmp(maxGasPrice) > 0 {
		return fmt.Errorf("gas fee cap too high: maximum 100000 Gwei")
	}

	return nil
}

// ValidateGasLimit checks gasLimit against MinGasLimit and MaxGasLimit.
func ValidateGasLimit(gasLimit uint64) error {
	if gasLimit == 0 {
		return fmt.Errorf("gas limit cannot be zero")
	}
	if gasLimit < MinGasLimit {
		return fmt.Errorf("gas limit too low: minimum %d for transfers", MinGasLimit)
	}
	if gasLimit > MaxGasLimit {
		return fmt.Errorf("gas limit too high: maximum %d", MaxGasLimit)
	}
	return nil
}

// ValidateUnsignedTransaction performs comprehensive validation of a
// transaction about to be signed.
func ValidateUnsignedTransaction(tx *types.UnsignedTransaction) error {
	if err := ValidateEthereumAddress(tx.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}

	if err := ValidateRequest(&types.TransactionRequest{
		To:      tx.To,
		Value:   tx.Value,
		Data:    tx.Data,
		ChainID: tx.ChainID,
	}); err != nil {
		return err
	}

	if err := ValidateChainID(tx.ChainID); err != nil {
		return fmt.Errorf("invalid chain ID: %w", err)
	}

	if tx.IsDynamicFee() {
		if tx.GasPrice != "" {
			return fmt.Errorf("gas price cannot be combined with max fee per gas")
		}
		feeCap, err := types.ParseWei(tx.MaxFeePerGas)
		if err != nil {
			return fmt.Errorf("invalid max fee per gas: %w", err)
		}
		tipCap, err := types.ParseWei(tx.MaxPriorityFeePerGas)
		if err != nil {
			return fmt.Errorf("invalid max priority fee per gas: %w", err)
		}
		if err := ValidateGasParameters(tx.GasLimit, feeCap, tipCap); err != nil {
			return fmt.Errorf("invalid gas parameters: %w", err)
		}
		return nil
	}

	if err := ValidateGasLimit(tx.GasLimit); err != nil {
		return fmt.Errorf("invalid gas parameters: %w", err)
	}
	if tx.GasPrice == "" {
		return fmt.Errorf("invalid gas parameters: gas price or max fee per gas is required")
	}
	gasPrice, err := types.ParseWei(tx.GasPrice)
	if err != nil {
		return fmt.Errorf("invalid gas price: %w", err)
	}
	if gasPrice.Sign() <= 0 {
		return fmt.Errorf("invalid gas parameters: gas price must be positive")
	}
	if gasPrice.Cmp(maxGasPrice) > 0 {
		return fmt.Errorf("invalid gas parameters: gas price too high: maximum 100000 Gwei")
	}

	return nil
}
