package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/capsula-wallet/capsula/pkg/types"
)

// ErrTransactionMismatch is returned when a signed transaction no longer
// matches the unsigned fields it was produced from.
var ErrTransactionMismatch = errors.New("signed transaction does not match its unsigned fields")

// BuildTransaction converts an UnsignedTransaction into a go-ethereum
// transaction. Dynamic-fee fields select an EIP-1559 envelope, otherwise a
// legacy (EIP-155) one.
func BuildTransaction(u *types.UnsignedTransaction) (*ethtypes.Transaction, error) {
	var to *common.Address
	if u.To != "" {
		if !common.IsHexAddress(u.To) {
			return nil, fmt.Errorf("invalid recipient address %q", u.To)
		}
		addr := common.HexToAddress(u.To)
		to = &addr
	}

	value, err := types.ParseWei(u.Value)
	if err != nil {
		return nil, err
	}

	var data []byte
	if u.Data != "" && u.Data != "0x" {
		data, err = hexutil.Decode(u.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction data: %w", err)
		}
	}

	if u.IsDynamicFee() {
		feeCap, err := types.ParseWei(u.MaxFeePerGas)
		if err != nil {
			return nil, err
		}
		tipCap, err := types.ParseWei(u.MaxPriorityFeePerGas)
		if err != nil {
			return nil, err
		}
		return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   big.NewInt(u.ChainID),
			Nonce:     u.Nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       u.GasLimit,
			To:        to,
			Value:     value,
			Data:      data,
		}), nil
	}

	gasPrice, err := types.ParseWei(u.GasPrice)
	if err != nil {
		return nil, err
	}
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    u.Nonce,
		GasPrice: gasPrice,
		Gas:      u.GasLimit,
		To:       to,
		Value:    value,
		Data:     data,
	}), nil
}

// SignTransaction signs u with privateKey for u.ChainID.
func SignTransaction(u *types.UnsignedTransaction, privateKey *ecdsa.PrivateKey) (*types.SignedTransaction, error) {
	tx, err := BuildTransaction(u)
	if err != nil {
		return nil, err
	}

	signer := ethtypes.LatestSignerForChainID(big.NewInt(u.ChainID))
	signed, err := ethtypes.SignTx(tx, signer, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	v, r, s := signed.RawSignatureValues()
	return &types.SignedTransaction{
		UnsignedTransaction: *u,
		Signature: types.Signature{
			R: hexutil.EncodeBig(r),
			S: hexutil.EncodeBig(s),
			V: hexutil.EncodeBig(v),
		},
		RawTransaction: hexutil.Encode(raw),
		Hash:           signed.Hash().Hex(),
	}, nil
}

// DecodeRawTransaction decodes a 0x-prefixed typed or legacy envelope.
func DecodeRawTransaction(raw string) (*ethtypes.Transaction, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid raw transaction: %w", err)
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("invalid raw transaction: %w", err)
	}
	return tx, nil
}

// VerifySignedTransaction checks that the raw envelope in signed encodes
// exactly the embedded unsigned fields, carries the embedded signature,
// hashes to signed.Hash and was signed by signed.From.
func VerifySignedTransaction(signed *types.SignedTransaction) (*ethtypes.Transaction, error) {
	decoded, err := DecodeRawTransaction(signed.RawTransaction)
	if err != nil {
		return nil, err
	}

	expected, err := BuildTransaction(&signed.UnsignedTransaction)
	if err != nil {
		return nil, err
	}

	signer := ethtypes.LatestSignerForChainID(big.NewInt(signed.ChainID))
	if signer.Hash(expected) != signer.Hash(decoded) {
		return nil, fmt.Errorf("%w: payload differs", ErrTransactionMismatch)
	}

	v, r, s := decoded.RawSignatureValues()
	if hexutil.EncodeBig(r) != signed.Signature.R ||
		hexutil.EncodeBig(s) != signed.Signature.S ||
		hexutil.EncodeBig(v) != signed.Signature.V {
		return nil, fmt.Errorf("%w: signature differs", ErrTransactionMismatch)
	}

	if decoded.Hash().Hex() != signed.Hash {
		return nil, fmt.Errorf("%w: hash differs", ErrTransactionMismatch)
	}

	sender, err := ethtypes.Sender(signer, decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionMismatch, err)
	}
	if !AddressesEqual(sender.Hex(), signed.From) {
		return nil, fmt.Errorf("%w: signed by %s, expected %s", ErrTransactionMismatch, sender.Hex(), signed.From)
	}

	return decoded, nil
}

// SignMessage produces an EIP-191 personal_sign signature (65 bytes, v in {27,28}).
func SignMessage(message []byte, privateKey *ecdsa.PrivateKey) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(message), privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// RecoverMessageSigner returns the address that produced an EIP-191 signature.
func RecoverMessageSigner(message []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	sig = bytes.Clone(sig)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
