package keymanager

import (
	"context"
	"fmt"

	"github.com/capsula-wallet/capsula/internal/crypto"
	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/validation"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// SignTransactionResult is returned by SignTransaction.
type SignTransactionResult struct {
	SignedTransaction *types.SignedTransaction `json:"signed_transaction"`
	TransactionHash   string                   `json:"transaction_hash"`
	Signature         types.Signature          `json:"signature"`
}

// SendTransactionResult is returned by SendTransaction.
type SendTransactionResult struct {
	TransactionHash string `json:"transaction_hash"`
}

// SignMessageResult is returned by SignMessage.
type SignMessageResult struct {
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

// PrepareTransaction turns a request into an UnsignedTransaction by
// estimating gas and fetching the nonce. It reads no credential and needs no
// authentication.
func (m *Manager) PrepareTransaction(ctx context.Context, walletID string, req *types.TransactionRequest) (res types.Result[*types.UnsignedTransaction]) {
	ctx = logger.WithOperation(ctx, OpPrepareTransaction)
	defer observe(ctx, m, OpPrepareTransaction, &res)

	w, appErr := m.getWallet(ctx, walletID)
	if appErr != nil {
		return types.Fail[*types.UnsignedTransaction](appErr)
	}
	if req == nil {
		return types.Fail[*types.UnsignedTransaction](apperrors.ErrInvalidTransaction.WithDetail("transaction request is required"))
	}
	if err := validation.ValidateRequest(req); err != nil {
		return types.Fail[*types.UnsignedTransaction](apperrors.ErrInvalidTransaction.WithDetail(err.Error()))
	}
	if m.chain == nil {
		return types.Fail[*types.UnsignedTransaction](apperrors.ErrNetwork.WithDetail("no blockchain access configured"))
	}

	chainID := req.ChainID
	if chainID == 0 && m.networks != nil {
		chainID = m.networks.ActiveChainID()
	}
	if err := validation.ValidateChainID(chainID); err != nil {
		return types.Fail[*types.UnsignedTransaction](apperrors.ErrInvalidTransaction.WithDetail(err.Error()))
	}

	estimate, err := m.chain.EstimateGas(ctx, w.Address, req, chainID)
	if err != nil {
		return types.Fail[*types.UnsignedTransaction](networkError(err))
	}
	nonce, err := m.chain.GetTransactionCount(ctx, w.Address, chainID)
	if err != nil {
		return types.Fail[*types.UnsignedTransaction](networkError(err))
	}

	value := req.Value
	if value == "" {
		value = "0"
	}
	tx := &types.UnsignedTransaction{
		From:     w.Address,
		To:       req.To,
		Value:    value,
		Data:     req.Data,
		GasLimit: estimate.GasLimit,
		Nonce:    nonce,
		ChainID:  chainID,
	}
	if estimate.MaxFeePerGas != "" {
		tx.MaxFeePerGas = estimate.MaxFeePerGas
		tx.MaxPriorityFeePerGas = estimate.MaxPriorityFeePerGas
	} else {
		tx.GasPrice = estimate.GasPrice
	}

	if err := validation.ValidateUnsignedTransaction(tx); err != nil {
		return types.Fail[*types.UnsignedTransaction](apperrors.ErrInvalidTransaction.WithDetail(err.Error()))
	}
	return types.Ok(tx)
}

// SignTransaction signs tx with the wallet's key. Every call passes the gate
// and re-reads the credential; no decrypted key outlives the call.
func (m *Manager) SignTransaction(ctx context.Context, walletID string, tx *types.UnsignedTransaction) (res types.Result[SignTransactionResult]) {
	ctx = logger.WithOperation(ctx, OpSignTransaction)
	defer observe(ctx, m, OpSignTransaction, &res)

	w, appErr := m.getWallet(ctx, walletID)
	if appErr != nil {
		return types.Fail[SignTransactionResult](appErr)
	}
	if tx == nil {
		return types.Fail[SignTransactionResult](apperrors.ErrInvalidTransaction.WithDetail("transaction is required"))
	}
	unsigned := *tx
	if unsigned.From == "" {
		unsigned.From = w.Address
	}
	if !crypto.AddressesEqual(unsigned.From, w.Address) {
		return types.Fail[SignTransactionResult](apperrors.ErrInvalidTransaction.WithDetail("from does not match wallet address"))
	}
	if err := validation.ValidateUnsignedTransaction(&unsigned); err != nil {
		return types.Fail[SignTransactionResult](apperrors.ErrInvalidTransaction.WithDetail(err.Error()))
	}

	if appErr := m.authenticate(ctx, PromptSignTransaction); appErr != nil {
		return types.Fail[SignTransactionResult](appErr)
	}

	cred, material, appErr := m.readCredential(ctx, w)
	if appErr != nil {
		return types.Fail[SignTransactionResult](appErr)
	}
	defer cred.Wipe()

	privateKey, err := crypto.ParsePrivateKey(material.PrivateKey)
	if err != nil {
		return types.Fail[SignTransactionResult](apperrors.ErrSigningFailed.WithDetail(err.Error()))
	}
	signed, err := crypto.SignTransaction(&unsigned, privateKey)
	if err != nil {
		return types.Fail[SignTransactionResult](apperrors.ErrSigningFailed.WithDetail(err.Error()))
	}

	logger.Info(ctx, "transaction signed", "wallet_id", w.ID, "chain_id", unsigned.ChainID, "tx_hash", signed.Hash)
	return types.Ok(SignTransactionResult{
		SignedTransaction: signed,
		TransactionHash:   signed.Hash,
		Signature:         signed.Signature,
	})
}

// SendTransaction broadcasts a signed transaction. The raw envelope is
// checked against the embedded unsigned fields and signature first; any
// difference fails with SIGNING_FAILED and nothing is broadcast.
func (m *Manager) SendTransaction(ctx context.Context, signed *types.SignedTransaction) (res types.Result[SendTransactionResult]) {
	ctx = logger.WithOperation(ctx, OpSendTransaction)
	defer observe(ctx, m, OpSendTransaction, &res)

	if signed == nil {
		return types.Fail[SendTransactionResult](apperrors.ErrInvalidTransaction.WithDetail("signed transaction is required"))
	}
	w, err := m.wallets.GetByAddress(ctx, signed.From)
	if err != nil {
		return types.Fail[SendTransactionResult](apperrors.Storage(err))
	}
	if w == nil {
		return types.Fail[SendTransactionResult](apperrors.ErrWalletNotFound.WithDetail(fmt.Sprintf("address: %s", signed.From)))
	}

	if _, err := crypto.VerifySignedTransaction(signed); err != nil {
		logger.Error(ctx, "signed transaction does not match its authorized fields", "wallet_id", w.ID, "error", err)
		return types.Fail[SendTransactionResult](apperrors.ErrSigningFailed.WithDetail(err.Error()))
	}
	if m.chain == nil {
		return types.Fail[SendTransactionResult](apperrors.ErrNetwork.WithDetail("no blockchain access configured"))
	}

	hash, err := m.chain.BroadcastTransaction(ctx, signed.RawTransaction, signed.ChainID)
	if err != nil {
		return types.Fail[SendTransactionResult](networkError(err))
	}
	if hash != signed.Hash {
		logger.Warn(ctx, "node returned a different transaction hash", "expected", signed.Hash, "got", hash)
	}

	logger.Info(ctx, "transaction broadcast", "wallet_id", w.ID, "chain_id", signed.ChainID, "tx_hash", hash)
	return types.Ok(SendTransactionResult{TransactionHash: hash})
}

// SignMessage produces an EIP-191 personal_sign signature after a fresh gate pass.
func (m *Manager) SignMessage(ctx context.Context, walletID string, message []byte) (res types.Result[SignMessageResult]) {
	ctx = logger.WithOperation(ctx, OpSignMessage)
	defer observe(ctx, m, OpSignMessage, &res)

	w, appErr := m.getWallet(ctx, walletID)
	if appErr != nil {
		return types.Fail[SignMessageResult](appErr)
	}
	if appErr := m.authenticate(ctx, PromptSignMessage); appErr != nil {
		return types.Fail[SignMessageResult](appErr)
	}

	cred, material, appErr := m.readCredential(ctx, w)
	if appErr != nil {
		return types.Fail[SignMessageResult](appErr)
	}
	defer cred.Wipe()

	privateKey, err := crypto.ParsePrivateKey(material.PrivateKey)
	if err != nil {
		return types.Fail[SignMessageResult](apperrors.ErrSigningFailed.WithDetail(err.Error()))
	}
	sig, err := crypto.SignMessage(message, privateKey)
	if err != nil {
		return types.Fail[SignMessageResult](apperrors.ErrSigningFailed.WithDetail(err.Error()))
	}
	return types.Ok(SignMessageResult{Signature: sig, Address: w.Address})
}

// networkError keeps AppErrors from the facade and reports anything else as
// a retryable NETWORK_ERROR.
func networkError(err error) *apperrors.AppError {
	return apperrors.From(err, apperrors.ErrNetwork)
}
