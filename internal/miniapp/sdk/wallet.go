package sdk

import (
	"context"
	"fmt"

	"github.com/capsula-wallet/capsula/internal/chain"
	"github.com/capsula-wallet/capsula/internal/keymanager"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// WalletCapability exposes the active wallet. Reading, proposing, signing
// and broadcasting each need their own permission.
type WalletCapability struct {
	guard    *guard
	manifest *types.MiniAppManifest
	keys     KeyManager
	chain    chain.Facade
	networks Networks
}

func (*WalletCapability) Domain() Domain { return DomainWallet }
func (*WalletCapability) capability()    {}

// Methods implements Capability
func (*WalletCapability) Methods() []string {
	return []string{
		MethodWalletGetAddress,
		MethodWalletGetBalance,
		MethodWalletPrepareTransaction,
		MethodWalletSignTransaction,
		MethodWalletSignMessage,
		MethodWalletSendTransaction,
	}
}

// GetAddress returns the active wallet address.
func (c *WalletCapability) GetAddress(ctx context.Context) (types.Result[string], error) {
	if err := c.guard.check(ctx, MethodWalletGetAddress); err != nil {
		return types.Result[string]{}, err
	}
	ctx = c.guard.ctx(ctx, MethodWalletGetAddress)

	w := c.keys.ActiveWallet(ctx)
	if !w.Success {
		return fromResult[string](w), nil
	}
	return types.Ok(w.Data.Address), nil
}

// GetBalance returns the active wallet balance in wei on the active network.
func (c *WalletCapability) GetBalance(ctx context.Context) (types.Result[string], error) {
	if err := c.guard.check(ctx, MethodWalletGetBalance); err != nil {
		return types.Result[string]{}, err
	}
	ctx = c.guard.ctx(ctx, MethodWalletGetBalance)

	w := c.keys.ActiveWallet(ctx)
	if !w.Success {
		return fromResult[string](w), nil
	}
	chainID, appErr := c.chainFor(0)
	if appErr != nil {
		return types.Fail[string](appErr), nil
	}
	if c.chain == nil {
		return types.Fail[string](apperrors.ErrNetwork.WithDetail("no blockchain access configured")), nil
	}

	balance, err := c.chain.GetBalance(ctx, w.Data.Address, chainID)
	if err != nil {
		return types.Fail[string](apperrors.From(err, apperrors.ErrNetwork)), nil
	}
	return types.Ok(balance), nil
}

// PrepareTransaction estimates gas and fetches the nonce for req. It proposes
// a transaction for review and cannot sign it.
func (c *WalletCapability) PrepareTransaction(ctx context.Context, req types.TransactionRequest) (types.Result[*types.UnsignedTransaction], error) {
	if err := c.guard.check(ctx, MethodWalletPrepareTransaction); err != nil {
		return types.Result[*types.UnsignedTransaction]{}, err
	}
	ctx = c.guard.ctx(ctx, MethodWalletPrepareTransaction)

	chainID, appErr := c.chainFor(req.ChainID)
	if appErr != nil {
		return types.Fail[*types.UnsignedTransaction](appErr), nil
	}
	req.ChainID = chainID

	w := c.keys.ActiveWallet(ctx)
	if !w.Success {
		return fromResult[*types.UnsignedTransaction](w), nil
	}
	return c.keys.PrepareTransaction(ctx, w.Data.ID, &req), nil
}

// SignTransaction asks the key manager to sign tx, which prompts the user.
func (c *WalletCapability) SignTransaction(ctx context.Context, tx *types.UnsignedTransaction) (types.Result[keymanager.SignTransactionResult], error) {
	if err := c.guard.check(ctx, MethodWalletSignTransaction); err != nil {
		return types.Result[keymanager.SignTransactionResult]{}, err
	}
	ctx = c.guard.ctx(ctx, MethodWalletSignTransaction)

	if tx == nil {
		return types.Fail[keymanager.SignTransactionResult](apperrors.ErrInvalidTransaction.WithDetail("transaction is required")), nil
	}
	if _, appErr := c.chainFor(tx.ChainID); appErr != nil {
		return types.Fail[keymanager.SignTransactionResult](appErr), nil
	}

	w := c.keys.ActiveWallet(ctx)
	if !w.Success {
		return fromResult[keymanager.SignTransactionResult](w), nil
	}
	return c.keys.SignTransaction(ctx, w.Data.ID, tx), nil
}

// SignMessage asks the key manager for an EIP-191 signature of message.
func (c *WalletCapability) SignMessage(ctx context.Context, message string) (types.Result[keymanager.SignMessageResult], error) {
	if err := c.guard.check(ctx, MethodWalletSignMessage); err != nil {
		return types.Result[keymanager.SignMessageResult]{}, err
	}
	ctx = c.guard.ctx(ctx, MethodWalletSignMessage)

	w := c.keys.ActiveWallet(ctx)
	if !w.Success {
		return fromResult[keymanager.SignMessageResult](w), nil
	}
	return c.keys.SignMessage(ctx, w.Data.ID, []byte(message)), nil
}

// SendTransaction broadcasts a transaction the key manager signed.
func (c *WalletCapability) SendTransaction(ctx context.Context, signed *types.SignedTransaction) (types.Result[keymanager.SendTransactionResult], error) {
	if err := c.guard.check(ctx, MethodWalletSendTransaction); err != nil {
		return types.Result[keymanager.SendTransactionResult]{}, err
	}
	ctx = c.guard.ctx(ctx, MethodWalletSendTransaction)

	if signed == nil {
		return types.Fail[keymanager.SendTransactionResult](apperrors.ErrInvalidTransaction.WithDetail("signed transaction is required")), nil
	}
	if _, appErr := c.chainFor(signed.ChainID); appErr != nil {
		return types.Fail[keymanager.SendTransactionResult](appErr), nil
	}
	return c.keys.SendTransaction(ctx, signed), nil
}

// chainFor resolves chainID (0 means the active network) and requires the
// manifest to list it.
func (c *WalletCapability) chainFor(chainID int64) (int64, *apperrors.AppError) {
	if chainID == 0 && c.networks != nil {
		chainID = c.networks.ActiveChainID()
	}
	if !c.manifest.SupportsNetwork(chainID) {
		return 0, apperrors.ErrUnsupportedNetwork.WithDetail(fmt.Sprintf("chain %d is not declared by mini-app %s", chainID, c.manifest.ID))
	}
	return chainID, nil
}
