package keymanager

import (
	"context"

	"github.com/capsula-wallet/capsula/internal/logger"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// ExportSeedPhraseResult is returned by ExportSeedPhrase.
type ExportSeedPhraseResult struct {
	Mnemonic string `json:"mnemonic"`
}

// ExportPrivateKeyResult is returned by ExportPrivateKey.
type ExportPrivateKeyResult struct {
	PrivateKey string `json:"private_key"`
}

// ExportSeedPhrase reveals the recovery phrase. It always prompts with its
// own message, even right after a signing pass.
func (m *Manager) ExportSeedPhrase(ctx context.Context, walletID string) (res types.Result[ExportSeedPhraseResult]) {
	ctx = logger.WithOperation(ctx, OpExportSeedPhrase)
	defer observe(ctx, m, OpExportSeedPhrase, &res)

	w, appErr := m.getWallet(ctx, walletID)
	if appErr != nil {
		return types.Fail[ExportSeedPhraseResult](appErr)
	}
	if appErr := m.authenticate(ctx, PromptExportSeedPhrase); appErr != nil {
		return types.Fail[ExportSeedPhraseResult](appErr)
	}

	cred, _, appErr := m.readCredential(ctx, w)
	if appErr != nil {
		return types.Fail[ExportSeedPhraseResult](appErr)
	}
	defer cred.Wipe()

	if !cred.HasMnemonic() {
		return types.Fail[ExportSeedPhraseResult](apperrors.ErrCredentialsNotFound.WithDetail("wallet was imported from a private key and has no recovery phrase"))
	}

	logger.Warn(ctx, "recovery phrase exported", "wallet_id", w.ID)
	return types.Ok(ExportSeedPhraseResult{Mnemonic: cred.Mnemonic})
}

// ExportPrivateKey reveals the account private key as 0x-prefixed hex.
func (m *Manager) ExportPrivateKey(ctx context.Context, walletID string) (res types.Result[ExportPrivateKeyResult]) {
	ctx = logger.WithOperation(ctx, OpExportPrivateKey)
	defer observe(ctx, m, OpExportPrivateKey, &res)

	w, appErr := m.getWallet(ctx, walletID)
	if appErr != nil {
		return types.Fail[ExportPrivateKeyResult](appErr)
	}
	if appErr := m.authenticate(ctx, PromptExportPrivateKey); appErr != nil {
		return types.Fail[ExportPrivateKeyResult](appErr)
	}

	cred, material, appErr := m.readCredential(ctx, w)
	if appErr != nil {
		return types.Fail[ExportPrivateKeyResult](appErr)
	}
	defer cred.Wipe()

	logger.Warn(ctx, "private key exported", "wallet_id", w.ID)
	return types.Ok(ExportPrivateKeyResult{PrivateKey: material.PrivateKey})
}
