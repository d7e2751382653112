package keymanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capsula-wallet/capsula/internal/crypto"
	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/securestore"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// CreateWalletResult is returned by CreateWallet and CreateWalletWithPIN.
// Mnemonic is shown to the user once for backup.
type CreateWalletResult struct {
	Wallet   *types.Wallet `json:"wallet"`
	Mnemonic string        `json:"mnemonic"`
}

// ImportRequest carries exactly one of Mnemonic or PrivateKey.
type ImportRequest struct {
	Mnemonic   string `json:"mnemonic,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	// DerivationPath applies to mnemonics only; empty means m/44'/60'/0'/0/0.
	DerivationPath string `json:"derivation_path,omitempty"`
}

// ImportWalletResult is returned by ImportWallet.
type ImportWalletResult struct {
	Wallet *types.Wallet `json:"wallet"`
}

// ConsistencyReport lists wallets whose credential is missing and stored
// credentials no wallet references.
type ConsistencyReport struct {
	Orphaned  []string              `json:"orphaned_wallet_ids"`
	Dangling  []string              `json:"dangling_key_ref_ids"`
	Issues    []*apperrors.AppError `json:"issues"`
	Inspected int                   `json:"inspected"`
}

// Healthy reports whether the report found nothing.
func (r *ConsistencyReport) Healthy() bool {
	return len(r.Orphaned) == 0 && len(r.Dangling) == 0
}

// CreateWallet generates a new wallet protected by device biometrics. Devices
// without biometrics must use CreateWalletWithPIN.
func (m *Manager) CreateWallet(ctx context.Context, name string) (res types.Result[CreateWalletResult]) {
	ctx = logger.WithOperation(ctx, OpCreateWallet)
	defer observe(ctx, m, OpCreateWallet, &res)

	name, appErr := m.walletName(ctx, name)
	if appErr != nil {
		return types.Fail[CreateWalletResult](appErr)
	}

	if !m.gate.IsBiometricSupported(ctx) {
		return types.Fail[CreateWalletResult](apperrors.ErrBiometricUnavailable)
	}
	if appErr := m.authenticate(ctx, PromptCreateWallet); appErr != nil {
		return types.Fail[CreateWalletResult](appErr)
	}

	return m.createGenerated(ctx, name, true)
}

// CreateWalletWithPIN generates a new wallet on the PIN-backed path. The
// first call on a device stores pin; later calls must present the stored PIN.
func (m *Manager) CreateWalletWithPIN(ctx context.Context, name, pin string) (res types.Result[CreateWalletResult]) {
	ctx = logger.WithOperation(ctx, OpCreateWalletWithPIN)
	defer observe(ctx, m, OpCreateWalletWithPIN, &res)

	name, appErr := m.walletName(ctx, name)
	if appErr != nil {
		return types.Fail[CreateWalletResult](appErr)
	}

	pins := m.gate.PINs()
	if pins == nil {
		return types.Fail[CreateWalletResult](apperrors.ErrBiometricUnavailable.WithDetail("PIN authentication not configured"))
	}
	hasPIN, err := pins.HasPIN(ctx)
	if err != nil {
		return types.Fail[CreateWalletResult](apperrors.From(err, apperrors.ErrStorage))
	}
	if !hasPIN {
		if err := pins.StorePIN(ctx, pin); err != nil {
			return types.Fail[CreateWalletResult](apperrors.From(err, apperrors.ErrInvalidPIN))
		}
		logger.Info(ctx, "PIN set during wallet creation")
	}

	gateRes := m.gate.AuthenticateWithPIN(ctx, pin)
	if !gateRes.Success {
		return types.Fail[CreateWalletResult](apperrors.AuthenticationFailed(gateRes.Error))
	}

	return m.createGenerated(ctx, name, false)
}

func (m *Manager) createGenerated(ctx context.Context, name string, passkeyBacked bool) types.Result[CreateWalletResult] {
	material, err := crypto.GenerateRandomWallet()
	if err != nil {
		return types.Fail[CreateWalletResult](apperrors.ErrSigningFailed.WithDetail(err.Error()))
	}

	w, appErr := m.persist(ctx, material, name, passkeyBacked)
	if appErr != nil {
		return types.Fail[CreateWalletResult](appErr)
	}

	logger.Info(ctx, "wallet created", "wallet_id", w.ID, "address", w.Address, "passkey_backed", passkeyBacked)
	return types.Ok(CreateWalletResult{Wallet: w, Mnemonic: material.Mnemonic})
}

// ImportWallet stores an existing mnemonic or private key. Input is
// validated before any prompt. Devices with biometrics store a
// passkey-backed wallet, others fall back to the PIN gate.
func (m *Manager) ImportWallet(ctx context.Context, req ImportRequest, name string) (res types.Result[ImportWalletResult]) {
	ctx = logger.WithOperation(ctx, OpImportWallet)
	defer observe(ctx, m, OpImportWallet, &res)

	material, appErr := materialFromImport(req)
	if appErr != nil {
		return types.Fail[ImportWalletResult](appErr)
	}

	existing, err := m.wallets.GetByAddress(ctx, material.Address)
	if err != nil {
		return types.Fail[ImportWalletResult](apperrors.Storage(err))
	}
	if existing != nil {
		return types.Fail[ImportWalletResult](apperrors.ErrWalletExists.WithDetail(fmt.Sprintf("wallet_id: %s", existing.ID)))
	}

	name, appErr = m.walletName(ctx, name)
	if appErr != nil {
		return types.Fail[ImportWalletResult](appErr)
	}

	passkeyBacked := m.gate.IsBiometricSupported(ctx)
	if appErr := m.authenticate(ctx, PromptImportWallet); appErr != nil {
		return types.Fail[ImportWalletResult](appErr)
	}

	w, appErr := m.persist(ctx, material, name, passkeyBacked)
	if appErr != nil {
		return types.Fail[ImportWalletResult](appErr)
	}

	logger.Info(ctx, "wallet imported", "wallet_id", w.ID, "address", w.Address, "passkey_backed", passkeyBacked)
	return types.Ok(ImportWalletResult{Wallet: w})
}

func materialFromImport(req ImportRequest) (*types.WalletMaterial, *apperrors.AppError) {
	hasMnemonic := strings.TrimSpace(req.Mnemonic) != ""
	hasKey := strings.TrimSpace(req.PrivateKey) != ""

	switch {
	case hasMnemonic && hasKey:
		return nil, apperrors.ErrInvalidMnemonic.WithDetail("provide a mnemonic or a private key, not both")
	case hasMnemonic:
		normalized, err := crypto.CheckMnemonic(req.Mnemonic)
		if err != nil {
			return nil, mnemonicError(err)
		}
		material, err := crypto.DeriveFromMnemonic(normalized, req.DerivationPath)
		if err != nil {
			return nil, apperrors.ErrInvalidMnemonic.WithDetail("derivation_path")
		}
		return material, nil
	case hasKey:
		if !crypto.ValidatePrivateKey(req.PrivateKey) {
			return nil, apperrors.ErrInvalidPrivateKey
		}
		material, err := crypto.WalletFromPrivateKey(req.PrivateKey)
		if err != nil {
			return nil, apperrors.ErrInvalidPrivateKey
		}
		return material, nil
	default:
		return nil, apperrors.ErrInvalidMnemonic.WithDetail("mnemonic or private key is required")
	}
}

// mnemonicError names the rejecting stage in Detail.
func mnemonicError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, crypto.ErrMnemonicWordCount):
		return apperrors.ErrInvalidMnemonic.WithDetail("word_count")
	case errors.Is(err, crypto.ErrMnemonicChecksum):
		return apperrors.ErrInvalidMnemonic.WithDetail("checksum")
	default:
		return apperrors.ErrInvalidMnemonic.WithDetail("derivation")
	}
}

// persist writes the credential, the index entry and the metadata in that
// order, undoing earlier steps when a later one fails.
func (m *Manager) persist(ctx context.Context, material *types.WalletMaterial, name string, passkeyBacked bool) (*types.Wallet, *apperrors.AppError) {
	now := m.now().UTC()
	cred := &types.WalletCredential{
		ID:             uuid.NewString(),
		PrivateKey:     material.PrivateKey,
		Mnemonic:       material.Mnemonic,
		DerivationPath: material.DerivationPath,
		Address:        material.Address,
		CreatedAt:      now,
	}
	defer cred.Wipe()

	if err := m.writeCredential(ctx, cred); err != nil {
		return nil, apperrors.Storage(err)
	}
	if err := m.addToIndex(ctx, cred.ID); err != nil {
		m.discardCredential(ctx, cred.ID)
		return nil, apperrors.Storage(err)
	}

	w := &types.Wallet{
		ID:              uuid.NewString(),
		Name:            name,
		Address:         material.Address,
		PublicKey:       material.PublicKey,
		KeyRefID:        cred.ID,
		IsPasskeyBacked: passkeyBacked,
		DerivationPath:  material.DerivationPath,
		CreatedAt:       now,
	}
	if err := m.wallets.Save(ctx, w); err != nil {
		m.discardCredential(ctx, cred.ID)
		if idxErr := m.removeFromIndex(ctx, cred.ID); idxErr != nil {
			logger.Warn(ctx, "failed to roll back credential index", "key_ref_id", cred.ID, "error", idxErr)
		}
		return nil, apperrors.Storage(err)
	}

	activeID, err := m.settings.ActiveWalletID(ctx)
	if err != nil {
		logger.Warn(ctx, "failed to read active wallet", "error", err)
	} else if activeID == "" {
		if err := m.settings.SetActiveWalletID(ctx, w.ID); err != nil {
			logger.Warn(ctx, "failed to activate wallet", "wallet_id", w.ID, "error", err)
		} else {
			m.publishWalletChanged(ctx, w)
		}
	}

	return w, nil
}

func (m *Manager) discardCredential(ctx context.Context, keyRefID string) {
	if err := m.store.Delete(ctx, securestore.CredentialKey(keyRefID)); err != nil {
		logger.Error(ctx, "failed to roll back credential", "key_ref_id", keyRefID, "error", err)
	}
}

// walletName trims name and defaults it to "Wallet N".
func (m *Manager) walletName(ctx context.Context, name string) (string, *apperrors.AppError) {
	name = strings.TrimSpace(name)
	if name == "" {
		wallets, err := m.wallets.List(ctx)
		if err != nil {
			return "", apperrors.Storage(err)
		}
		return fmt.Sprintf("Wallet %d", len(wallets)+1), nil
	}
	if utf8.RuneCountInString(name) > MaxWalletNameLength {
		runes := []rune(name)
		name = string(runes[:MaxWalletNameLength])
	}
	return name, nil
}

// DeleteWallet removes the credential, then the metadata. When the
// credential cannot be removed the metadata is left untouched.
func (m *Manager) DeleteWallet(ctx context.Context, walletID string) (res types.Result[types.Empty]) {
	ctx = logger.WithOperation(ctx, OpDeleteWallet)
	defer observe(ctx, m, OpDeleteWallet, &res)

	w, appErr := m.getWallet(ctx, walletID)
	if appErr != nil {
		return types.Fail[types.Empty](appErr)
	}
	if appErr := m.authenticate(ctx, PromptDeleteWallet); appErr != nil {
		return types.Fail[types.Empty](appErr)
	}

	if err := m.store.Delete(ctx, securestore.CredentialKey(w.KeyRefID)); err != nil {
		return types.Fail[types.Empty](apperrors.Storage(err))
	}
	if err := m.removeFromIndex(ctx, w.KeyRefID); err != nil {
		logger.Warn(ctx, "failed to update credential index", "key_ref_id", w.KeyRefID, "error", err)
	}
	if err := m.wallets.Delete(ctx, w.ID); err != nil {
		return types.Fail[types.Empty](apperrors.Storage(err))
	}

	activeID, err := m.settings.ActiveWalletID(ctx)
	if err == nil && activeID == w.ID {
		m.activateFallback(ctx)
	}

	logger.Info(ctx, "wallet deleted", "wallet_id", w.ID)
	return types.Ok(types.Empty{})
}

// activateFallback activates the oldest remaining wallet, or none.
func (m *Manager) activateFallback(ctx context.Context) {
	wallets, err := m.wallets.List(ctx)
	if err != nil {
		logger.Warn(ctx, "failed to list wallets", "error", err)
		return
	}
	var next *types.Wallet
	nextID := ""
	if len(wallets) > 0 {
		next = wallets[0]
		nextID = next.ID
	}
	if err := m.settings.SetActiveWalletID(ctx, nextID); err != nil {
		logger.Warn(ctx, "failed to update active wallet", "error", err)
		return
	}
	m.publishWalletChanged(ctx, next)
}

// SwitchWallet makes walletID active. It touches metadata only and needs no
// authentication.
func (m *Manager) SwitchWallet(ctx context.Context, walletID string) (res types.Result[types.Empty]) {
	ctx = logger.WithOperation(ctx, OpSwitchWallet)
	defer observe(ctx, m, OpSwitchWallet, &res)

	w, appErr := m.getWallet(ctx, walletID)
	if appErr != nil {
		return types.Fail[types.Empty](appErr)
	}

	if err := m.settings.SetActiveWalletID(ctx, w.ID); err != nil {
		return types.Fail[types.Empty](apperrors.Storage(err))
	}

	accessed := m.now().UTC()
	w.LastAccessedAt = &accessed
	if err := m.wallets.Save(ctx, w); err != nil {
		logger.Warn(ctx, "failed to record wallet access", "wallet_id", w.ID, "error", err)
	}

	m.publishWalletChanged(ctx, w)
	return types.Ok(types.Empty{})
}

// ListWallets returns all wallet metadata, oldest first.
func (m *Manager) ListWallets(ctx context.Context) (res types.Result[[]*types.Wallet]) {
	ctx = logger.WithOperation(ctx, OpListWallets)
	defer observe(ctx, m, OpListWallets, &res)

	wallets, err := m.wallets.List(ctx)
	if err != nil {
		return types.Fail[[]*types.Wallet](apperrors.Storage(err))
	}
	return types.Ok(wallets)
}

// ActiveWallet returns the active wallet, WALLET_NOT_FOUND when none is set.
func (m *Manager) ActiveWallet(ctx context.Context) (res types.Result[*types.Wallet]) {
	ctx = logger.WithOperation(ctx, OpActiveWallet)
	defer observe(ctx, m, OpActiveWallet, &res)

	id, err := m.settings.ActiveWalletID(ctx)
	if err != nil {
		return types.Fail[*types.Wallet](apperrors.Storage(err))
	}
	if id == "" {
		return types.Fail[*types.Wallet](apperrors.ErrWalletNotFound.WithDetail("no active wallet"))
	}
	w, appErr := m.getWallet(ctx, id)
	if appErr != nil {
		return types.Fail[*types.Wallet](appErr)
	}
	return types.Ok(w)
}

// RenameWallet changes a wallet's display name.
func (m *Manager) RenameWallet(ctx context.Context, walletID, name string) (res types.Result[*types.Wallet]) {
	ctx = logger.WithOperation(ctx, OpRenameWallet)
	defer observe(ctx, m, OpRenameWallet, &res)

	w, appErr := m.getWallet(ctx, walletID)
	if appErr != nil {
		return types.Fail[*types.Wallet](appErr)
	}
	name, appErr = m.walletName(ctx, name)
	if appErr != nil {
		return types.Fail[*types.Wallet](appErr)
	}

	w.Name = name
	if err := m.wallets.Save(ctx, w); err != nil {
		return types.Fail[*types.Wallet](apperrors.Storage(err))
	}
	return types.Ok(w)
}

// CheckConsistency reports wallets whose credential is missing. Each one is
// an INCONSISTENT_STATE issue; such wallets need to be re-imported. Stored
// credentials no wallet references are listed as dangling.
func (m *Manager) CheckConsistency(ctx context.Context) (res types.Result[*ConsistencyReport]) {
	ctx = logger.WithOperation(ctx, OpCheckConsistency)
	defer observe(ctx, m, OpCheckConsistency, &res)

	wallets, err := m.wallets.List(ctx)
	if err != nil {
		return types.Fail[*ConsistencyReport](apperrors.Storage(err))
	}

	report := &ConsistencyReport{Inspected: len(wallets)}
	referenced := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		referenced[w.KeyRefID] = true
		_, found, err := m.store.Get(ctx, securestore.CredentialKey(w.KeyRefID))
		if err != nil {
			return types.Fail[*ConsistencyReport](apperrors.Storage(err))
		}
		if !found {
			report.Orphaned = append(report.Orphaned, w.ID)
			report.Issues = append(report.Issues, apperrors.ErrInconsistentState.WithDetail(fmt.Sprintf("wallet_id: %s", w.ID)))
		}
	}

	index, err := m.CredentialIndex(ctx)
	if err != nil {
		return types.Fail[*ConsistencyReport](apperrors.Storage(err))
	}
	for _, keyRefID := range index {
		if !referenced[keyRefID] {
			report.Dangling = append(report.Dangling, keyRefID)
		}
	}

	if !report.Healthy() {
		logger.Error(ctx, "inconsistent wallet state", "orphaned", len(report.Orphaned), "dangling", len(report.Dangling))
	}
	return types.Ok(report)
}
