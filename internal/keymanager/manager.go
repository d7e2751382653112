// Package keymanager is the single authorization chokepoint for wallet
// custody. Every public method checks ownership, passes the authentication
// gate when the operation touches credentials, then reads or writes the
// secure store and returns a types.Result. Failures never escape as panics
// or bare errors.
package keymanager

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/capsula-wallet/capsula/internal/auth"
	"github.com/capsula-wallet/capsula/internal/chain"
	"github.com/capsula-wallet/capsula/internal/crypto"
	"github.com/capsula-wallet/capsula/internal/events"
	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/metrics"
	"github.com/capsula-wallet/capsula/internal/securestore"
	"github.com/capsula-wallet/capsula/internal/storage"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// Prompt texts shown by the gate. Exports use their own wording so the user
// can tell a reveal apart from a signature.
const (
	PromptCreateWallet     = "Authenticate to create a new wallet"
	PromptImportWallet     = "Authenticate to import wallet"
	PromptSignTransaction  = "Authenticate to sign transaction"
	PromptSignMessage      = "Authenticate to sign message"
	PromptExportSeedPhrase = "Authenticate to reveal your recovery phrase. Never share it with anyone."
	PromptExportPrivateKey = "Authenticate to reveal your private key. Never share it with anyone."
	PromptDeleteWallet     = "Authenticate to delete wallet"
)

// Operation names used in logs and metrics.
const (
	OpCreateWallet        = "create_wallet"
	OpCreateWalletWithPIN = "create_wallet_pin"
	OpImportWallet        = "import_wallet"
	OpPrepareTransaction  = "prepare_transaction"
	OpSignTransaction     = "sign_transaction"
	OpSendTransaction     = "send_transaction"
	OpSignMessage         = "sign_message"
	OpExportSeedPhrase    = "export_seed_phrase"
	OpExportPrivateKey    = "export_private_key"
	OpDeleteWallet        = "delete_wallet"
	OpSwitchWallet        = "switch_wallet"
	OpListWallets         = "list_wallets"
	OpActiveWallet        = "active_wallet"
	OpRenameWallet        = "rename_wallet"
	OpCheckConsistency    = "check_consistency"
)

// MaxWalletNameLength bounds wallet names in runes.
const MaxWalletNameLength = 64

// ActiveChain reports the chain used when a request names none.
type ActiveChain interface {
	ActiveChainID() int64
}

// Deps are the collaborators a Manager is constructed with.
type Deps struct {
	Store    securestore.Store
	Wallets  *storage.WalletRepository
	Settings *storage.SettingsRepository
	Gate     *auth.Gate
	Chain    chain.Facade
	Networks ActiveChain
	Bus      *events.Bus
	Metrics  *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns every WalletCredential record. It is the only writer of
// credentials and of the credential index.
type Manager struct {
	store    securestore.Store
	wallets  *storage.WalletRepository
	settings *storage.SettingsRepository
	gate     *auth.Gate
	chain    chain.Facade
	networks ActiveChain
	bus      *events.Bus
	metrics  *metrics.Metrics
	now      func() time.Time

	// indexMu serializes read-modify-write of the credential index.
	indexMu sync.Mutex
}

// New creates a Manager.
func New(d Deps) *Manager {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:    d.Store,
		wallets:  d.Wallets,
		settings: d.Settings,
		gate:     d.Gate,
		chain:    d.Chain,
		networks: d.Networks,
		bus:      d.Bus,
		metrics:  d.Metrics,
		now:      now,
	}
}

// Lock ends the authentication session.
func (m *Manager) Lock() {
	m.gate.Session().Lock()
}

// RequiresReauth reports whether the step-up window since the last gate
// pass has elapsed.
func (m *Manager) RequiresReauth() bool {
	return m.gate.Session().RequiresReauth()
}

// SessionState returns the current authentication session.
func (m *Manager) SessionState() auth.SessionState {
	return m.gate.Session().State()
}

// observe records the outcome of op and converts a panic into a failed result.
func observe[T any](ctx context.Context, m *Manager, op string, res *types.Result[T]) {
	if r := recover(); r != nil {
		logger.Error(ctx, "key manager operation panicked", "panic", fmt.Sprint(r))
		*res = types.Fail[T](apperrors.ErrStorage.WithDetail(fmt.Sprintf("internal failure: %v", r)))
	}

	code := "ok"
	if !res.Success {
		if res.Error == nil {
			res.Error = apperrors.ErrStorage
		}
		code = res.Error.Code
		logger.Warn(ctx, "key manager operation failed", "code", code, "detail", res.Error.Detail)
	} else {
		logger.Debug(ctx, "key manager operation completed")
	}
	m.metrics.Operation(op, code)
}

// authenticate runs one gate pass and translates its outcome.
func (m *Manager) authenticate(ctx context.Context, prompt string) *apperrors.AppError {
	res := m.gate.Authenticate(ctx, prompt)
	switch {
	case res.Success:
		return nil
	case res.Unavailable:
		return apperrors.ErrBiometricUnavailable.WithDetail(res.Error)
	default:
		return apperrors.AuthenticationFailed(res.Error)
	}
}

// getWallet loads wallet metadata, mapping absence to WALLET_NOT_FOUND.
func (m *Manager) getWallet(ctx context.Context, walletID string) (*types.Wallet, *apperrors.AppError) {
	if walletID == "" {
		return nil, apperrors.ErrWalletNotFound.WithDetail("wallet_id is required")
	}
	w, err := m.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if w == nil {
		return nil, apperrors.WalletNotFound(walletID)
	}
	return w, nil
}

// readCredential loads the credential behind w and recomputes its address.
// The caller must Wipe the credential when done.
func (m *Manager) readCredential(ctx context.Context, w *types.Wallet) (*types.WalletCredential, *types.WalletMaterial, *apperrors.AppError) {
	raw, found, err := m.store.Get(ctx, securestore.CredentialKey(w.KeyRefID))
	if err != nil {
		return nil, nil, apperrors.Storage(err)
	}
	if !found {
		logger.Error(ctx, "wallet has no credential", "wallet_id", w.ID, "key_ref_id", w.KeyRefID)
		return nil, nil, apperrors.ErrCredentialsNotFound.WithDetail(fmt.Sprintf("wallet_id: %s", w.ID))
	}

	var cred types.WalletCredential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, nil, apperrors.ErrStorage.WithDetail("credential record is corrupt")
	}

	material, err := crypto.MaterialFromCredential(&cred)
	if err != nil {
		cred.Wipe()
		return nil, nil, apperrors.ErrInconsistentState.WithDetail(fmt.Sprintf("wallet_id: %s: %v", w.ID, err))
	}
	if !crypto.AddressesEqual(material.Address, cred.Address) || !crypto.AddressesEqual(material.Address, w.Address) {
		cred.Wipe()
		logger.Error(ctx, "credential address mismatch", "wallet_id", w.ID, "address", w.Address)
		return nil, nil, apperrors.ErrInconsistentState.WithDetail(fmt.Sprintf("wallet_id: %s: derived address does not match", w.ID))
	}

	return &cred, material, nil
}

func (m *Manager) writeCredential(ctx context.Context, cred *types.WalletCredential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	defer clear(payload)
	return m.store.Set(ctx, securestore.CredentialKey(cred.ID), string(payload))
}

func (m *Manager) loadIndexLocked(ctx context.Context) ([]string, error) {
	raw, found, err := m.store.Get(ctx, securestore.CredentialIndexKey)
	if err != nil || !found {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("credential index is corrupt: %w", err)
	}
	return ids, nil
}

func (m *Manager) saveIndexLocked(ctx context.Context, ids []string) error {
	payload, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, securestore.CredentialIndexKey, string(payload))
}

func (m *Manager) addToIndex(ctx context.Context, keyRefID string) error {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()

	ids, err := m.loadIndexLocked(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(ids, keyRefID) {
		return nil
	}
	return m.saveIndexLocked(ctx, append(ids, keyRefID))
}

func (m *Manager) removeFromIndex(ctx context.Context, keyRefID string) error {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()

	ids, err := m.loadIndexLocked(ctx)
	if err != nil {
		return err
	}
	i := slices.Index(ids, keyRefID)
	if i < 0 {
		return nil
	}
	return m.saveIndexLocked(ctx, slices.Delete(ids, i, i+1))
}

// CredentialIndex returns the key reference IDs of every stored credential.
func (m *Manager) CredentialIndex(ctx context.Context) ([]string, error) {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	return m.loadIndexLocked(ctx)
}

func (m *Manager) publishWalletChanged(ctx context.Context, w *types.Wallet) {
	if m.bus == nil {
		return
	}
	payload := events.WalletChanged{}
	if w != nil {
		payload.WalletID = w.ID
		payload.Address = w.Address
	}
	m.bus.Publish(ctx, events.Event{
		Topic:   events.TopicWalletChanged,
		Source:  "keymanager",
		Payload: payload,
		At:      m.now(),
	})
}
