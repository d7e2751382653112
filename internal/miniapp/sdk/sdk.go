// Package sdk builds the capability objects handed to mini-apps. Each
// capability checks the mini-app's declared permissions before it touches
// the key manager, the blockchain facade, storage or the event bus.
package sdk

import (
	"context"
	"fmt"

	"github.com/capsula-wallet/capsula/internal/chain"
	"github.com/capsula-wallet/capsula/internal/events"
	"github.com/capsula-wallet/capsula/internal/keymanager"
	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/metrics"
	"github.com/capsula-wallet/capsula/internal/storage"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// KeyManager is the subset of keymanager.Manager mini-apps can reach.
type KeyManager interface {
	ActiveWallet(ctx context.Context) types.Result[*types.Wallet]
	PrepareTransaction(ctx context.Context, walletID string, req *types.TransactionRequest) types.Result[*types.UnsignedTransaction]
	SignTransaction(ctx context.Context, walletID string, tx *types.UnsignedTransaction) types.Result[keymanager.SignTransactionResult]
	SendTransaction(ctx context.Context, signed *types.SignedTransaction) types.Result[keymanager.SendTransactionResult]
	SignMessage(ctx context.Context, walletID string, message []byte) types.Result[keymanager.SignMessageResult]
}

// Networks is the subset of network.Service mini-apps can reach.
type Networks interface {
	List() []types.Network
	Get(chainID int64) (types.Network, error)
	Active() types.Network
	ActiveChainID() int64
	Switch(ctx context.Context, chainID int64) error
}

// Domain names a capability family.
type Domain string

// Capability domains
const (
	DomainWallet  Domain = "wallet"
	DomainNetwork Domain = "network"
	DomainUI      Domain = "ui"
	DomainStorage Domain = "storage"
	DomainEvents  Domain = "events"
)

// Capability is implemented only by the capability types in this package.
type Capability interface {
	Domain() Domain
	// Methods lists the SDK methods the capability exposes.
	Methods() []string
	capability()
}

// Deps are the collaborators shared by every SDK instance.
type Deps struct {
	KeyManager KeyManager
	Chain      chain.Facade
	Networks   Networks
	Backend    storage.Backend
	Sessions   *SessionStore
	Bus        *events.Bus
	Presenter  Presenter
	Metrics    *metrics.Metrics
}

// SDK is the set of capabilities of one mini-app instance.
type SDK struct {
	manifest types.MiniAppManifest
	perms    PermissionSet

	Wallet  *WalletCapability
	Network *NetworkCapability
	UI      *UICapability
	Storage *StorageCapability
	Events  *EventsCapability
}

// New builds the SDK for manifest. The manifest is copied; later changes to
// it do not change what the SDK grants.
func New(manifest *types.MiniAppManifest, d Deps) (*SDK, error) {
	if manifest == nil || manifest.ID == "" {
		return nil, apperrors.ErrInvalidManifest.WithDetail("manifest id is required")
	}
	if events.IsReservedNamespace(manifest.ID) {
		return nil, apperrors.ErrInvalidManifest.WithDetail(fmt.Sprintf("id %q is reserved", manifest.ID))
	}
	perms, err := NewPermissionSet(manifest.Permissions)
	if err != nil {
		return nil, err
	}

	m := *manifest
	m.Permissions = append([]string(nil), manifest.Permissions...)
	m.Networks = append([]int64(nil), manifest.Networks...)

	g := &guard{miniAppID: m.ID, perms: perms, metrics: d.Metrics}

	local, err := newPersistentArea(d.Backend, m.ID)
	if err != nil {
		return nil, err
	}
	sessions := d.Sessions
	if sessions == nil {
		sessions = NewSessionStore()
	}

	s := &SDK{manifest: m, perms: perms}
	s.Wallet = &WalletCapability{guard: g, manifest: &s.manifest, keys: d.KeyManager, chain: d.Chain, networks: d.Networks}
	s.Network = &NetworkCapability{guard: g, manifest: &s.manifest, networks: d.Networks}
	s.UI = &UICapability{guard: g, presenter: d.Presenter, keys: d.KeyManager}
	s.Storage = &StorageCapability{
		Local:   &StorageArea{guard: g, kv: local},
		Session: &StorageArea{guard: g, kv: sessions.partition(m.ID)},
	}
	s.Events = &EventsCapability{guard: g, bus: d.Bus}

	logger.Debug(logger.WithMiniAppID(context.Background(), m.ID), "mini-app SDK created", "permissions", perms.List())
	return s, nil
}

// MiniAppID returns the ID of the mini-app the SDK serves.
func (s *SDK) MiniAppID() string {
	return s.manifest.ID
}

// Permissions returns the granted permission set.
func (s *SDK) Permissions() PermissionSet {
	return s.perms
}

// Capabilities returns every capability of the SDK.
func (s *SDK) Capabilities() []Capability {
	return []Capability{s.Wallet, s.Network, s.UI, s.Storage, s.Events}
}

// Close removes the mini-app's event subscriptions.
func (s *SDK) Close() {
	s.Events.unsubscribeAll()
}

// guard performs the permission check shared by every capability.
type guard struct {
	miniAppID string
	perms     PermissionSet
	metrics   *metrics.Metrics
}

// check returns a PermissionError naming the first missing permission.
func (g *guard) check(ctx context.Context, method string) error {
	required, ok := methodPermissions[method]
	if !ok {
		return fmt.Errorf("unknown SDK method %q", method)
	}
	for _, p := range required {
		if !g.perms.Has(p) {
			g.metrics.PermissionDenied(string(p))
			logger.Warn(logger.WithMiniAppID(ctx, g.miniAppID), "mini-app permission denied", "method", method, "permission", string(p))
			return apperrors.NewPermissionError(string(p), g.miniAppID)
		}
	}
	return nil
}

func (g *guard) ctx(ctx context.Context, method string) context.Context {
	return logger.WithOperation(logger.WithMiniAppID(ctx, g.miniAppID), method)
}

// fromResult carries a failed result of one type into another.
func fromResult[T, U any](r types.Result[U]) types.Result[T] {
	if r.Error == nil {
		return types.Fail[T](apperrors.ErrStorage)
	}
	return types.Fail[T](r.Error)
}
