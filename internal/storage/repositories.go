package storage

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/capsula-wallet/capsula/pkg/types"
)

// Collection names
const (
	CollectionWallets  = "wallets"
	CollectionNetworks = "networks"
	CollectionMiniApps = "miniapps"
	CollectionSettings = "settings"

	miniAppDataPrefix   = "miniapp_data:"
	settingActiveWallet = "active_wallet_id"
	settingActiveChain  = "active_chain_id"
)

// WalletRepository handles wallet metadata
type WalletRepository struct {
	c *Collection[types.Wallet]
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(b Backend) *WalletRepository {
	return &WalletRepository{c: mustCollection[types.Wallet](b, CollectionWallets)}
}

// Save creates or replaces a wallet
func (r *WalletRepository) Save(ctx context.Context, w *types.Wallet) error {
	return r.c.Put(ctx, w.ID, w)
}

// GetByID retrieves a wallet by ID, nil if absent
func (r *WalletRepository) GetByID(ctx context.Context, id string) (*types.Wallet, error) {
	return r.c.Get(ctx, id)
}

// GetByAddress retrieves a wallet by address, nil if absent
func (r *WalletRepository) GetByAddress(ctx context.Context, address string) (*types.Wallet, error) {
	wallets, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range wallets {
		if strings.EqualFold(w.Address, address) {
			return w, nil
		}
	}
	return nil, nil
}

// List returns all wallets, oldest first
func (r *WalletRepository) List(ctx context.Context) ([]*types.Wallet, error) {
	wallets, err := r.c.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(wallets, func(i, j int) bool {
		return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
	})
	return wallets, nil
}

// Delete deletes a wallet by ID
func (r *WalletRepository) Delete(ctx context.Context, id string) error {
	return r.c.Delete(ctx, id)
}

// NetworkRepository handles the persisted network list
type NetworkRepository struct {
	c *Collection[types.Network]
}

// NewNetworkRepository creates a new NetworkRepository
func NewNetworkRepository(b Backend) *NetworkRepository {
	return &NetworkRepository{c: mustCollection[types.Network](b, CollectionNetworks)}
}

// Save creates or replaces a network
func (r *NetworkRepository) Save(ctx context.Context, n *types.Network) error {
	return r.c.Put(ctx, strconv.FormatInt(n.ChainID, 10), n)
}

// Get returns the network for chainID, nil if absent
func (r *NetworkRepository) Get(ctx context.Context, chainID int64) (*types.Network, error) {
	return r.c.Get(ctx, strconv.FormatInt(chainID, 10))
}

// List returns all networks ordered by chain ID
func (r *NetworkRepository) List(ctx context.Context) ([]*types.Network, error) {
	networks, err := r.c.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i].ChainID < networks[j].ChainID })
	return networks, nil
}

// Delete removes a network
func (r *NetworkRepository) Delete(ctx context.Context, chainID int64) error {
	return r.c.Delete(ctx, strconv.FormatInt(chainID, 10))
}

// MiniAppRepository handles installed mini-app manifests
type MiniAppRepository struct {
	c *Collection[types.MiniAppManifest]
}

// NewMiniAppRepository creates a new MiniAppRepository
func NewMiniAppRepository(b Backend) *MiniAppRepository {
	return &MiniAppRepository{c: mustCollection[types.MiniAppManifest](b, CollectionMiniApps)}
}

// Save creates or replaces a manifest
func (r *MiniAppRepository) Save(ctx context.Context, m *types.MiniAppManifest) error {
	return r.c.Put(ctx, m.ID, m)
}

// Get returns the manifest for id, nil if absent
func (r *MiniAppRepository) Get(ctx context.Context, id string) (*types.MiniAppManifest, error) {
	return r.c.Get(ctx, id)
}

// List returns all manifests ordered by ID
func (r *MiniAppRepository) List(ctx context.Context) ([]*types.MiniAppManifest, error) {
	return r.c.List(ctx)
}

// Delete removes a manifest
func (r *MiniAppRepository) Delete(ctx context.Context, id string) error {
	return r.c.Delete(ctx, id)
}

type stringValue struct {
	Value string `json:"value"`
}

// MiniAppDataRepository holds the persistent key/value data of one mini-app.
// Each mini-app gets its own collection; there is no cross-namespace access.
type MiniAppDataRepository struct {
	c *Collection[stringValue]
}

// NewMiniAppDataRepository opens the namespace of miniAppID.
func NewMiniAppDataRepository(b Backend, miniAppID string) (*MiniAppDataRepository, error) {
	c, err := NewCollection[stringValue](b, miniAppDataPrefix+miniAppID)
	if err != nil {
		return nil, err
	}
	return &MiniAppDataRepository{c: c}, nil
}

// Get returns the value under key.
func (r *MiniAppDataRepository) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.c.Get(ctx, key)
	if err != nil || v == nil {
		return "", false, err
	}
	return v.Value, true, nil
}

// Set stores value under key.
func (r *MiniAppDataRepository) Set(ctx context.Context, key, value string) error {
	return r.c.Put(ctx, key, &stringValue{Value: value})
}

// Delete removes key; a missing key is not an error.
func (r *MiniAppDataRepository) Delete(ctx context.Context, key string) error {
	if err := r.c.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Keys lists the stored keys.
func (r *MiniAppDataRepository) Keys(ctx context.Context) ([]string, error) {
	return r.c.IDs(ctx)
}

// Clear removes every key in the namespace.
func (r *MiniAppDataRepository) Clear(ctx context.Context) error {
	return r.c.Clear(ctx)
}

// SettingsRepository stores small pieces of app state.
type SettingsRepository struct {
	c *Collection[stringValue]
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(b Backend) *SettingsRepository {
	return &SettingsRepository{c: mustCollection[stringValue](b, CollectionSettings)}
}

// ActiveWalletID returns the active wallet ID, empty if none.
func (r *SettingsRepository) ActiveWalletID(ctx context.Context) (string, error) {
	v, err := r.c.Get(ctx, settingActiveWallet)
	if err != nil || v == nil {
		return "", err
	}
	return v.Value, nil
}

// SetActiveWalletID stores the active wallet ID; empty clears it.
func (r *SettingsRepository) SetActiveWalletID(ctx context.Context, id string) error {
	if id == "" {
		if err := r.c.Delete(ctx, settingActiveWallet); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}
	return r.c.Put(ctx, settingActiveWallet, &stringValue{Value: id})
}

// ActiveChainID returns the active chain ID, 0 if none.
func (r *SettingsRepository) ActiveChainID(ctx context.Context) (int64, error) {
	v, err := r.c.Get(ctx, settingActiveChain)
	if err != nil || v == nil {
		return 0, err
	}
	id, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, ErrCorruptRecord
	}
	return id, nil
}

// SetActiveChainID stores the active chain ID.
func (r *SettingsRepository) SetActiveChainID(ctx context.Context, chainID int64) error {
	return r.c.Put(ctx, settingActiveChain, &stringValue{Value: strconv.FormatInt(chainID, 10)})
}
