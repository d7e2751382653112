// Package network owns the persisted network list and the active network.
// Switching publishes network:changed on the event bus.
package network

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/capsula-wallet/capsula/internal/events"
	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/storage"
	"github.com/capsula-wallet/capsula/internal/validation"
	"github.com/capsula-wallet/capsula/pkg/types"
)

var (
	// ErrUnknownNetwork is returned for a chain ID that is not registered.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrActiveNetwork is returned when removing the active network.
	ErrActiveNetwork = errors.New("cannot remove the active network")
)

// DefaultNetworks are seeded on first start.
var DefaultNetworks = []types.Network{
	{ChainID: 1, Name: "Ethereum", RPCURL: "https://cloudflare-eth.com", Symbol: "ETH", ExplorerURL: "https://etherscan.io"},
	{ChainID: 10, Name: "Optimism", RPCURL: "https://mainnet.optimism.io", Symbol: "ETH", ExplorerURL: "https://optimistic.etherscan.io"},
	{ChainID: 137, Name: "Polygon", RPCURL: "https://polygon-rpc.com", Symbol: "POL", ExplorerURL: "https://polygonscan.com"},
	{ChainID: 8453, Name: "Base", RPCURL: "https://mainnet.base.org", Symbol: "ETH", ExplorerURL: "https://basescan.org"},
	{ChainID: 42161, Name: "Arbitrum One", RPCURL: "https://arb1.arbitrum.io/rpc", Symbol: "ETH", ExplorerURL: "https://arbiscan.io"},
	{ChainID: 11155111, Name: "Sepolia", RPCURL: "https://rpc.sepolia.org", Symbol: "ETH", ExplorerURL: "https://sepolia.etherscan.io", IsTestnet: true},
}

// Service manages networks.
type Service struct {
	repo     *storage.NetworkRepository
	settings *storage.SettingsRepository
	bus      *events.Bus

	mu       sync.RWMutex
	networks map[int64]types.Network
	active   int64
}

// NewService loads the persisted networks, seeding DefaultNetworks when none
// exist, then applies rpcOverrides and restores the active network.
func NewService(ctx context.Context, repo *storage.NetworkRepository, settings *storage.SettingsRepository, bus *events.Bus, defaultChainID int64, rpcOverrides map[int64]string) (*Service, error) {
	s := &Service{
		repo:     repo,
		settings: settings,
		bus:      bus,
		networks: make(map[int64]types.Network),
	}

	stored, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load networks: %w", err)
	}
	if len(stored) == 0 {
		for i := range DefaultNetworks {
			n := DefaultNetworks[i]
			if err := repo.Save(ctx, &n); err != nil {
				return nil, fmt.Errorf("failed to seed network %d: %w", n.ChainID, err)
			}
			stored = append(stored, &n)
		}
	}
	for _, n := range stored {
		s.networks[n.ChainID] = *n
	}

	for chainID, rpcURL := range rpcOverrides {
		n, ok := s.networks[chainID]
		if !ok {
			n = types.Network{ChainID: chainID, Name: fmt.Sprintf("Chain %d", chainID), Symbol: "ETH"}
		}
		n.RPCURL = rpcURL
		if err := s.save(ctx, n); err != nil {
			return nil, err
		}
	}

	active, err := settings.ActiveChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active network: %w", err)
	}
	if _, ok := s.networks[active]; !ok {
		active = defaultChainID
	}
	if _, ok := s.networks[active]; !ok {
		return nil, fmt.Errorf("%w: default chain %d", ErrUnknownNetwork, defaultChainID)
	}
	s.active = active

	return s, nil
}

// List returns every network ordered by chain ID.
func (s *Service) List() []types.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Network, 0, len(s.networks))
	for _, n := range s.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// Get returns the network for chainID.
func (s *Service) Get(chainID int64) (types.Network, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.networks[chainID]
	if !ok {
		return types.Network{}, fmt.Errorf("%w: %d", ErrUnknownNetwork, chainID)
	}
	return n, nil
}

// Active returns the active network.
func (s *Service) Active() types.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.networks[s.active]
}

// ActiveChainID returns the active chain ID.
func (s *Service) ActiveChainID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Switch makes chainID active and publishes network:changed.
func (s *Service) Switch(ctx context.Context, chainID int64) error {
	s.mu.Lock()
	if _, ok := s.networks[chainID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownNetwork, chainID)
	}
	previous := s.active
	if previous == chainID {
		s.mu.Unlock()
		return nil
	}
	if err := s.settings.SetActiveChainID(ctx, chainID); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist active network: %w", err)
	}
	s.active = chainID
	s.mu.Unlock()

	logger.Info(ctx, "network switched", "chain_id", chainID, "previous_chain_id", previous)
	if s.bus != nil {
		s.bus.Publish(ctx, events.Event{
			Topic:   events.TopicNetworkChanged,
			Source:  "network",
			Payload: events.NetworkChanged{ChainID: chainID, PreviousChainID: previous},
		})
	}
	return nil
}

// Add registers or replaces a custom network.
func (s *Service) Add(ctx context.Context, n types.Network) error {
	if err := validation.ValidateChainID(n.ChainID); err != nil {
		return err
	}
	if n.Name == "" {
		return fmt.Errorf("network name is required")
	}
	u, err := url.Parse(n.RPCURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http" && u.Scheme != "wss" && u.Scheme != "ws") || u.Host == "" {
		return fmt.Errorf("invalid RPC URL %q", n.RPCURL)
	}
	return s.save(ctx, n)
}

// Remove deletes a network that is not active.
func (s *Service) Remove(ctx context.Context, chainID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chainID == s.active {
		return ErrActiveNetwork
	}
	if _, ok := s.networks[chainID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNetwork, chainID)
	}
	if err := s.repo.Delete(ctx, chainID); err != nil {
		return fmt.Errorf("failed to delete network: %w", err)
	}
	delete(s.networks, chainID)
	return nil
}

// RPCURL implements chain.RPCResolver.
func (s *Service) RPCURL(chainID int64) (string, error) {
	n, err := s.Get(chainID)
	if err != nil {
		return "", err
	}
	if n.RPCURL == "" {
		return "", fmt.Errorf("network %d has no RPC URL", chainID)
	}
	return n.RPCURL, nil
}

func (s *Service) save(ctx context.Context, n types.Network) error {
	if err := s.repo.Save(ctx, &n); err != nil {
		return fmt.Errorf("failed to save network %d: %w", n.ChainID, err)
	}
	s.mu.Lock()
	s.networks[n.ChainID] = n
	s.mu.Unlock()
	return nil
}
