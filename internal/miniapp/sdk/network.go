package sdk

import (
	"context"
	"errors"
	"fmt"

	"github.com/capsula-wallet/capsula/internal/network"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// NetworkCapability exposes the network registry, restricted to the chains
// the manifest declares.
type NetworkCapability struct {
	guard    *guard
	manifest *types.MiniAppManifest
	networks Networks
}

func (*NetworkCapability) Domain() Domain { return DomainNetwork }
func (*NetworkCapability) capability()    {}

// Methods implements Capability
func (*NetworkCapability) Methods() []string {
	return []string{MethodNetworkGetActive, MethodNetworkSupported, MethodNetworkSwitch}
}

// GetActiveNetwork returns the wallet's active network.
func (c *NetworkCapability) GetActiveNetwork(ctx context.Context) (types.Result[types.Network], error) {
	if err := c.guard.check(ctx, MethodNetworkGetActive); err != nil {
		return types.Result[types.Network]{}, err
	}
	if c.networks == nil {
		return types.Fail[types.Network](apperrors.ErrUnsupportedNetwork.WithDetail("no networks configured")), nil
	}
	return types.Ok(c.networks.Active()), nil
}

// SupportedNetworks returns the configured networks the manifest declares.
func (c *NetworkCapability) SupportedNetworks(ctx context.Context) (types.Result[[]types.Network], error) {
	if err := c.guard.check(ctx, MethodNetworkSupported); err != nil {
		return types.Result[[]types.Network]{}, err
	}
	if c.networks == nil {
		return types.Ok([]types.Network{}), nil
	}

	out := []types.Network{}
	for _, n := range c.networks.List() {
		if c.manifest.SupportsNetwork(n.ChainID) {
			out = append(out, n)
		}
	}
	return types.Ok(out), nil
}

// SwitchNetwork changes the wallet's active network to a chain the manifest declares.
func (c *NetworkCapability) SwitchNetwork(ctx context.Context, chainID int64) (types.Result[types.Empty], error) {
	if err := c.guard.check(ctx, MethodNetworkSwitch); err != nil {
		return types.Result[types.Empty]{}, err
	}
	ctx = c.guard.ctx(ctx, MethodNetworkSwitch)

	if !c.manifest.SupportsNetwork(chainID) {
		return types.Fail[types.Empty](apperrors.ErrUnsupportedNetwork.WithDetail(fmt.Sprintf("chain %d is not declared by mini-app %s", chainID, c.manifest.ID))), nil
	}
	if c.networks == nil {
		return types.Fail[types.Empty](apperrors.ErrUnsupportedNetwork.WithDetail("no networks configured")), nil
	}
	if err := c.networks.Switch(ctx, chainID); err != nil {
		if errors.Is(err, network.ErrUnknownNetwork) {
			return types.Fail[types.Empty](apperrors.ErrUnsupportedNetwork.WithDetail(err.Error())), nil
		}
		return types.Fail[types.Empty](apperrors.Storage(err)), nil
	}
	return types.Ok(types.Empty{}), nil
}
