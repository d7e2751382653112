// Package chain is the blockchain access facade: gas estimation, nonce
// lookup, balance queries and broadcast against EVM JSON-RPC endpoints. It
// does not retry; every failure is returned to the caller.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/metrics"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// ErrUnknownChain is returned when no RPC endpoint is configured for a chain.
var ErrUnknownChain = errors.New("no RPC endpoint for chain")

// Facade is the narrow interface the core uses to reach a blockchain.
type Facade interface {
	EstimateGas(ctx context.Context, from string, req *types.TransactionRequest, chainID int64) (*types.GasEstimate, error)
	GetTransactionCount(ctx context.Context, address string, chainID int64) (uint64, error)
	BroadcastTransaction(ctx context.Context, signedTxHex string, chainID int64) (string, error)
	GetBalance(ctx context.Context, address string, chainID int64) (string, error)
}

// RPCResolver returns the RPC endpoint configured for a chain.
type RPCResolver interface {
	RPCURL(chainID int64) (string, error)
}

// EthFacade implements Facade over go-ethereum clients, one per chain,
// dialed on first use. The endpoint is resolved on every call; a client
// whose endpoint changed or was removed is closed.
type EthFacade struct {
	resolver RPCResolver
	metrics  *metrics.Metrics

	mu      sync.Mutex
	clients map[int64]*dialedClient
}

type dialedClient struct {
	url    string
	client *Client
}

// NewEthFacade creates an EthFacade.
func NewEthFacade(resolver RPCResolver, m *metrics.Metrics) *EthFacade {
	return &EthFacade{
		resolver: resolver,
		metrics:  m,
		clients:  make(map[int64]*dialedClient),
	}
}

func (f *EthFacade) client(ctx context.Context, chainID int64) (*Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	url, err := f.resolver.RPCURL(chainID)
	cached, ok := f.clients[chainID]
	if ok && (err != nil || cached.url != url) {
		cached.client.Close()
		delete(f.clients, chainID)
		logger.Debug(ctx, "dropped stale chain client", "chain_id", chainID)
	} else if ok {
		return cached.client, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w %d: %v", ErrUnknownChain, chainID, err)
	}

	c, err := Dial(ctx, url, chainID)
	if err != nil {
		return nil, err
	}
	f.clients[chainID] = &dialedClient{url: url, client: c}
	logger.Debug(ctx, "connected to chain", "chain_id", chainID)
	return c, nil
}

// EstimateGas returns a gas limit with a 20% buffer and fee suggestions.
// Chains that answer eth_maxPriorityFeePerGas get EIP-1559 fields.
func (f *EthFacade) EstimateGas(ctx context.Context, from string, req *types.TransactionRequest, chainID int64) (*types.GasEstimate, error) {
	defer f.metrics.ObserveChain("estimate_gas", time.Now())

	c, err := f.client(ctx, chainID)
	if err != nil {
		return nil, err
	}

	value, err := types.ParseWei(req.Value)
	if err != nil {
		return nil, err
	}
	var data []byte
	if req.Data != "" && req.Data != "0x" {
		if data, err = hexutil.Decode(req.Data); err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
	}

	gasLimit, err := c.EstimateGas(ctx, from, req.To, value, data)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	estimate := &types.GasEstimate{
		GasLimit: gasLimit,
		GasPrice: types.FormatWei(gasPrice),
	}

	tipCap, err := c.SuggestGasTipCap(ctx)
	if err != nil {
		logger.Debug(ctx, "chain has no tip cap suggestion, using legacy fees", "chain_id", chainID, "error", err)
		return estimate, nil
	}
	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	if tipCap.Cmp(feeCap) > 0 {
		tipCap = new(big.Int).Set(feeCap)
	}
	estimate.MaxFeePerGas = types.FormatWei(feeCap)
	estimate.MaxPriorityFeePerGas = types.FormatWei(tipCap)
	return estimate, nil
}

// GetTransactionCount returns the pending nonce of address.
func (f *EthFacade) GetTransactionCount(ctx context.Context, address string, chainID int64) (uint64, error) {
	defer f.metrics.ObserveChain("get_transaction_count", time.Now())

	c, err := f.client(ctx, chainID)
	if err != nil {
		return 0, err
	}
	return c.GetNonce(ctx, address)
}

// BroadcastTransaction sends a 0x-prefixed signed envelope and returns its hash.
func (f *EthFacade) BroadcastTransaction(ctx context.Context, signedTxHex string, chainID int64) (string, error) {
	defer f.metrics.ObserveChain("broadcast_transaction", time.Now())

	raw, err := hexutil.Decode(signedTxHex)
	if err != nil {
		return "", fmt.Errorf("invalid signed transaction: %w", err)
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("invalid signed transaction: %w", err)
	}

	c, err := f.client(ctx, chainID)
	if err != nil {
		return "", err
	}
	return c.SendRawTransaction(ctx, tx)
}

// GetBalance returns the balance of address in wei as a decimal string.
func (f *EthFacade) GetBalance(ctx context.Context, address string, chainID int64) (string, error) {
	defer f.metrics.ObserveChain("get_balance", time.Now())

	c, err := f.client(ctx, chainID)
	if err != nil {
		return "", err
	}
	balance, err := c.GetBalance(ctx, address)
	if err != nil {
		return "", err
	}
	return types.FormatWei(balance), nil
}

// Close closes every dialed client.
func (f *EthFacade) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.clients {
		c.client.Close()
		delete(f.clients, id)
	}
}

var _ Facade = (*EthFacade)(nil)
