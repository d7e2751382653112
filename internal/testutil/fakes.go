// Package testutil provides fakes for the platform and network
// collaborators so tests can drive the core without devices or RPC nodes.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/capsula-wallet/capsula/internal/securestore"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// FakeBiometrics is a scriptable auth.Biometrics.
type FakeBiometrics struct {
	mu sync.Mutex

	Hardware bool
	Enrolled bool

	// Approve is the answer to every prompt when Err is nil.
	Approve bool
	Err     error
	// Block makes Prompt wait for its context to end.
	Block bool
	Panic bool

	prompts []string
}

// NewFakeBiometrics returns a device with enrolled biometrics that approves every prompt.
func NewFakeBiometrics() *FakeBiometrics {
	return &FakeBiometrics{Hardware: true, Enrolled: true, Approve: true}
}

func (f *FakeBiometrics) HasHardware(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Hardware, nil
}

func (f *FakeBiometrics) IsEnrolled(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Enrolled, nil
}

func (f *FakeBiometrics) Prompt(ctx context.Context, message string) (bool, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, message)
	approve, err, block, panics := f.Approve, f.Err, f.Block, f.Panic
	f.mu.Unlock()

	if panics {
		panic("biometric sensor exploded")
	}
	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return approve, err
}

// SetApprove changes the answer to later prompts.
func (f *FakeBiometrics) SetApprove(approve bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Approve = approve
}

// PromptCount returns how many prompts were shown.
func (f *FakeBiometrics) PromptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// Prompts returns the prompt messages in order.
func (f *FakeBiometrics) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// FakePINPrompter answers PIN prompts with a fixed PIN.
type FakePINPrompter struct {
	mu      sync.Mutex
	PIN     string
	Cancel  bool
	Err     error
	prompts []string
}

func (f *FakePINPrompter) PromptPIN(ctx context.Context, message string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, message)
	if f.Err != nil {
		return "", false, f.Err
	}
	if f.Cancel {
		return "", false, nil
	}
	return f.PIN, true, nil
}

// PromptCount returns how many PIN prompts were shown.
func (f *FakePINPrompter) PromptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// ErrInjected is returned by FailingStore for matching keys.
var ErrInjected = fmt.Errorf("%w: injected failure", securestore.ErrUnavailable)

// FailingStore wraps a securestore.Store and fails operations on keys that
// start with the configured prefixes. An empty prefix matches nothing.
type FailingStore struct {
	securestore.Store

	mu               sync.Mutex
	FailGetPrefix    string
	FailSetPrefix    string
	FailDeletePrefix string
	deletes          []string
}

func matches(prefix, key string) bool {
	return prefix != "" && strings.HasPrefix(key, prefix)
}

func (s *FailingStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	fail := matches(s.FailGetPrefix, key)
	s.mu.Unlock()
	if fail {
		return "", false, ErrInjected
	}
	return s.Store.Get(ctx, key)
}

func (s *FailingStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	fail := matches(s.FailSetPrefix, key)
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.Store.Set(ctx, key, value)
}

func (s *FailingStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	fail := matches(s.FailDeletePrefix, key)
	s.deletes = append(s.deletes, key)
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.Store.Delete(ctx, key)
}

// SetFailures replaces the failing prefixes.
func (s *FailingStore) SetFailures(get, set, del string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailGetPrefix, s.FailSetPrefix, s.FailDeletePrefix = get, set, del
}

// Deletes returns the keys Delete was called with.
func (s *FailingStore) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

// FakeChain is a chain.Facade with canned answers and call recording.
type FakeChain struct {
	mu sync.Mutex

	Estimate     types.GasEstimate
	Nonce        uint64
	Balance      string
	EstimateErr  error
	NonceErr     error
	BroadcastErr error
	BalanceErr   error

	Broadcasts []string
	calls      map[string]int
}

// NewFakeChain returns a facade answering a plain-transfer legacy estimate.
func NewFakeChain() *FakeChain {
	return &FakeChain{
		Estimate: types.GasEstimate{GasLimit: 21000, GasPrice: "1000000000"},
		Balance:  "1000000000000000000",
		calls:    make(map[string]int),
	}
}

func (c *FakeChain) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[method]++
}

// Calls returns how often method was invoked.
func (c *FakeChain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *FakeChain) EstimateGas(ctx context.Context, from string, req *types.TransactionRequest, chainID int64) (*types.GasEstimate, error) {
	c.record("EstimateGas")
	if c.EstimateErr != nil {
		return nil, c.EstimateErr
	}
	est := c.Estimate
	return &est, nil
}

func (c *FakeChain) GetTransactionCount(ctx context.Context, address string, chainID int64) (uint64, error) {
	c.record("GetTransactionCount")
	if c.NonceErr != nil {
		return 0, c.NonceErr
	}
	return c.Nonce, nil
}

func (c *FakeChain) BroadcastTransaction(ctx context.Context, signedTxHex string, chainID int64) (string, error) {
	c.record("BroadcastTransaction")
	if c.BroadcastErr != nil {
		return "", c.BroadcastErr
	}
	raw, err := hexutil.Decode(signedTxHex)
	if err != nil {
		return "", err
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.Broadcasts = append(c.Broadcasts, signedTxHex)
	c.mu.Unlock()
	return tx.Hash().Hex(), nil
}

func (c *FakeChain) GetBalance(ctx context.Context, address string, chainID int64) (string, error) {
	c.record("GetBalance")
	if c.BalanceErr != nil {
		return "", c.BalanceErr
	}
	return c.Balance, nil
}

// BroadcastCount returns the number of successful broadcasts.
func (c *FakeChain) BroadcastCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Broadcasts)
}
