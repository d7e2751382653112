package app

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsula-wallet/capsula/internal/config"
	"github.com/capsula-wallet/capsula/internal/events"
	"github.com/capsula-wallet/capsula/internal/keymanager"
	"github.com/capsula-wallet/capsula/internal/miniapp/host"
	"github.com/capsula-wallet/capsula/internal/miniapp/sdk"
	"github.com/capsula-wallet/capsula/internal/testutil"
	"github.com/capsula-wallet/capsula/pkg/types"
)

const (
	testMnemonic = "test test test test test test test test test test test junk"
	testAddress  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// recordingPlugin keeps the SDK it was mounted with and the events it saw.
type recordingPlugin struct {
	mu       sync.Mutex
	sdk      *sdk.SDK
	networks []int64
}

func (p *recordingPlugin) Mount(ctx context.Context, s *sdk.SDK) error {
	p.sdk = s
	_, err := s.Events.OnNetworkChanged(ctx, func(_ context.Context, e events.Event) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.networks = append(p.networks, e.Payload.(events.NetworkChanged).ChainID)
	})
	return err
}

func (p *recordingPlugin) Unmount(ctx context.Context) error { return nil }

func (p *recordingPlugin) Networks() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.networks...)
}

type coreFixture struct {
	cfg        *config.Config
	biometrics *testutil.FakeBiometrics
	chain      *testutil.FakeChain
	plugin     *recordingPlugin
}

func newCoreFixture(t *testing.T) *coreFixture {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.KMSLocalMasterKey = "test-master-key-32-bytes-long!!"
	return &coreFixture{
		cfg:        cfg,
		biometrics: testutil.NewFakeBiometrics(),
		chain:      testutil.NewFakeChain(),
		plugin:     &recordingPlugin{},
	}
}

func (f *coreFixture) start(t *testing.T) *Core {
	t.Helper()
	plugin := f.plugin
	c, err := New(context.Background(), f.cfg, Platform{
		Biometrics:  f.biometrics,
		PINPrompter: &testutil.FakePINPrompter{PIN: "1234"},
		Chain:       f.chain,
		BuiltIns: []BuiltIn{{
			Manifest: types.MiniAppManifest{
				SchemaVersion: types.ManifestSchemaVersion,
				ID:            "portfolio",
				Name:          "Portfolio",
				Version:       "1.0.0",
				Type:          types.MiniAppTypeBuiltIn,
				Permissions:   []string{"wallet.read", "transaction.sign", "network.read", "network.write", "events", "storage"},
				Networks:      []int64{1, 8453},
			},
			Factory: func() host.Plugin { return plugin },
		}},
	})
	require.NoError(t, err)
	return c
}

func importTestWallet(t *testing.T, c *Core) *types.Wallet {
	t.Helper()
	res := c.Keys.ImportWallet(context.Background(), keymanager.ImportRequest{Mnemonic: testMnemonic}, "Main")
	require.True(t, res.Success, "import failed: %v", res.Error)
	return res.Data.Wallet
}

func TestCore_MiniAppSignsThroughKeyManager(t *testing.T) {
	f := newCoreFixture(t)
	c := f.start(t)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	importTestWallet(t, c)
	promptsAfterImport := f.biometrics.PromptCount()

	require.NoError(t, c.Host.Mount(ctx, "portfolio"))
	s := f.plugin.sdk
	require.NotNil(t, s)

	addr, err := s.Wallet.GetAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, addr.Data)

	sig, err := s.Wallet.SignMessage(ctx, "hello capsula")
	require.NoError(t, err)
	require.True(t, sig.Success, "sign failed: %v", sig.Error)
	assert.Equal(t, promptsAfterImport+1, f.biometrics.PromptCount())

	raw, err := hexutil.Decode(sig.Data.Signature)
	require.NoError(t, err)
	raw[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte("hello capsula")), raw)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), crypto.PubkeyToAddress(*pub))

	_, err = s.Wallet.SendTransaction(ctx, &types.SignedTransaction{})
	require.Error(t, err)
	assert.Zero(t, f.chain.BroadcastCount())
}

func TestCore_NetworkSwitchReachesMiniApps(t *testing.T) {
	f := newCoreFixture(t)
	c := f.start(t)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Host.Mount(ctx, "portfolio"))

	res, err := f.plugin.sdk.Network.SwitchNetwork(ctx, 8453)
	require.NoError(t, err)
	require.True(t, res.Success, "switch failed: %v", res.Error)

	assert.Equal(t, int64(8453), c.Networks.ActiveChainID())
	assert.Equal(t, []int64{8453}, f.plugin.Networks())

	require.NoError(t, c.Host.Unmount(ctx, "portfolio"))
	require.NoError(t, c.Networks.Switch(ctx, 1))
	assert.Equal(t, []int64{8453}, f.plugin.Networks())
}

func TestCore_LockClearsSession(t *testing.T) {
	f := newCoreFixture(t)
	c := f.start(t)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	importTestWallet(t, c)
	require.NoError(t, c.Host.Mount(ctx, "portfolio"))
	_, err := f.plugin.sdk.Storage.Session.Set(ctx, "draft", "1")
	require.NoError(t, err)
	assert.True(t, c.Keys.SessionState().IsAuthenticated)

	c.Lock()

	got, err := f.plugin.sdk.Storage.Session.Get(ctx, "draft")
	require.NoError(t, err)
	assert.False(t, got.Data.Found)
	assert.False(t, c.Keys.SessionState().IsAuthenticated)
}

func TestCore_PersistsAcrossRestarts(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	first := f.start(t)
	w := importTestWallet(t, first)
	require.NoError(t, first.Networks.Switch(ctx, 8453))
	require.NoError(t, first.Close())

	second := f.start(t)
	t.Cleanup(func() { _ = second.Close() })

	active := second.Keys.ActiveWallet(ctx)
	require.True(t, active.Success)
	assert.Equal(t, w.ID, active.Data.ID)
	assert.Equal(t, int64(8453), second.Networks.ActiveChainID())

	exported := second.Keys.ExportPrivateKey(ctx, w.ID)
	require.True(t, exported.Success, "export failed: %v", exported.Error)
	assert.Equal(t, "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", exported.Data.PrivateKey)

	report := second.Keys.CheckConsistency(ctx)
	require.True(t, report.Success)
	assert.True(t, report.Data.Healthy())
}

func TestCore_WrongMasterKeyCannotReadCredentials(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	first := f.start(t)
	w := importTestWallet(t, first)
	require.NoError(t, first.Close())

	f.cfg.KMSLocalMasterKey = "a-different-master-key"
	f.plugin = &recordingPlugin{}
	second := f.start(t)
	t.Cleanup(func() { _ = second.Close() })

	res := second.Keys.ExportPrivateKey(ctx, w.ID)
	require.False(t, res.Success)
	assert.Empty(t, res.Data.PrivateKey)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	_, err := New(context.Background(), cfg, Platform{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KMS_LOCAL_MASTER_KEY")
}
