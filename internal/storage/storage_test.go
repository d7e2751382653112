package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsula-wallet/capsula/pkg/types"
)

// backendsUnderTest returns the in-memory LevelDB backend and, when
// CAPSULA_TEST_POSTGRES_DSN is set, a migrated PostgreSQL backend.
func backendsUnderTest(t *testing.T) map[string]Backend {
	t.Helper()
	mem := NewMemoryBackend()
	t.Cleanup(func() { mem.Close() })
	out := map[string]Backend{"leveldb": mem}

	dsn := os.Getenv("CAPSULA_TEST_POSTGRES_DSN")
	if dsn == "" {
		return out
	}
	ctx := context.Background()
	pg, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	_, err = Migrate(ctx, pg.DB(), EmbeddedMigrations(), MigrateUp, 0)
	require.NoError(t, err)
	_, err = pg.DB().Exec(ctx, "DELETE FROM records")
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })
	out["postgres"] = pg
	return out
}

func TestBackend_CRUD(t *testing.T) {
	for name, b := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := b.Get(ctx, "things", "a")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, b.Put(ctx, "things", Record{ID: "b", SchemaVersion: 1, Data: []byte(`{"n":2}`)}))
			require.NoError(t, b.Put(ctx, "things", Record{ID: "a", SchemaVersion: 1, Data: []byte(`{"n":1}`)}))
			require.NoError(t, b.Put(ctx, "other", Record{ID: "a", SchemaVersion: 1, Data: []byte(`{"n":3}`)}))

			rec, found, err := b.Get(ctx, "things", "a")
			require.NoError(t, err)
			require.True(t, found)
			assert.JSONEq(t, `{"n":1}`, string(rec.Data))
			assert.Equal(t, 1, rec.SchemaVersion)

			recs, err := b.List(ctx, "things")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "a", recs[0].ID)
			assert.Equal(t, "b", recs[1].ID)

			require.NoError(t, b.Delete(ctx, "things", "a"))
			assert.ErrorIs(t, b.Delete(ctx, "things", "a"), ErrNotFound)

			recs, err = b.List(ctx, "other")
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

func TestLevelDBBackend_PrefixCollision(t *testing.T) {
	b := NewMemoryBackend()
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "miniapp_data:swap", Record{ID: "k", SchemaVersion: 1, Data: []byte(`{}`)}))
	require.NoError(t, b.Put(ctx, "miniapp_data:swap2", Record{ID: "k", SchemaVersion: 1, Data: []byte(`{}`)}))

	recs, err := b.List(ctx, "miniapp_data:swap")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

type widget struct {
	Name string `json:"name"`
}

func TestCollection_DecodeFailuresSurface(t *testing.T) {
	b := NewMemoryBackend()
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()
	c, err := NewCollection[widget](b, "widgets")
	require.NoError(t, err)

	t.Run("corrupt data", func(t *testing.T) {
		require.NoError(t, b.Put(ctx, "widgets", Record{ID: "bad", SchemaVersion: 1, Data: []byte(`{"name":`)}))
		_, err := c.Get(ctx, "bad")
		assert.ErrorIs(t, err, ErrCorruptRecord)
		_, err = c.List(ctx)
		assert.ErrorIs(t, err, ErrCorruptRecord)
		require.NoError(t, b.Delete(ctx, "widgets", "bad"))
	})

	t.Run("future schema", func(t *testing.T) {
		require.NoError(t, b.Put(ctx, "widgets", Record{ID: "new", SchemaVersion: types.RecordSchemaVersion + 1, Data: []byte(`{"name":"x"}`)}))
		_, err := c.Get(ctx, "new")
		assert.ErrorIs(t, err, ErrUnsupportedSchema)
		require.NoError(t, b.Delete(ctx, "widgets", "new"))
	})

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "w1", &widget{Name: "one"}))
		got, err := c.Get(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, "one", got.Name)

		missing, err := c.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestNewCollection_InvalidName(t *testing.T) {
	b := NewMemoryBackend()
	t.Cleanup(func() { b.Close() })

	_, err := NewCollection[widget](b, "a/b")
	assert.Error(t, err)
	_, err = NewCollection[widget](b, "")
	assert.Error(t, err)
}

func TestWalletRepository(t *testing.T) {
	for name, b := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := NewWalletRepository(b)

			now := time.Now().UTC().Truncate(time.Millisecond)
			w1 := &types.Wallet{ID: "w1", Name: "Main", Address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", KeyRefID: "k1", CreatedAt: now}
			w2 := &types.Wallet{ID: "w2", Name: "Second", Address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", KeyRefID: "k2", CreatedAt: now.Add(time.Second)}
			require.NoError(t, repo.Save(ctx, w2))
			require.NoError(t, repo.Save(ctx, w1))

			wallets, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, wallets, 2)
			assert.Equal(t, "w1", wallets[0].ID)

			byAddr, err := repo.GetByAddress(ctx, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
			require.NoError(t, err)
			require.NotNil(t, byAddr)
			assert.Equal(t, "w1", byAddr.ID)

			require.NoError(t, repo.Delete(ctx, "w1"))
			got, err := repo.GetByID(ctx, "w1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestNetworkRepository(t *testing.T) {
	b := NewMemoryBackend()
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()
	repo := NewNetworkRepository(b)

	require.NoError(t, repo.Save(ctx, &types.Network{ChainID: 8453, Name: "Base"}))
	require.NoError(t, repo.Save(ctx, &types.Network{ChainID: 1, Name: "Ethereum"}))

	networks, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, networks, 2)
	assert.Equal(t, int64(1), networks[0].ChainID)

	n, err := repo.Get(ctx, 8453)
	require.NoError(t, err)
	assert.Equal(t, "Base", n.Name)
}

func TestMiniAppDataRepository_Isolation(t *testing.T) {
	b := NewMemoryBackend()
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	swap, err := NewMiniAppDataRepository(b, "swap")
	require.NoError(t, err)
	bridge, err := NewMiniAppDataRepository(b, "bridge")
	require.NoError(t, err)

	require.NoError(t, swap.Set(ctx, "slippage", "0.5"))
	require.NoError(t, bridge.Set(ctx, "route", "fast"))

	_, found, err := bridge.Get(ctx, "slippage")
	require.NoError(t, err)
	assert.False(t, found)

	keys, err := swap.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"slippage"}, keys)

	require.NoError(t, swap.Clear(ctx))
	keys, err = swap.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	v, found, err := bridge.Get(ctx, "route")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fast", v)

	assert.NoError(t, swap.Delete(ctx, "missing"))

	_, err = NewMiniAppDataRepository(b, "evil/../x")
	assert.Error(t, err)
}

func TestSettingsRepository(t *testing.T) {
	b := NewMemoryBackend()
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()
	repo := NewSettingsRepository(b)

	id, err := repo.ActiveWalletID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, repo.SetActiveWalletID(ctx, "w1"))
	id, err = repo.ActiveWalletID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "w1", id)

	require.NoError(t, repo.SetActiveWalletID(ctx, ""))
	require.NoError(t, repo.SetActiveWalletID(ctx, ""))
	id, err = repo.ActiveWalletID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, repo.SetActiveChainID(ctx, 8453))
	chainID, err := repo.ActiveChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8453), chainID)
}

func TestEmbeddedMigrations(t *testing.T) {
	fsys := EmbeddedMigrations()
	up, err := fsys.Open("001_records.up.sql")
	require.NoError(t, err)
	up.Close()
	down, err := fsys.Open("001_records.down.sql")
	require.NoError(t, err)
	down.Close()
}
