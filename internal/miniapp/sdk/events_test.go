package sdk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsula-wallet/capsula/internal/events"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
)

func TestEvents_CustomEventsStayInNamespace(t *testing.T) {
	f := newSDKFixture(t)
	alpha := f.build(t, "alpha", PermEvents)
	beta := f.build(t, "beta", PermEvents)
	ctx := context.Background()

	var alphaGot, betaGot []events.Event
	_, err := alpha.Events.On(ctx, "ping", func(_ context.Context, e events.Event) { alphaGot = append(alphaGot, e) })
	require.NoError(t, err)
	_, err = beta.Events.On(ctx, "ping", func(_ context.Context, e events.Event) { betaGot = append(betaGot, e) })
	require.NoError(t, err)

	res, err := alpha.Events.Emit(ctx, "ping", map[string]int{"n": 1})
	require.NoError(t, err)
	require.True(t, res.Success)

	require.Len(t, alphaGot, 1)
	assert.Equal(t, "alpha:ping", alphaGot[0].Topic)
	assert.Equal(t, "alpha", alphaGot[0].Source)
	assert.Empty(t, betaGot)
}

func TestEvents_RejectsNamespaceEscape(t *testing.T) {
	f := newSDKFixture(t)
	alpha := f.build(t, "alpha", PermEvents)
	ctx := context.Background()

	for _, name := range []string{"", "beta:ping", "wallet:changed"} {
		res, err := alpha.Events.Emit(ctx, name, nil)
		require.NoError(t, err)
		require.False(t, res.Success, name)
		assert.Equal(t, apperrors.ErrCodeInvalidEvent, res.Error.Code)

		sub, err := alpha.Events.On(ctx, name, func(context.Context, events.Event) {})
		require.NoError(t, err)
		assert.False(t, sub.Success, name)
	}
	assert.Zero(t, f.bus.SubscriberCount(events.TopicWalletChanged))
}

func TestEvents_GlobalSubscriptions(t *testing.T) {
	f := newSDKFixture(t)
	s := f.build(t, "alpha", PermEvents)
	ctx := context.Background()

	var wallets, networks int
	w, err := s.Events.OnWalletChanged(ctx, func(context.Context, events.Event) { wallets++ })
	require.NoError(t, err)
	_, err = s.Events.OnNetworkChanged(ctx, func(context.Context, events.Event) { networks++ })
	require.NoError(t, err)

	f.bus.Publish(ctx, events.Event{Topic: events.TopicWalletChanged, Payload: events.WalletChanged{WalletID: "w1"}})
	f.bus.Publish(ctx, events.Event{Topic: events.TopicNetworkChanged, Payload: events.NetworkChanged{ChainID: 8453}})
	assert.Equal(t, 1, wallets)
	assert.Equal(t, 1, networks)

	w.Data()
	f.bus.Publish(ctx, events.Event{Topic: events.TopicWalletChanged})
	assert.Equal(t, 1, wallets)
}

func TestEvents_CloseRemovesSubscriptions(t *testing.T) {
	f := newSDKFixture(t)
	s := f.build(t, "alpha", PermEvents)
	ctx := context.Background()

	_, err := s.Events.OnWalletChanged(ctx, func(context.Context, events.Event) {})
	require.NoError(t, err)
	_, err = s.Events.On(ctx, "ping", func(context.Context, events.Event) {})
	require.NoError(t, err)
	require.Equal(t, 1, f.bus.SubscriberCount(events.TopicWalletChanged))

	s.Close()

	assert.Zero(t, f.bus.SubscriberCount(events.TopicWalletChanged))
	assert.Zero(t, f.bus.SubscriberCount("alpha:ping"))
}

func TestEvents_RequiresPermission(t *testing.T) {
	f := newSDKFixture(t)
	s := f.build(t, "alpha", PermStorage)

	_, err := s.Events.OnWalletChanged(context.Background(), func(context.Context, events.Event) {})
	requirePermissionError(t, err, PermEvents)
	assert.Zero(t, f.bus.SubscriberCount(events.TopicWalletChanged))
}

func TestEvents_CannotForgeGlobalTopics(t *testing.T) {
	f := newSDKFixture(t)
	victim := f.build(t, "victim", PermEvents)
	ctx := context.Background()

	for _, id := range []string{"wallet", "network", "host"} {
		_, err := New(testManifest(id, PermEvents), f.deps())
		require.Error(t, err, id)
		assert.ErrorIs(t, err, apperrors.ErrInvalidManifest)
	}

	var received []events.Event
	_, err := victim.Events.OnWalletChanged(ctx, func(_ context.Context, e events.Event) { received = append(received, e) })
	require.NoError(t, err)

	perms, err := NewPermissionSet([]string{string(PermEvents)})
	require.NoError(t, err)
	tests := []struct {
		namespace string
		name      string
	}{
		{"wallet", "changed"},
		{"network", "changed"},
		{"host", "miniapp-error"},
	}
	for _, tt := range tests {
		t.Run(tt.namespace, func(t *testing.T) {
			forger := &EventsCapability{guard: &guard{miniAppID: tt.namespace, perms: perms}, bus: f.bus}

			res, err := forger.Emit(ctx, tt.name, events.WalletChanged{WalletID: "forged", Address: "0xdead"})
			require.NoError(t, err)
			require.False(t, res.Success)
			assert.Equal(t, apperrors.ErrCodeInvalidEvent, res.Error.Code)

			sub, err := forger.On(ctx, tt.name, func(context.Context, events.Event) {})
			require.NoError(t, err)
			assert.False(t, sub.Success)
		})
	}
	assert.Empty(t, received)
	assert.Equal(t, 1, f.bus.SubscriberCount(events.TopicWalletChanged))
}
