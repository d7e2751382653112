package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var got []string
	unsubA := bus.Subscribe(TopicWalletChanged, func(_ context.Context, e Event) {
		got = append(got, "a:"+e.Payload.(WalletChanged).WalletID)
	})
	bus.Subscribe(TopicWalletChanged, func(_ context.Context, e Event) {
		got = append(got, "b:"+e.Payload.(WalletChanged).WalletID)
	})

	bus.Publish(ctx, Event{Topic: TopicWalletChanged, Payload: WalletChanged{WalletID: "w1"}})
	assert.Equal(t, []string{"a:w1", "b:w1"}, got)
	assert.Equal(t, 2, bus.SubscriberCount(TopicWalletChanged))

	unsubA()
	unsubA()
	bus.Publish(ctx, Event{Topic: TopicWalletChanged, Payload: WalletChanged{WalletID: "w2"}})
	assert.Equal(t, []string{"a:w1", "b:w1", "b:w2"}, got)
	assert.Equal(t, 1, bus.SubscriberCount(TopicWalletChanged))
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var swapEvents, bridgeEvents int
	bus.Subscribe(MiniAppTopic("swap", "quote"), func(context.Context, Event) { swapEvents++ })
	bus.Subscribe(MiniAppTopic("bridge", "quote"), func(context.Context, Event) { bridgeEvents++ })

	bus.Publish(ctx, Event{Topic: MiniAppTopic("swap", "quote")})
	assert.Equal(t, 1, swapEvents)
	assert.Equal(t, 0, bridgeEvents)
}

func TestBus_PanickingHandler(t *testing.T) {
	bus := NewBus()
	var delivered bool
	bus.Subscribe(TopicNetworkChanged, func(context.Context, Event) { panic("boom") })
	bus.Subscribe(TopicNetworkChanged, func(_ context.Context, e Event) {
		delivered = true
		assert.False(t, e.At.IsZero())
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Topic: TopicNetworkChanged})
	})
	assert.True(t, delivered)
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "swap:quote", MiniAppTopic("swap", "quote"))
	assert.True(t, IsGlobalTopic(TopicWalletChanged))
	assert.False(t, IsGlobalTopic("swap:quote"))
	assert.True(t, IsReservedNamespace("wallet"))
	assert.True(t, IsReservedNamespace("host"))
	assert.False(t, IsReservedNamespace("swap"))

	assert.NoError(t, ValidateEventName("quote"))
	assert.Error(t, ValidateEventName(""))
	assert.Error(t, ValidateEventName("other:quote"))
}
