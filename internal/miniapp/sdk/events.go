package sdk

import (
	"context"
	"fmt"
	"sync"

	"github.com/capsula-wallet/capsula/internal/events"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// EventHandler receives events delivered to a mini-app.
type EventHandler func(ctx context.Context, e events.Event)

// EventsCapability lets a mini-app emit and receive events in its own
// namespace and follow the wallet-wide wallet and network changes.
type EventsCapability struct {
	guard *guard
	bus   *events.Bus

	mu     sync.Mutex
	unsubs []func()
}

func (*EventsCapability) Domain() Domain { return DomainEvents }
func (*EventsCapability) capability()    {}

// Methods implements Capability
func (*EventsCapability) Methods() []string {
	return []string{MethodEventsEmit, MethodEventsOn, MethodEventsOnWalletChanged, MethodEventsOnNetworkChanged}
}

// Emit publishes payload as "{miniAppID}:{name}".
func (c *EventsCapability) Emit(ctx context.Context, name string, payload any) (types.Result[types.Empty], error) {
	if err := c.guard.check(ctx, MethodEventsEmit); err != nil {
		return types.Result[types.Empty]{}, err
	}
	topic, appErr := c.topic(name)
	if appErr != nil {
		return types.Fail[types.Empty](appErr), nil
	}
	if c.bus == nil {
		return types.Ok(types.Empty{}), nil
	}

	c.bus.Publish(c.guard.ctx(ctx, MethodEventsEmit), events.Event{
		Topic:   topic,
		Source:  c.guard.miniAppID,
		Payload: payload,
	})
	return types.Ok(types.Empty{}), nil
}

// On subscribes to the mini-app's own event name. The returned function
// removes the subscription.
func (c *EventsCapability) On(ctx context.Context, name string, h EventHandler) (types.Result[func()], error) {
	if err := c.guard.check(ctx, MethodEventsOn); err != nil {
		return types.Result[func()]{}, err
	}
	topic, appErr := c.topic(name)
	if appErr != nil {
		return types.Fail[func()](appErr), nil
	}
	return types.Ok(c.subscribe(topic, h)), nil
}

// topic namespaces name under the mini-app's ID. Global topics are never
// reachable from a custom name.
func (c *EventsCapability) topic(name string) (string, *apperrors.AppError) {
	if err := events.ValidateEventName(name); err != nil {
		return "", apperrors.ErrInvalidEvent.WithDetail(err.Error())
	}
	topic := events.MiniAppTopic(c.guard.miniAppID, name)
	if events.IsGlobalTopic(topic) {
		return "", apperrors.ErrInvalidEvent.WithDetail(fmt.Sprintf("event %q collides with a global topic", topic))
	}
	return topic, nil
}

// OnWalletChanged subscribes to active wallet changes.
func (c *EventsCapability) OnWalletChanged(ctx context.Context, h EventHandler) (types.Result[func()], error) {
	if err := c.guard.check(ctx, MethodEventsOnWalletChanged); err != nil {
		return types.Result[func()]{}, err
	}
	return types.Ok(c.subscribe(events.TopicWalletChanged, h)), nil
}

// OnNetworkChanged subscribes to active network changes.
func (c *EventsCapability) OnNetworkChanged(ctx context.Context, h EventHandler) (types.Result[func()], error) {
	if err := c.guard.check(ctx, MethodEventsOnNetworkChanged); err != nil {
		return types.Result[func()]{}, err
	}
	return types.Ok(c.subscribe(events.TopicNetworkChanged, h)), nil
}

func (c *EventsCapability) subscribe(topic string, h EventHandler) func() {
	if c.bus == nil || h == nil {
		return func() {}
	}
	unsub := c.bus.Subscribe(topic, func(ctx context.Context, e events.Event) {
		h(c.guard.ctx(ctx, topic), e)
	})

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()
	return unsub
}

// unsubscribeAll removes every subscription made through c.
func (c *EventsCapability) unsubscribeAll() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}
