// Package events is the in-process event bus that connects the wallet and
// network state owners with mini-apps. Publishers never hold references to
// subscribers.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/capsula-wallet/capsula/internal/logger"
)

// Global topics
const (
	TopicWalletChanged  = "wallet:changed"
	TopicNetworkChanged = "network:changed"
	TopicMiniAppError   = "host:miniapp-error"
)

// Namespaces owned by the core. No mini-app may use one as its ID.
var reservedNamespaces = map[string]struct{}{
	"wallet":  {},
	"network": {},
	"host":    {},
}

// Event is a single published message.
type Event struct {
	Topic   string    `json:"topic"`
	Source  string    `json:"source,omitempty"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// WalletChanged is the payload of TopicWalletChanged.
type WalletChanged struct {
	WalletID string `json:"wallet_id"`
	Address  string `json:"address"`
}

// NetworkChanged is the payload of TopicNetworkChanged.
type NetworkChanged struct {
	ChainID         int64 `json:"chain_id"`
	PreviousChainID int64 `json:"previous_chain_id"`
}

// MiniAppFailed is the payload of TopicMiniAppError.
type MiniAppFailed struct {
	MiniAppID string `json:"mini_app_id"`
	Error     string `json:"error"`
}

// Handler receives events for a subscribed topic.
type Handler func(ctx context.Context, e Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events synchronously to subscribers in subscription order.
// A panicking handler is logged and does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish delivers e to every subscriber of e.Topic.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[e.Topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s.handler, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "event handler panicked", "topic", e.Topic, "panic", fmt.Sprint(r))
		}
	}()
	h(ctx, e)
}

// SubscriberCount returns the number of handlers on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// MiniAppTopic namespaces a custom mini-app event as "{miniAppID}:{name}".
func MiniAppTopic(miniAppID, name string) string {
	return miniAppID + ":" + name
}

// IsGlobalTopic reports whether topic is one of the wallet-wide topics.
func IsGlobalTopic(topic string) bool {
	switch topic {
	case TopicWalletChanged, TopicNetworkChanged, TopicMiniAppError:
		return true
	}
	return false
}

// IsReservedNamespace reports whether miniAppID collides with a namespace
// of the global topics.
func IsReservedNamespace(miniAppID string) bool {
	_, ok := reservedNamespaces[miniAppID]
	return ok
}

// ValidateEventName rejects names that could escape a mini-app namespace.
func ValidateEventName(name string) error {
	if name == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	if strings.Contains(name, ":") {
		return fmt.Errorf("event name %q must not contain ':'", name)
	}
	return nil
}
