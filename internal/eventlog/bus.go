package eventlog

import (
	"context"
	"log/slog"
	"sync"

	"watchtower-soar/internal/schema"
)

// Subscriber is called for every event published in-process. A subscriber
// error is logged, never propagated: the in-process bus is a notification
// surface, the durable log is the delivery mechanism.
type Subscriber func(ctx context.Context, event *schema.Event) error

// Bus fans published events out to in-process subscribers in the
// publishing process, letting a producer observe its own events without
// a round trip through the log. Delivery is synchronous and best-effort.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber for all events.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Notify delivers the event to every subscriber.
func (b *Bus) Notify(ctx context.Context, event *schema.Event) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, fn := range subs {
		if err := fn(ctx, event); err != nil {
			slog.Error("event bus subscriber failed",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err)
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
