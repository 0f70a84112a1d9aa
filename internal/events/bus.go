package events

import (
	"sync"

	"go.uber.org/zap"

	"callcore-backend/internal/domain"
	"callcore-backend/pkg/logger"
)

const subscriberBuffer = 256

// Bus is an in-process publish/subscribe channel for call lifecycle events.
// It keeps the call lifecycle manager ignorant of transport/socket details:
// the signaling gateway subscribes and translates events to per-connection
// pushes.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan domain.LifecycleEvent
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan domain.LifecycleEvent),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan domain.LifecycleEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan domain.LifecycleEvent, subscriberBuffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}

// Publish delivers the event to every subscriber. Delivery is non-blocking:
// a subscriber whose buffer is full misses the event rather than stalling
// the publisher.
func (b *Bus) Publish(event domain.LifecycleEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			logger.Warn("event subscriber buffer full, dropping event",
				zap.String("event", string(event.Name)),
				zap.String("call_id", event.CallID.String()))
		}
	}
}
