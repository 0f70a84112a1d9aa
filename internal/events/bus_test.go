package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"callcore-backend/internal/domain"
	"callcore-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	m.Run()
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()

	ch1, unsub1 := bus.Subscribe()
	ch2, unsub2 := bus.Subscribe()
	defer unsub1()
	defer unsub2()

	event := domain.LifecycleEvent{
		Name:   domain.EventCallIncoming,
		CallID: uuid.New(),
		RoomID: "room-1",
	}

	bus.Publish(event)

	for _, ch := range []<-chan domain.LifecycleEvent{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, event.Name, got.Name)
			assert.Equal(t, event.CallID, got.CallID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	ch, unsub := bus.Subscribe()
	unsub()

	// Channel is closed after unsubscribe
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic
	bus.Publish(domain.LifecycleEvent{Name: domain.EventCallEnded, CallID: uuid.New()})
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()

	_, unsub := bus.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.Publish(domain.LifecycleEvent{Name: domain.EventCallIncoming, CallID: uuid.New()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber buffer")
	}
}
