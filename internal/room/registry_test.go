package room

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCreateIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	callID := uuid.New()

	first := registry.Create("room-1", callID)
	second := registry.Create("room-1", callID)

	assert.Same(t, first, second)
	assert.Equal(t, 1, registry.Count())
}

func TestGetMissingRoom(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("no-such-room")

	assert.Error(t, err)
}

func TestAddParticipantIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	room := registry.Create("room-1", uuid.New())
	userID := uuid.New()

	first := room.AddParticipant(userID)
	second := room.AddParticipant(userID)

	assert.Same(t, first, second)
	assert.Equal(t, 1, room.ParticipantCount())
	assert.False(t, first.Joined)
	assert.Empty(t, first.ProducerIDs)
}

func TestOtherParticipantsExcludesSelfAndNotJoined(t *testing.T) {
	registry := NewRegistry()
	room := registry.Create("room-1", uuid.New())

	self := uuid.New()
	joined := uuid.New()
	pending := uuid.New()

	room.AddParticipant(self)
	room.AddParticipant(joined)
	room.AddParticipant(pending)

	assert.NoError(t, room.MarkJoined(self))
	assert.NoError(t, room.MarkJoined(joined))
	assert.NoError(t, room.AddProducer(joined, "producer-1"))

	others := room.OtherParticipants(self)

	assert.Len(t, others, 1)
	assert.Equal(t, joined, others[0].UserID)
	assert.Equal(t, []string{"producer-1"}, others[0].ProducerIDs)
}

func TestParticipantStateMutations(t *testing.T) {
	registry := NewRegistry()
	room := registry.Create("room-1", uuid.New())
	userID := uuid.New()
	room.AddParticipant(userID)

	caps := json.RawMessage(`{"codecs":[{"MimeType":"audio/opus"}]}`)
	assert.NoError(t, room.SetRTPCapabilities(userID, caps))
	assert.NoError(t, room.AddProducer(userID, "p-1"))
	assert.NoError(t, room.AddConsumer(userID, "c-1"))

	got, err := room.RTPCapabilities(userID)
	assert.NoError(t, err)
	assert.Equal(t, caps, got)

	// Unknown participant is an error for every mutation
	unknown := uuid.New()
	assert.Error(t, room.SetRTPCapabilities(unknown, caps))
	assert.Error(t, room.MarkJoined(unknown))
	assert.Error(t, room.AddProducer(unknown, "p-2"))
	assert.Error(t, room.AddConsumer(unknown, "c-2"))
}

func TestRemoveParticipantAndEmpty(t *testing.T) {
	registry := NewRegistry()
	room := registry.Create("room-1", uuid.New())
	userID := uuid.New()

	room.AddParticipant(userID)
	assert.False(t, room.IsEmpty())

	room.RemoveParticipant(userID)
	assert.True(t, room.IsEmpty())

	registry.Delete("room-1")
	assert.False(t, registry.Has("room-1"))
}

func TestConcurrentParticipantMutations(t *testing.T) {
	registry := NewRegistry()
	room := registry.Create("room-1", uuid.New())
	userID := uuid.New()
	room.AddParticipant(userID)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = room.AddProducer(userID, fmt.Sprintf("producer-%d", i))
			room.AddParticipant(uuid.New())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 51, room.ParticipantCount())
}
