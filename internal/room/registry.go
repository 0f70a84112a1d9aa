package room

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	apperrors "callcore-backend/pkg/errors"
)

// Participant is the ephemeral per-room media state of one user. It is owned
// exclusively by its Room and mutated only through Registry operations.
type Participant struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ProducerIDs     []string
	ConsumerIDs     []string
	RTPCapabilities json.RawMessage
	Joined          bool // true once media negotiation finished, not just registered
}

// ParticipantInfo is a read-only snapshot handed out to callers
type ParticipantInfo struct {
	UserID      uuid.UUID `json:"user_id"`
	ProducerIDs []string  `json:"producer_ids"`
	Joined      bool      `json:"joined"`
}

// Room is the in-memory topology container for one ongoing call
type Room struct {
	ID     string
	CallID uuid.UUID

	mu           sync.RWMutex
	participants map[uuid.UUID]*Participant
}

// Registry maps room identifiers to live room topology. Authoritative call
// state lives in persistent storage; the registry is a pure in-memory cache
// and rooms are lazily recreated from the persisted call after a restart.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty room registry
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// Create registers a new room, returning the existing one if already present
func (r *Registry) Create(roomID string, callID uuid.UUID) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok {
		return room
	}

	room := &Room{
		ID:           roomID,
		CallID:       callID,
		participants: make(map[uuid.UUID]*Participant),
	}
	r.rooms[roomID] = room
	return room
}

// Get returns the room or an error if it does not exist
func (r *Registry) Get(roomID string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, apperrors.RoomNotFoundError()
	}
	return room, nil
}

// Has reports whether a room exists
func (r *Registry) Has(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Delete drops a room from the registry
func (r *Registry) Delete(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// Count returns the number of live rooms
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// AddParticipant registers a user in the room if absent and returns the entry
func (room *Room) AddParticipant(userID uuid.UUID) *Participant {
	room.mu.Lock()
	defer room.mu.Unlock()

	if p, ok := room.participants[userID]; ok {
		return p
	}

	p := &Participant{
		ID:          uuid.New(),
		UserID:      userID,
		ProducerIDs: []string{},
		ConsumerIDs: []string{},
	}
	room.participants[userID] = p
	return p
}

// RemoveParticipant drops a user from the room
func (room *Room) RemoveParticipant(userID uuid.UUID) {
	room.mu.Lock()
	defer room.mu.Unlock()
	delete(room.participants, userID)
}

// HasParticipant reports whether the user is registered in the room
func (room *Room) HasParticipant(userID uuid.UUID) bool {
	room.mu.RLock()
	defer room.mu.RUnlock()
	_, ok := room.participants[userID]
	return ok
}

// IsEmpty reports whether the room has no participants left
func (room *Room) IsEmpty() bool {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.participants) == 0
}

// ParticipantCount returns the number of registered participants
func (room *Room) ParticipantCount() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.participants)
}

// SetRTPCapabilities records the negotiated receive capabilities of a user
func (room *Room) SetRTPCapabilities(userID uuid.UUID, caps json.RawMessage) error {
	room.mu.Lock()
	defer room.mu.Unlock()

	p, ok := room.participants[userID]
	if !ok {
		return apperrors.ParticipantNotFoundError()
	}
	p.RTPCapabilities = caps
	return nil
}

// RTPCapabilities returns the stored receive capabilities of a user
func (room *Room) RTPCapabilities(userID uuid.UUID) (json.RawMessage, error) {
	room.mu.RLock()
	defer room.mu.RUnlock()

	p, ok := room.participants[userID]
	if !ok {
		return nil, apperrors.ParticipantNotFoundError()
	}
	return p.RTPCapabilities, nil
}

// MarkJoined flips the joined flag once media negotiation finished
func (room *Room) MarkJoined(userID uuid.UUID) error {
	room.mu.Lock()
	defer room.mu.Unlock()

	p, ok := room.participants[userID]
	if !ok {
		return apperrors.ParticipantNotFoundError()
	}
	p.Joined = true
	return nil
}

// AddProducer records a producer id owned by the user
func (room *Room) AddProducer(userID uuid.UUID, producerID string) error {
	room.mu.Lock()
	defer room.mu.Unlock()

	p, ok := room.participants[userID]
	if !ok {
		return apperrors.ParticipantNotFoundError()
	}
	p.ProducerIDs = append(p.ProducerIDs, producerID)
	return nil
}

// AddConsumer records a consumer id owned by the user
func (room *Room) AddConsumer(userID uuid.UUID, consumerID string) error {
	room.mu.Lock()
	defer room.mu.Unlock()

	p, ok := room.participants[userID]
	if !ok {
		return apperrors.ParticipantNotFoundError()
	}
	p.ConsumerIDs = append(p.ConsumerIDs, consumerID)
	return nil
}

// OtherParticipants returns snapshots of every fully-joined participant
// except the given user. Used to seed late joiners with the current
// producer set.
func (room *Room) OtherParticipants(excludeUserID uuid.UUID) []ParticipantInfo {
	room.mu.RLock()
	defer room.mu.RUnlock()

	infos := make([]ParticipantInfo, 0, len(room.participants))
	for userID, p := range room.participants {
		if userID == excludeUserID || !p.Joined {
			continue
		}
		producerIDs := make([]string, len(p.ProducerIDs))
		copy(producerIDs, p.ProducerIDs)
		infos = append(infos, ParticipantInfo{
			UserID:      userID,
			ProducerIDs: producerIDs,
			Joined:      p.Joined,
		})
	}
	return infos
}

// UserIDs returns every registered user id
func (room *Room) UserIDs() []uuid.UUID {
	room.mu.RLock()
	defer room.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(room.participants))
	for userID := range room.participants {
		ids = append(ids, userID)
	}
	return ids
}
