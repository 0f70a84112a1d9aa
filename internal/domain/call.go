package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType represents the media kind of a call
type CallType string

const (
	CallTypeAudio CallType = "AUDIO"
	CallTypeVideo CallType = "VIDEO"
)

// CallStatus represents the lifecycle state of a call
type CallStatus string

const (
	CallStatusRinging  CallStatus = "RINGING"
	CallStatusOngoing  CallStatus = "ONGOING"
	CallStatusEnded    CallStatus = "ENDED"
	CallStatusMissed   CallStatus = "MISSED"
	CallStatusRejected CallStatus = "REJECTED"
)

// IsTerminal reports whether no further transitions are permitted
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusMissed || s == CallStatusRejected
}

// IsActive reports whether the call can still be joined
func (s CallStatus) IsActive() bool {
	return s == CallStatusRinging || s == CallStatusOngoing
}

// CanTransitionTo reports whether the state machine allows moving to next.
// RINGING -> ONGOING | ENDED | MISSED | REJECTED; ONGOING -> ENDED.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallStatusRinging:
		return next == CallStatusOngoing || next == CallStatusEnded ||
			next == CallStatusMissed || next == CallStatusRejected
	case CallStatusOngoing:
		return next == CallStatusEnded
	default:
		return false
	}
}

// Call represents a persisted audio/video call.
// Exactly one of ReceiverID (direct call) and GroupID (group call) is set.
type Call struct {
	ID           uuid.UUID          `json:"id"`
	InitiatorID  uuid.UUID          `json:"initiator_id"`
	ReceiverID   *uuid.UUID         `json:"receiver_id,omitempty"`
	GroupID      *uuid.UUID         `json:"group_id,omitempty"`
	Type         CallType           `json:"type"`
	Status       CallStatus         `json:"status"`
	RoomID       string             `json:"room_id"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
	Duration     *int               `json:"duration,omitempty"` // seconds
	Participants []*CallParticipant `json:"participants,omitempty"`
}

// IsGroupCall reports whether the call targets a group
func (c *Call) IsGroupCall() bool {
	return c.GroupID != nil
}

// Participant status values
const (
	ParticipantConnected    = "connected"
	ParticipantDisconnected = "disconnected"
	ParticipantRejected     = "rejected"
)

// CallParticipant represents one (call, user) pairing over time
type CallParticipant struct {
	ID       uuid.UUID  `json:"id"`
	CallID   uuid.UUID  `json:"call_id"`
	UserID   uuid.UUID  `json:"user_id"`
	Status   string     `json:"status"` // connected, disconnected, rejected
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// IsConnected reports whether the participant row is currently connected
func (p *CallParticipant) IsConnected() bool {
	return p.Status == ParticipantConnected
}
