package domain

import "github.com/google/uuid"

// EventName identifies a call lifecycle event
type EventName string

const (
	EventCallIncoming          EventName = "call.incoming"
	EventCallInitiated         EventName = "call.initiated"
	EventCallRejected          EventName = "call.rejected"
	EventCallEnded             EventName = "call.ended"
	EventCallParticipantJoined EventName = "call.participant.joined"
	EventCallParticipantLeft   EventName = "call.participant.left"
)

// LifecycleEvent is the flat payload published by the call lifecycle manager.
// TargetUserIDs selects the personal broadcast groups for user-targeted
// events (incoming, initiated, rejected); room-scoped events leave it empty
// and are fanned out to the room group.
type LifecycleEvent struct {
	Name          EventName   `json:"name"`
	CallID        uuid.UUID   `json:"call_id"`
	InitiatorID   uuid.UUID   `json:"initiator_id"`
	ReceiverID    *uuid.UUID  `json:"receiver_id,omitempty"`
	GroupID       *uuid.UUID  `json:"group_id,omitempty"`
	UserID        *uuid.UUID  `json:"user_id,omitempty"`
	RoomID        string      `json:"room_id"`
	Type          CallType    `json:"type,omitempty"`
	EndedBy       *uuid.UUID  `json:"ended_by,omitempty"`
	TargetUserIDs []uuid.UUID `json:"-"`
}
