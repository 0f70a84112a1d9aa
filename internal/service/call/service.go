package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore-backend/internal/domain"
	"callcore-backend/internal/events"
	"callcore-backend/internal/media"
	"callcore-backend/internal/room"
	apperrors "callcore-backend/pkg/errors"
	"callcore-backend/pkg/logger"
	"callcore-backend/pkg/pagination"
)

// CallStore persists calls and their participant rows
type CallStore interface {
	CreateWithInitiator(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetByRoomID(ctx context.Context, roomID string) (*domain.Call, error)
	UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error
	MarkTerminated(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt time.Time, duration *int) error
	UpsertParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error)
	AddRejectedParticipant(ctx context.Context, callID, userID uuid.UUID) error
	MarkParticipantLeft(ctx context.Context, callID, userID uuid.UUID) error
	GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
	GetActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error)
	GetHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
}

// UserStore answers user existence checks
type UserStore interface {
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// GroupStore answers group membership checks
type GroupStore interface {
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// MediaEngine is the slice of the media adapter the lifecycle manager drives
type MediaEngine interface {
	CreateRouter(roomID string) *media.Router
	CloseRouter(roomID string) error
	CloseUserTransports(roomID string, userID uuid.UUID)
}

// Service orchestrates the call lifecycle: state transitions, participant
// bookkeeping, room/router provisioning and lifecycle event publication
type Service struct {
	calls  CallStore
	users  UserStore
	groups GroupStore
	rooms  *room.Registry
	engine MediaEngine
	bus    *events.Bus
}

// NewService creates a new call lifecycle service
func NewService(calls CallStore, users UserStore, groups GroupStore, rooms *room.Registry, engine MediaEngine, bus *events.Bus) *Service {
	return &Service{
		calls:  calls,
		users:  users,
		groups: groups,
		rooms:  rooms,
		engine: engine,
		bus:    bus,
	}
}

// CreateCallRequest carries the parameters for starting a call. Exactly one
// of ReceiverID and GroupID must be set.
type CreateCallRequest struct {
	ReceiverID *uuid.UUID      `json:"receiver_id"`
	GroupID    *uuid.UUID      `json:"group_id"`
	Type       domain.CallType `json:"call_type" binding:"required"`
}

// CreateCall starts a new RINGING call, provisions its room and router, and
// notifies the callee(s)
func (s *Service) CreateCall(ctx context.Context, initiatorID uuid.UUID, req CreateCallRequest) (*domain.Call, error) {
	if req.Type != domain.CallTypeAudio && req.Type != domain.CallTypeVideo {
		return nil, apperrors.ValidationError("call_type must be AUDIO or VIDEO")
	}
	if (req.ReceiverID == nil) == (req.GroupID == nil) {
		return nil, apperrors.ValidationError("exactly one of receiver_id and group_id must be set")
	}

	var ringTargets []uuid.UUID
	if req.ReceiverID != nil {
		if *req.ReceiverID == initiatorID {
			return nil, apperrors.ValidationError("cannot call yourself")
		}
		exists, err := s.users.Exists(ctx, *req.ReceiverID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperrors.NotFoundError("receiver")
		}
		ringTargets = []uuid.UUID{*req.ReceiverID}
	} else {
		isMember, err := s.groups.IsMember(ctx, *req.GroupID, initiatorID)
		if err != nil {
			return nil, err
		}
		if !isMember {
			return nil, apperrors.ForbiddenError("you are not a member of this group")
		}
		members, err := s.groups.MemberIDs(ctx, *req.GroupID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m != initiatorID {
				ringTargets = append(ringTargets, m)
			}
		}
	}

	call := &domain.Call{
		ID:          uuid.New(),
		InitiatorID: initiatorID,
		ReceiverID:  req.ReceiverID,
		GroupID:     req.GroupID,
		Type:        req.Type,
		Status:      domain.CallStatusRinging,
		RoomID:      uuid.New().String(),
		StartedAt:   time.Now(),
	}
	if err := s.calls.CreateWithInitiator(ctx, call); err != nil {
		return nil, err
	}

	s.engine.CreateRouter(call.RoomID)
	r := s.rooms.Create(call.RoomID, call.ID)
	r.AddParticipant(initiatorID)

	logger.Info("call created",
		zap.String("call_id", call.ID.String()),
		zap.String("room_id", call.RoomID),
		zap.String("initiator_id", initiatorID.String()),
		zap.Bool("group_call", call.IsGroupCall()))

	s.publish(call, domain.EventCallIncoming, nil, nil, ringTargets)
	s.publish(call, domain.EventCallInitiated, nil, nil, []uuid.UUID{initiatorID})

	return call, nil
}

// JoinCall admits an authorized user into an active call, moving a RINGING
// call to ONGOING on first answer
func (s *Service) JoinCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.Status.IsActive() {
		return nil, apperrors.CallStateError("call is not active")
	}
	if err := s.authorizeParty(ctx, call, userID); err != nil {
		return nil, err
	}

	participant, err := s.calls.UpsertParticipant(ctx, callID, userID)
	if err != nil {
		return nil, err
	}

	if call.Status == domain.CallStatusRinging {
		if err := s.calls.UpdateStatus(ctx, callID, domain.CallStatusOngoing); err != nil {
			return nil, err
		}
		call.Status = domain.CallStatusOngoing
	}

	// The room may have been evicted (process restart); rebuild it on demand
	r, roomErr := s.rooms.Get(call.RoomID)
	if roomErr != nil {
		s.engine.CreateRouter(call.RoomID)
		r = s.rooms.Create(call.RoomID, call.ID)
	}
	r.AddParticipant(userID)

	found := false
	for i, p := range call.Participants {
		if p.UserID == userID {
			call.Participants[i] = participant
			found = true
			break
		}
	}
	if !found {
		call.Participants = append(call.Participants, participant)
	}

	logger.Info("participant joined call",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()))

	s.publish(call, domain.EventCallParticipantJoined, &userID, nil, nil)

	return call, nil
}

// EndCall ends the call for everyone when invoked by the initiator or the
// last remaining participant, and otherwise just disconnects the caller
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.IsTerminal() {
		return nil, apperrors.CallStateError("call already ended")
	}

	connected := 0
	isParticipant := false
	callerConnected := false
	for _, p := range call.Participants {
		if p.UserID == userID {
			isParticipant = true
		}
		if p.IsConnected() {
			connected++
			if p.UserID == userID {
				callerConnected = true
			}
		}
	}
	if userID != call.InitiatorID && !isParticipant {
		return nil, apperrors.ForbiddenError("only the initiator or a participant can end a call")
	}

	if userID == call.InitiatorID || (callerConnected && connected <= 1) {
		return s.terminate(ctx, call, userID)
	}

	if err := s.calls.MarkParticipantLeft(ctx, callID, userID); err != nil {
		return nil, err
	}
	s.engine.CloseUserTransports(call.RoomID, userID)

	roomEmpty := false
	if r, roomErr := s.rooms.Get(call.RoomID); roomErr == nil {
		r.RemoveParticipant(userID)
		roomEmpty = r.IsEmpty()
	}

	now := time.Now()
	for _, p := range call.Participants {
		if p.UserID == userID && p.IsConnected() {
			p.Status = domain.ParticipantDisconnected
			p.LeftAt = &now
		}
	}

	logger.Info("participant left call",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()))

	s.publish(call, domain.EventCallParticipantLeft, &userID, nil, nil)

	if roomEmpty {
		return s.terminate(ctx, call, userID)
	}
	return call, nil
}

// terminate moves the call to ENDED, tears down media state and notifies all
// parties. Duration runs from call start to now, whether or not the call was
// ever answered.
func (s *Service) terminate(ctx context.Context, call *domain.Call, endedBy uuid.UUID) (*domain.Call, error) {
	now := time.Now()
	d := int(now.Sub(call.StartedAt).Seconds())

	if err := s.calls.MarkTerminated(ctx, call.ID, domain.CallStatusEnded, now, &d); err != nil {
		return nil, err
	}
	call.Status = domain.CallStatusEnded
	call.EndedAt = &now
	call.Duration = &d

	s.teardownRoom(call.RoomID)

	logger.Info("call ended",
		zap.String("call_id", call.ID.String()),
		zap.String("ended_by", endedBy.String()))

	s.publish(call, domain.EventCallEnded, nil, &endedBy, s.partyIDs(call))
	return call, nil
}

// RejectCall declines a RINGING call. A direct call moves to REJECTED; a
// group call records the rejection and keeps ringing for everyone else.
func (s *Service) RejectCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status != domain.CallStatusRinging {
		return nil, apperrors.CallStateError("call is not ringing")
	}
	if userID == call.InitiatorID {
		return nil, apperrors.ForbiddenError("the initiator cannot reject their own call")
	}

	if call.IsGroupCall() {
		isMember, err := s.groups.IsMember(ctx, *call.GroupID, userID)
		if err != nil {
			return nil, err
		}
		if !isMember {
			return nil, apperrors.ForbiddenError("you are not a member of this group")
		}
		if err := s.calls.AddRejectedParticipant(ctx, callID, userID); err != nil {
			return nil, err
		}
		s.publish(call, domain.EventCallRejected, &userID, nil, []uuid.UUID{call.InitiatorID})
		return call, nil
	}

	if call.ReceiverID == nil || *call.ReceiverID != userID {
		return nil, apperrors.ForbiddenError("only the receiver can reject this call")
	}

	now := time.Now()
	if err := s.calls.MarkTerminated(ctx, callID, domain.CallStatusRejected, now, nil); err != nil {
		return nil, err
	}
	call.Status = domain.CallStatusRejected
	call.EndedAt = &now

	s.teardownRoom(call.RoomID)

	logger.Info("call rejected",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()))

	s.publish(call, domain.EventCallRejected, &userID, nil, []uuid.UUID{call.InitiatorID})
	return call, nil
}

// GetCall retrieves a call the user is party to
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeParty(ctx, call, userID); err != nil {
		return nil, err
	}
	return call, nil
}

// GetActiveCalls retrieves the user's RINGING/ONGOING calls
func (s *Service) GetActiveCalls(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	return s.calls.GetActiveCallsForUser(ctx, userID)
}

// GetCallHistory retrieves the user's terminated calls, most recent first
func (s *Service) GetCallHistory(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]*domain.Call, error) {
	return s.calls.GetHistory(ctx, userID, params.Limit, params.Offset)
}

// JoinRoom resolves a room for signaling, rebuilding registry state from the
// persisted call when needed, and registers the user in it
func (s *Service) JoinRoom(ctx context.Context, roomID string, userID uuid.UUID) (*room.Room, error) {
	call, err := s.calls.GetByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !call.Status.IsActive() {
		return nil, apperrors.CallStateError("call is not active")
	}
	if err := s.authorizeParty(ctx, call, userID); err != nil {
		return nil, err
	}

	r, roomErr := s.rooms.Get(roomID)
	if roomErr != nil {
		s.engine.CreateRouter(roomID)
		r = s.rooms.Create(roomID, call.ID)
	}
	r.AddParticipant(userID)
	return r, nil
}

// LeaveRoom drops the user's registry and transport state without touching
// call status. Used when a signaling connection goes away abruptly.
func (s *Service) LeaveRoom(roomID string, userID uuid.UUID) {
	s.engine.CloseUserTransports(roomID, userID)
	if r, err := s.rooms.Get(roomID); err == nil {
		r.RemoveParticipant(userID)
	}
}

// teardownRoom closes the room's router and evicts it from the registry
func (s *Service) teardownRoom(roomID string) {
	if err := s.engine.CloseRouter(roomID); err != nil {
		logger.Warn("failed to close router",
			zap.String("room_id", roomID),
			zap.Error(err))
	}
	s.rooms.Delete(roomID)
}

// authorizeParty checks the user is the initiator, the receiver, an existing
// participant, or (for group calls) a group member
func (s *Service) authorizeParty(ctx context.Context, call *domain.Call, userID uuid.UUID) error {
	if call.InitiatorID == userID {
		return nil
	}
	if call.IsGroupCall() {
		isMember, err := s.groups.IsMember(ctx, *call.GroupID, userID)
		if err != nil {
			return err
		}
		if !isMember {
			return apperrors.ForbiddenError("you are not a member of this group")
		}
		return nil
	}
	if call.ReceiverID != nil && *call.ReceiverID == userID {
		return nil
	}
	for _, p := range call.Participants {
		if p.UserID == userID {
			return nil
		}
	}
	return apperrors.ForbiddenError("you are not a party to this call")
}

// partyIDs collects every user that should be told the call terminated, even
// if they never joined the room
func (s *Service) partyIDs(call *domain.Call) []uuid.UUID {
	seen := map[uuid.UUID]bool{call.InitiatorID: true}
	ids := []uuid.UUID{call.InitiatorID}
	if call.ReceiverID != nil && !seen[*call.ReceiverID] {
		seen[*call.ReceiverID] = true
		ids = append(ids, *call.ReceiverID)
	}
	for _, p := range call.Participants {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func (s *Service) publish(call *domain.Call, name domain.EventName, userID, endedBy *uuid.UUID, targets []uuid.UUID) {
	s.bus.Publish(domain.LifecycleEvent{
		Name:          name,
		CallID:        call.ID,
		InitiatorID:   call.InitiatorID,
		ReceiverID:    call.ReceiverID,
		GroupID:       call.GroupID,
		UserID:        userID,
		RoomID:        call.RoomID,
		Type:          call.Type,
		EndedBy:       endedBy,
		TargetUserIDs: targets,
	})
}
