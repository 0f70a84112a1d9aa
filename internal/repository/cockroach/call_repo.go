package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callcore-backend/internal/domain"
	apperrors "callcore-backend/pkg/errors"
)

// CallRepository handles call data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// CreateWithInitiator persists a new call together with the initiator's
// connected participant row in a single transaction
func (r *CallRepository) CreateWithInitiator(ctx context.Context, call *domain.Call) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO calls (
			id, initiator_id, receiver_id, group_id, call_type, status, room_id, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		call.ID,
		call.InitiatorID,
		call.ReceiverID,
		call.GroupID,
		call.Type,
		call.Status,
		call.RoomID,
		call.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	participant := &domain.CallParticipant{
		ID:       uuid.New(),
		CallID:   call.ID,
		UserID:   call.InitiatorID,
		Status:   domain.ParticipantConnected,
		JoinedAt: call.StartedAt,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO call_participants (id, call_id, user_id, status, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		participant.ID,
		participant.CallID,
		participant.UserID,
		participant.Status,
		participant.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add initiator participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call creation: %w", err)
	}

	call.Participants = []*domain.CallParticipant{participant}
	return nil
}

// GetByID retrieves a call with its participants
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, initiator_id, receiver_id, group_id, call_type, status,
		       room_id, started_at, ended_at, duration
		FROM calls
		WHERE id = $1
	`, callID).Scan(
		&call.ID,
		&call.InitiatorID,
		&call.ReceiverID,
		&call.GroupID,
		&call.Type,
		&call.Status,
		&call.RoomID,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	participants, err := r.GetParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}
	call.Participants = participants

	return call, nil
}

// GetByRoomID retrieves a call by its room identifier
func (r *CallRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.Call, error) {
	var callID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM calls WHERE room_id = $1`, roomID).Scan(&callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call by room: %w", err)
	}
	return r.GetByID(ctx, callID)
}

// UpdateStatus updates call status
func (r *CallRepository) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE calls SET status = $2 WHERE id = $1`, callID, status)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}
	return nil
}

// MarkTerminated moves a call to a terminal status and disconnects every
// still-connected participant in a single transaction
func (r *CallRepository) MarkTerminated(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt time.Time, duration *int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE calls
		SET status = $2, ended_at = $3, duration = $4
		WHERE id = $1
	`, callID, status, endedAt, duration)
	if err != nil {
		return fmt.Errorf("failed to terminate call: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE call_participants
		SET status = $3, left_at = $2
		WHERE call_id = $1 AND status = $4
	`, callID, endedAt, domain.ParticipantDisconnected, domain.ParticipantConnected)
	if err != nil {
		return fmt.Errorf("failed to disconnect participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call termination: %w", err)
	}
	return nil
}

// UpsertParticipant reconnects an existing participant row or inserts a new
// connected one
func (r *CallRepository) UpsertParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p := &domain.CallParticipant{}
	err = tx.QueryRow(ctx, `
		SELECT id, call_id, user_id, status, joined_at, left_at
		FROM call_participants
		WHERE call_id = $1 AND user_id = $2
		ORDER BY joined_at DESC
		LIMIT 1
	`, callID, userID).Scan(&p.ID, &p.CallID, &p.UserID, &p.Status, &p.JoinedAt, &p.LeftAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		p = &domain.CallParticipant{
			ID:       uuid.New(),
			CallID:   callID,
			UserID:   userID,
			Status:   domain.ParticipantConnected,
			JoinedAt: time.Now(),
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO call_participants (id, call_id, user_id, status, joined_at)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, p.CallID, p.UserID, p.Status, p.JoinedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to add participant: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up participant: %w", err)
	default:
		if p.Status != domain.ParticipantConnected {
			p.Status = domain.ParticipantConnected
			p.LeftAt = nil
			_, err = tx.Exec(ctx, `
				UPDATE call_participants
				SET status = $2, left_at = NULL
				WHERE id = $1
			`, p.ID, p.Status)
			if err != nil {
				return nil, fmt.Errorf("failed to reconnect participant: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit participant upsert: %w", err)
	}
	return p, nil
}

// AddRejectedParticipant records a group member's rejection without
// terminating the call
func (r *CallRepository) AddRejectedParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	now := time.Now()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_participants (id, call_id, user_id, status, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, uuid.New(), callID, userID, domain.ParticipantRejected, now)
	if err != nil {
		return fmt.Errorf("failed to add rejected participant: %w", err)
	}
	return nil
}

// MarkParticipantLeft disconnects a single participant
func (r *CallRepository) MarkParticipantLeft(ctx context.Context, callID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE call_participants
		SET status = $3, left_at = $4
		WHERE call_id = $1 AND user_id = $2 AND status = $5
	`, callID, userID, domain.ParticipantDisconnected, time.Now(), domain.ParticipantConnected)
	if err != nil {
		return fmt.Errorf("failed to mark participant left: %w", err)
	}
	return nil
}

// GetParticipants retrieves all participants in a call
func (r *CallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, call_id, user_id, status, joined_at, left_at
		FROM call_participants
		WHERE call_id = $1
		ORDER BY joined_at ASC
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p := &domain.CallParticipant{}
		if err := rows.Scan(&p.ID, &p.CallID, &p.UserID, &p.Status, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, nil
}

// GetActiveCallsForUser retrieves RINGING/ONGOING calls where the user is the
// initiator or a connected participant
func (r *CallRepository) GetActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT c.id, c.initiator_id, c.receiver_id, c.group_id, c.call_type,
		       c.status, c.room_id, c.started_at, c.ended_at, c.duration
		FROM calls c
		LEFT JOIN call_participants cp ON c.id = cp.call_id
		WHERE c.status IN ($2, $3)
		  AND (c.initiator_id = $1 OR (cp.user_id = $1 AND cp.status = $4))
		ORDER BY c.started_at DESC
	`, userID, domain.CallStatusRinging, domain.CallStatusOngoing, domain.ParticipantConnected)
	if err != nil {
		return nil, fmt.Errorf("failed to get active calls: %w", err)
	}
	defer rows.Close()

	return scanCalls(rows)
}

// GetHistory retrieves terminated calls for a user, most recent first
func (r *CallRepository) GetHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT c.id, c.initiator_id, c.receiver_id, c.group_id, c.call_type,
		       c.status, c.room_id, c.started_at, c.ended_at, c.duration
		FROM calls c
		LEFT JOIN call_participants cp ON c.id = cp.call_id
		WHERE c.status IN ($2, $3, $4)
		  AND (c.initiator_id = $1 OR cp.user_id = $1)
		ORDER BY c.started_at DESC
		LIMIT $5 OFFSET $6
	`, userID, domain.CallStatusEnded, domain.CallStatusMissed, domain.CallStatusRejected, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	defer rows.Close()

	return scanCalls(rows)
}

func scanCalls(rows pgx.Rows) ([]*domain.Call, error) {
	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		err := rows.Scan(
			&call.ID,
			&call.InitiatorID,
			&call.ReceiverID,
			&call.GroupID,
			&call.Type,
			&call.Status,
			&call.RoomID,
			&call.StartedAt,
			&call.EndedAt,
			&call.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	return calls, nil
}
