package call

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callcore-backend/internal/domain"
	"callcore-backend/internal/service/call"
	"callcore-backend/pkg/metrics"
	"callcore-backend/pkg/pagination"
	"callcore-backend/pkg/response"
)

// Handler handles call lifecycle HTTP requests
type Handler struct {
	callService *call.Service
	metrics     *metrics.Metrics
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service, m *metrics.Metrics) *Handler {
	return &Handler{
		callService: callService,
		metrics:     m,
	}
}

// CreateCallRequest represents a call creation request. Exactly one of
// receiver_id and group_id must be set.
type CreateCallRequest struct {
	ReceiverID string `json:"receiver_id" binding:"omitempty,uuid"`
	GroupID    string `json:"group_id" binding:"omitempty,uuid"`
	CallType   string `json:"call_type" binding:"required,oneof=AUDIO VIDEO"`
}

// CreateCall starts a new call
// POST /v1/calls
func (h *Handler) CreateCall(c *gin.Context) {
	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	input := call.CreateCallRequest{Type: domain.CallType(req.CallType)}
	if req.ReceiverID != "" {
		id, err := uuid.Parse(req.ReceiverID)
		if err != nil {
			response.ValidationError(c, "Invalid receiver ID")
			return
		}
		input.ReceiverID = &id
	}
	if req.GroupID != "" {
		id, err := uuid.Parse(req.GroupID)
		if err != nil {
			response.ValidationError(c, "Invalid group ID")
			return
		}
		input.GroupID = &id
	}

	created, err := h.callService.CreateCall(c.Request.Context(), userID, input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.CallStarted(string(created.Type))
	}

	response.Success(c, http.StatusCreated, created)
}

// JoinCall joins an active call
// POST /v1/calls/:id/join
func (h *Handler) JoinCall(c *gin.Context) {
	callID, ok := pathCallID(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	joined, err := h.callService.JoinCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, joined)
}

// EndCall ends or leaves a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, ok := pathCallID(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ended, err := h.callService.EndCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	if h.metrics != nil && ended.Status.IsTerminal() {
		var d time.Duration
		if ended.Duration != nil {
			d = time.Duration(*ended.Duration) * time.Second
		}
		h.metrics.CallFinished(string(ended.Type), string(ended.Status), d)
	}

	response.Success(c, http.StatusOK, ended)
}

// RejectCall declines a ringing call
// POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	callID, ok := pathCallID(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	rejected, err := h.callService.RejectCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	if h.metrics != nil && rejected.Status == domain.CallStatusRejected {
		h.metrics.CallFinished(string(rejected.Type), string(rejected.Status), 0)
	}

	response.Success(c, http.StatusOK, rejected)
}

// GetCall retrieves a call by ID
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, ok := pathCallID(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	found, err := h.callService.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, found)
}

// GetActiveCalls lists the caller's ringing and ongoing calls
// GET /v1/calls/active
func (h *Handler) GetActiveCalls(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	calls, err := h.callService.GetActiveCalls(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if calls == nil {
		calls = []*domain.Call{}
	}

	response.Success(c, http.StatusOK, calls)
}

// GetCallHistory lists the caller's terminated calls, most recent first
// GET /v1/calls/history
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.callService.GetCallHistory(c.Request.Context(), userID, *params)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if calls == nil {
		calls = []*domain.Call{}
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": calls,
		"page":  params.Page,
		"limit": params.Limit,
	})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func pathCallID(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}
