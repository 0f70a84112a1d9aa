package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken ErrorCode = "EXPIRED_TOKEN"

	// Authorization errors
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// Not found errors
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound        ErrorCode = "USER_NOT_FOUND"
	ErrCodeCallNotFound        ErrorCode = "CALL_NOT_FOUND"
	ErrCodeRoomNotFound        ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeParticipantNotFound ErrorCode = "PARTICIPANT_NOT_FOUND"

	// State errors: the requested transition is illegal for the current status
	ErrCodeCallState ErrorCode = "CALL_STATE_ERROR"

	// Engine errors: the media engine rejected an operation or the referenced
	// router/transport/producer/consumer no longer exists
	ErrCodeMediaEngine ErrorCode = "MEDIA_ENGINE_ERROR"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

func ExpiredTokenError() *AppError {
	return NewWithStatus(ErrCodeExpiredToken, "Token has expired", http.StatusUnauthorized)
}

// Authorization errors
func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func UserNotFoundError() *AppError {
	return NewWithStatus(ErrCodeUserNotFound, "User not found", http.StatusNotFound)
}

func CallNotFoundError() *AppError {
	return NewWithStatus(ErrCodeCallNotFound, "Call not found", http.StatusNotFound)
}

func RoomNotFoundError() *AppError {
	return NewWithStatus(ErrCodeRoomNotFound, "Room not found", http.StatusNotFound)
}

func ParticipantNotFoundError() *AppError {
	return NewWithStatus(ErrCodeParticipantNotFound, "Participant not found", http.StatusNotFound)
}

// State errors
func CallStateError(message string) *AppError {
	return NewWithStatus(ErrCodeCallState, message, http.StatusConflict)
}

// Engine errors
func MediaEngineError(message string) *AppError {
	return NewWithStatus(ErrCodeMediaEngine, message, http.StatusInternalServerError)
}

func MediaEngineWrap(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeMediaEngine,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", err)
}

// IsAppError checks if an error is an AppError type
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return InternalError(err.Error())
}
