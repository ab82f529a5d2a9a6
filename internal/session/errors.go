package session

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomMismatch     = errors.New("room mismatch")
	ErrRoleMismatch     = errors.New("role mismatch")
	ErrDegradedWrite    = errors.New("degraded write")
	ErrCodecFailure     = errors.New("codec failure")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error is the structured outcome of a rejected or degraded operation.
// errors.Is matches it against its Kind sentinel and the wrapped cause.
type Error struct {
	Kind       error
	Source     string
	Message    string
	StatusCode int
	Err        error
}

func newError(kind error, message string, cause error) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		StatusCode: statusFor(kind),
		Err:        cause,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Code is the error code delivered to participants.
func (e *Error) Code() string {
	switch e.Kind {
	case ErrValidation:
		return "VALIDATION_ERROR"
	case ErrRoomNotFound:
		return "ROOM_NOT_FOUND"
	case ErrRoomMismatch:
		return "ROOM_ID_MISMATCH"
	case ErrRoleMismatch:
		return "ACCOUNT_TYPE_MISMATCH"
	case ErrDegradedWrite:
		return "DEGRADED_WRITE"
	case ErrCodecFailure:
		return "CODEC_FAILURE"
	case ErrStoreUnavailable:
		return "STORE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

func statusFor(kind error) int {
	switch kind {
	case ErrValidation, ErrRoleMismatch:
		return http.StatusBadRequest
	case ErrRoomNotFound:
		return http.StatusNotFound
	case ErrRoomMismatch:
		return http.StatusForbidden
	case ErrDegradedWrite, ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// asError converts any error into an *Error, keeping an existing one.
func asError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return newError(ErrStoreUnavailable, "internal failure", err)
}
