package apperrors

import (
	"errors"
	"net/http"
)

var (
	ErrAuthentication      = errors.New("authentication error")
	ErrAccessDenied        = errors.New("access denied")
	ErrRoomNotFound        = errors.New("chat room not found")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrDuplicateActiveRoom = errors.New("an active chat room already exists for this booking")
	ErrPersistence         = errors.New("storage temporarily unavailable")
	ErrInvalidRequest      = errors.New("invalid request")
)

// Authentication failure reasons. Their Error() text is the bare reason so
// it can be handed to the client verbatim.
var (
	ErrNoToken      error = &reasonError{kind: ErrAuthentication, reason: "no token"}
	ErrInvalidToken error = &reasonError{kind: ErrAuthentication, reason: "invalid token"}
	ErrUserNotFound error = &reasonError{kind: ErrAuthentication, reason: "user not found"}
)

type reasonError struct {
	kind   error
	reason string
}

func (e *reasonError) Error() string { return e.reason }
func (e *reasonError) Unwrap() error { return e.kind }

const (
	CodeAuthentication      = "authentication_error"
	CodeAccessDenied        = "access_denied"
	CodeRoomNotFound        = "room_not_found"
	CodeBookingNotFound     = "booking_not_found"
	CodeDuplicateActiveRoom = "duplicate_active_room"
	CodePersistence         = "persistence_failure"
	CodeInvalidRequest      = "invalid_request"
	CodeInternal            = "internal_error"
)

// Code maps an error onto the stable code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return CodeAuthentication
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, ErrBookingNotFound):
		return CodeBookingNotFound
	case errors.Is(err, ErrDuplicateActiveRoom):
		return CodeDuplicateActiveRoom
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// Retryable reports whether the caller may resend the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// Fatal reports whether the error must terminate the connection; the client
// should re-authenticate.
func Fatal(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeAccessDenied:
		return http.StatusForbidden
	case CodeRoomNotFound, CodeBookingNotFound:
		return http.StatusNotFound
	case CodeDuplicateActiveRoom:
		return http.StatusConflict
	case CodePersistence:
		return http.StatusServiceUnavailable
	case CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show a client. Internal errors are
// collapsed so driver details never leak.
func PublicMessage(err error) string {
	switch Code(err) {
	case CodeInternal:
		return "internal server error"
	case CodePersistence:
		return ErrPersistence.Error()
	default:
		return err.Error()
	}
}
