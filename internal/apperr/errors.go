// Package apperr defines the coordinator's error taxonomy. Handlers fail
// closed with one of these before mutating any state; the signal adapter
// turns them into error events for the originating connection.
package apperr

import (
	"errors"
	"net/http"
)

type Error struct {
	Part    string `json:"part"`
	Tag     string `json:"tag"`
	Status  int    `json:"statusCode"`
	Message string `json:"message"`

	cause error
}

func (e *Error) Error() string { return e.Tag + ": " + e.Message }

// Is matches by tag so callers can compare against the constructors' output.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Tag == t.Tag
}

func newErr(part, tag string, status int, msg string) *Error {
	return &Error{Part: part, Tag: tag, Status: status, Message: msg}
}

func SessionExpired(part string) *Error {
	return newErr(part, "SESSION_EXPIRED", http.StatusUnauthorized, "session expired, please log in again")
}

func UserNotFound(part string) *Error {
	return newErr(part, "USER_NOT_FOUND", http.StatusNotFound, "user record not found")
}

func ServerNotFound(part string) *Error {
	return newErr(part, "SERVER_NOT_FOUND", http.StatusNotFound, "server not found")
}

func ChannelNotFound(part string) *Error {
	return newErr(part, "CHANNEL_NOT_FOUND", http.StatusNotFound, "channel not found")
}

func ChannelMismatch(part string) *Error {
	return newErr(part, "CHANNEL_MISMATCH", http.StatusBadRequest, "channel does not belong to the current server")
}

func NotFound(part string) *Error {
	return newErr(part, "NOT_FOUND", http.StatusNotFound, "not found")
}

func InsufficientPermission(part string) *Error {
	return newErr(part, "INSUFFICIENT_PERMISSION", http.StatusForbidden, "insufficient permission")
}

func Blocked(part string) *Error {
	return newErr(part, "BLOCKED", http.StatusForbidden, "you are blocked on this server")
}

func InsufficientVisibility(part string) *Error {
	return newErr(part, "INSUFFICIENT_VISIBILITY", http.StatusForbidden, "this server is not visible to you")
}

func InvalidPayload(part, msg string) *Error {
	return newErr(part, "INVALID_PAYLOAD", http.StatusBadRequest, msg)
}

func RateLimited(part string) *Error {
	return newErr(part, "RATE_LIMITED", http.StatusTooManyRequests, "too many attempts, slow down")
}

// Internal wraps an unexpected error. The cause stays server-side; the
// client only ever sees the sanitized message.
func Internal(part string, cause error) *Error {
	e := newErr(part, "EXCEPTION_ERROR", http.StatusInternalServerError, "internal server error")
	e.cause = cause
	return e
}

// cause is unexported so it never serializes toward a client.
func (e *Error) Unwrap() error { return e.cause }

// As keeps errors.As working through wrapping.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
