// Package apierr defines the typed errors returned by every exposed
// operation. Each error carries a stable machine-readable code that callers
// depend on as an integration contract, alongside the HTTP status it maps to.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes. These are part of the API contract and must
// never be renamed.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeInvalidCursor         = "invalid_cursor"
	CodeUserNotFound          = "user_not_found"
	CodeFriendshipNotFound    = "friendship_not_found"
	CodePostNotFound          = "post_not_found"
	CodeAlreadyFriends        = "already_friends"
	CodeRequestPending        = "request_pending"
	CodeAlreadyAccepted       = "already_accepted"
	CodeNotAddressee          = "not_addressee"
	CodeBlocked               = "blocked"
	CodeAccessDenied          = "access_denied"
	CodeDependencyUnavailable = "dependency_unavailable"
)

// Error is a typed API error with a stable code and HTTP status.
type Error struct {
	Code    string // Machine-readable error code
	Status  int    // HTTP status the error maps to
	Message string // Human-readable description
	Err     error  // Underlying cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a 400 error for malformed or self-referential input.
func Validation(code, message string) *Error {
	return &Error{Code: code, Status: http.StatusBadRequest, Message: message}
}

// NotFound returns a 404 error for unknown users, friendships, or posts.
func NotFound(code, message string) *Error {
	return &Error{Code: code, Status: http.StatusNotFound, Message: message}
}

// Conflict returns a 409 error for duplicate or already-settled requests.
func Conflict(code, message string) *Error {
	return &Error{Code: code, Status: http.StatusConflict, Message: message}
}

// Forbidden returns a 403 error for role or privacy violations.
func Forbidden(code, message string) *Error {
	return &Error{Code: code, Status: http.StatusForbidden, Message: message}
}

// Dependency returns a 500 error wrapping a store or downstream failure.
// The underlying cause is preserved for logging but never serialized to
// clients.
func Dependency(err error) *Error {
	return &Error{
		Code:    CodeDependencyUnavailable,
		Status:  http.StatusInternalServerError,
		Message: "a backing service is unavailable, please retry",
		Err:     err,
	}
}

// From extracts a typed API error from err, or wraps it as a dependency
// failure when it carries no API semantics of its own.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Dependency(err)
}

// IsCode reports whether err is an API error with the given code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
