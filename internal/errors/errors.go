// Package errors provides the structured error taxonomy of the resilience
// core: transient remote failures, authorization loss, remote business
// rejections, and local storage faults, with HTTP status mapping for the
// loopback API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes an error for handling policy, metrics and response
// formatting.
type ErrorType string

const (
	// TypeTransient indicates a network/timeout failure against the remote
	// service; retried or tolerated, never fatal to the session.
	TypeTransient ErrorType = "transient"
	// TypeAuth indicates authorization loss: the remote knows of no role for
	// a principal with no prior profile. Requires explicit user action.
	TypeAuth ErrorType = "auth"
	// TypeRemoteReject indicates a business rejection from the remote
	// service (constraint violation on insert). The item stays queued.
	TypeRemoteReject ErrorType = "remote_reject"
	// TypeStorage indicates a local durable-store failure; fatal to the
	// specific operation, never silently swallowed.
	TypeStorage ErrorType = "storage"
	// TypeValidation indicates invalid input on the loopback API.
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates a missing resource on the loopback API.
	TypeNotFound ErrorType = "not_found"
)

// Error is a structured error with type, message, cause and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error type to a loopback API status code.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeAuth:
		return http.StatusUnauthorized
	case TypeNotFound:
		return http.StatusNotFound
	case TypeRemoteReject:
		return http.StatusUnprocessableEntity
	case TypeTransient:
		return http.StatusServiceUnavailable
	case TypeStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Transient creates a transient-remote error.
func Transient(message string, cause error) *Error {
	return &Error{Type: TypeTransient, Message: message, Cause: cause}
}

// Auth creates an authorization-loss error.
func Auth(message string) *Error {
	return &Error{Type: TypeAuth, Message: message}
}

// RemoteReject creates a remote business-rejection error.
func RemoteReject(message string, cause error) *Error {
	return &Error{Type: TypeRemoteReject, Message: message, Cause: cause}
}

// Storage creates a local-storage error.
func Storage(message string, cause error) *Error {
	return &Error{Type: TypeStorage, Message: message, Cause: cause}
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return &Error{Type: TypeValidation, Message: message}
}

// NotFound creates a not-found error.
func NotFound(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message}
}

// WithContext adds a context field to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsType reports whether err is (or wraps) a structured error of type t.
func IsType(err error, t ErrorType) bool {
	var structured *Error
	return errors.As(err, &structured) && structured.Type == t
}

// ErrorResponse is the JSON shape sent to the UI.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// AsStructured converts any error into a structured Error. If err is already
// an *Error it is returned unchanged; anything else becomes a storage-typed
// internal error.
func AsStructured(err error) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}

	return &Error{Type: TypeStorage, Message: "internal error", Cause: err}
}
