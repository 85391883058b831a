// Package apperror provides domain-specific error types for Light Fox.
// These errors carry an HTTP status code and a user-safe message. The Echo
// error handler maps them to appropriate HTTP responses automatically.
//
// NEVER return raw database or infrastructure errors to the client. Always
// wrap them in an apperror type or return a generic internal error.
package apperror

import (
	"fmt"
	"net/http"
)

// Machine-readable error type classifiers used across the auth layer.
const (
	TypeDuplicateEmail     = "duplicate_email"
	TypeInvalidCredentials = "invalid_credentials"
	TypeAccountDisabled    = "account_disabled"
	TypeDeviceLimit        = "device_limit_exceeded"
	TypeRemote             = "remote_error"
	TypeNotFound           = "not_found"
	TypeUnauthorized       = "unauthorized"
	TypeForbidden          = "forbidden"
	TypeBadRequest         = "bad_request"
	TypeInternal           = "internal_error"
)

// AppError is the base error type for all domain errors. It carries an
// HTTP status code, a machine-readable error type, and a human-readable
// message safe to show to the client.
type AppError struct {
	// Code is the HTTP status code (e.g., 404, 400, 500).
	Code int `json:"-"`

	// Type is a machine-readable error classifier (e.g., "not_found").
	Type string `json:"type"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// --- Constructors for the auth error taxonomy ---

// NewDuplicateEmail creates a 409 error for registration with a taken email.
func NewDuplicateEmail() *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    TypeDuplicateEmail,
		Message: "an account with this email already exists",
	}
}

// NewInvalidCredentials creates a 401 error for failed login attempts.
// The message deliberately doesn't reveal whether the email exists.
func NewInvalidCredentials() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeInvalidCredentials,
		Message: "invalid email or password",
	}
}

// NewAccountDisabled creates a 403 error for logins to a blocked account.
func NewAccountDisabled() *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeAccountDisabled,
		Message: "account is blocked, please contact support",
	}
}

// NewDeviceLimit creates a 403 error for logins past the device cap.
func NewDeviceLimit(limit int) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeDeviceLimit,
		Message: fmt.Sprintf("device limit reached (maximum %d), unlink a device in settings or contact support", limit),
	}
}

// NewRemote creates a 502 error wrapping a remote directory failure.
// The cause is kept for logging and for transport-vs-domain classification.
func NewRemote(err error) *AppError {
	return &AppError{
		Code:     http.StatusBadGateway,
		Type:     TypeRemote,
		Message:  "the user directory is temporarily unavailable",
		Internal: err,
	}
}

// --- Generic constructors ---

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    TypeNotFound,
		Message: message,
	}
}

// NewBadRequest creates a 400 Bad Request error.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeBadRequest,
		Message: message,
	}
}

// NewUnauthorized creates a 401 Unauthorized error.
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeUnauthorized,
		Message: message,
	}
}

// NewForbidden creates a 403 Forbidden error.
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeForbidden,
		Message: message,
	}
}

// NewInternal creates a 500 Internal Server Error. The real error is stored
// in Internal for logging but the client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// IsType reports whether err is an *AppError with the given Type.
func IsType(err error, errType string) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == errType
}

// IsNotFound reports whether err is a not-found AppError.
func IsNotFound(err error) bool {
	return IsType(err, TypeNotFound)
}
