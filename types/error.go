package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Task error codes
const (
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrTransient    ErrorCode = "TRANSIENT"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// Host error codes
const (
	ErrHeartbeatTimeout ErrorCode = "HEARTBEAT_TIMEOUT"
	ErrAttemptTimeout   ErrorCode = "ATTEMPT_TIMEOUT"
	ErrAttemptsExceeded ErrorCode = "ATTEMPTS_EXCEEDED"
)

// Adapter error codes
const (
	ErrCheckpointDecode ErrorCode = "CHECKPOINT_DECODE"
	ErrAlreadyRun       ErrorCode = "ALREADY_RUN"
	ErrNotFinished      ErrorCode = "NOT_FINISHED"
)

// API error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
)

// Error represents a structured error with code, message, and retry hint.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewNonRetryable builds an error the host must not retry, such as input
// that can never succeed.
func NewNonRetryable(message string) *Error {
	return &Error{Code: ErrInvalidInput, Message: message, Retryable: false}
}

// NewTransient builds an error the host is expected to retry with backoff.
func NewTransient(message string) *Error {
	return &Error{Code: ErrTransient, Message: message, Retryable: true}
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried. Errors without a
// structured code are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return true
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
