package types

import "fmt"

// ErrorCode represents a unified error code across the system.
type ErrorCode string

// Classification and planning error codes
const (
	ErrNotMedicalQuery ErrorCode = "NOT_MEDICAL_QUERY"
	ErrPlanningFailed  ErrorCode = "PLANNING_FAILED"
	ErrPlanInvalid     ErrorCode = "PLAN_INVALID"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrUpstreamError   ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
)

// Agent session error codes
const (
	ErrInvalidCriteria  ErrorCode = "INVALID_CRITERIA"
	ErrSessionInit      ErrorCode = "SESSION_INIT"
	ErrObservation      ErrorCode = "OBSERVATION_FAILED"
	ErrActionFailed     ErrorCode = "ACTION_FAILED"
	ErrActionTimeout    ErrorCode = "ACTION_TIMEOUT"
	ErrTooManyFailures  ErrorCode = "TOO_MANY_FAILURES"
	ErrExtractionFailed ErrorCode = "EXTRACTION_FAILED"
	ErrExtractionSchema ErrorCode = "EXTRACTION_SCHEMA"
	ErrUnknownInsurer   ErrorCode = "UNKNOWN_INSURER"
)

// Error represents a structured error with code, message, and metadata.
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

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
