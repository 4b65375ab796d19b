package types

import "fmt"

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Provider call error codes
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrForbidden       ErrorCode = "FORBIDDEN"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError   ErrorCode = "UPSTREAM_ERROR"
	ErrResponseParse   ErrorCode = "RESPONSE_PARSE"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Council pipeline error codes
const (
	ErrAllProvidersFailed ErrorCode = "ALL_PROVIDERS_FAILED"
	ErrChairmanFailed     ErrorCode = "CHAIRMAN_FAILED"
	ErrRankingParse       ErrorCode = "RANKING_PARSE"
	ErrQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrAuthRequired       ErrorCode = "AUTH_REQUIRED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
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

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider or model identifier the error came from.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
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

// NewQuotaExceededError builds the distinguished quota denial error.
// Surfaced at the boundary as HTTP 402 before any stage begins.
func NewQuotaExceededError(used, cap int64) *Error {
	return &Error{
		Code:       ErrQuotaExceeded,
		Message:    fmt.Sprintf("monthly token quota exceeded: %d of %d used", used, cap),
		HTTPStatus: 402,
		Retryable:  false,
	}
}
