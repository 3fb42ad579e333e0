// Package core holds the error vocabulary shared by the gateway packages.
package core

import (
	"fmt"
	"net/http"
)

// Error is the canonical gateway error. It is what HTTP clients see and what
// the LLM boundary returns for upstream failures.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Status     int       `json:"-"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the transport error behind a provider error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
	ErrTimeout        ErrorType = "timeout_error"
)

func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{Type: ErrRateLimit, Message: message, RetryAfter: &retryAfter}
}

func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

func NewOverloadedError(message string) *Error {
	return &Error{Type: ErrOverloaded, Message: message}
}

// NewProviderError wraps a transport-level failure talking to an upstream
// provider (connection refused, TLS, truncated body).
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:     ErrProvider,
		Message:  fmt.Sprintf("%s: %v", provider, underlying),
		Provider: provider,
		cause:    underlying,
	}
}

// NewUpstreamStatusError classifies a non-2xx upstream HTTP response.
func NewUpstreamStatusError(provider string, status int, message string, retryAfter *int) *Error {
	e := &Error{
		Message:    message,
		Provider:   provider,
		Status:     status,
		RetryAfter: retryAfter,
	}
	switch {
	case status == http.StatusTooManyRequests:
		e.Type = ErrRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Type = ErrAuthentication
	case status == http.StatusNotFound:
		e.Type = ErrNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Type = ErrTimeout
	case status == 529 || status == http.StatusServiceUnavailable:
		e.Type = ErrOverloaded
	case status >= 500:
		e.Type = ErrAPI
	default:
		e.Type = ErrInvalidRequest
	}
	return e
}

// IsRetryable reports whether repeating the same request may succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI, ErrProvider, ErrTimeout:
		return true
	default:
		return false
	}
}
