package openrouter

import (
	"errors"
	"fmt"
)

// ErrClientNotInitialized is returned when an exchange method is called
// before Open or after Close. This is a programmer error and is never
// retried.
var ErrClientNotInitialized = errors.New("openrouter: client not initialized")

// NetworkError represents a transport-level failure: the upstream
// connection itself failed before a status code was received.
type NetworkError struct {
	// Cause is the underlying transport error.
	Cause error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("openrouter: network error: %v", e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents a request that exceeded its deadline. It is
// kept distinct from NetworkError so callers can treat timeouts as
// retryable.
type TimeoutError struct {
	// Cause is the underlying timeout error.
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("openrouter: request timed out: %v", e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// APIError is the base type for errors derived from an upstream HTTP
// status >= 400. It carries the status code and any structured details
// the upstream included in the error body.
type APIError struct {
	// StatusCode is the HTTP status the upstream returned.
	StatusCode int

	// Details is the decoded error payload, nil when the body was
	// missing or malformed.
	Details *ErrorDetails
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != nil && e.Details.Message != "" {
		return fmt.Sprintf("openrouter: API error %d: %s", e.StatusCode, e.Details.Message)
	}
	return fmt.Sprintf("openrouter: API error %d", e.StatusCode)
}

// AuthenticationError reports a rejected credential (HTTP 401).
type AuthenticationError struct{ APIError }

// InsufficientCreditsError reports an exhausted account (HTTP 402).
type InsufficientCreditsError struct{ APIError }

// PermissionError reports a forbidden operation (HTTP 403).
type PermissionError struct{ APIError }

// RateLimitError reports a rate-limited request (HTTP 429).
type RateLimitError struct{ APIError }

// InvalidRequestError reports a request the upstream rejected (HTTP 400).
type InvalidRequestError struct{ APIError }

// ServerError reports an upstream-side failure (HTTP 5xx).
type ServerError struct{ APIError }

// Unwrap exposes the embedded APIError so errors.As matches the whole
// family through the base type.
func (e *AuthenticationError) Unwrap() error      { return &e.APIError }
func (e *InsufficientCreditsError) Unwrap() error { return &e.APIError }
func (e *PermissionError) Unwrap() error          { return &e.APIError }
func (e *RateLimitError) Unwrap() error           { return &e.APIError }
func (e *InvalidRequestError) Unwrap() error      { return &e.APIError }
func (e *ServerError) Unwrap() error              { return &e.APIError }

// mapStatusError returns the typed error for an upstream status code.
// The mapping is total: unlisted 4xx/5xx codes fall through to the
// generic APIError.
func mapStatusError(status int, details *ErrorDetails) error {
	base := APIError{StatusCode: status, Details: details}
	switch {
	case status == 401:
		return &AuthenticationError{base}
	case status == 402:
		return &InsufficientCreditsError{base}
	case status == 403:
		return &PermissionError{base}
	case status == 429:
		return &RateLimitError{base}
	case status == 400:
		return &InvalidRequestError{base}
	case status >= 500:
		return &ServerError{base}
	default:
		return &base
	}
}

// RequestError reports a request that could not be serialized to the
// wire schema. It is raised before any network I/O occurs.
type RequestError struct {
	// Cause is the underlying validation or encoding error.
	Cause error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("openrouter: invalid request: %v", e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// DecodeError reports a response body or stream chunk that failed to
// decode. It indicates a local contract bug or upstream schema drift,
// never an upstream availability condition.
type DecodeError struct {
	// RawResponse is the payload that failed to decode.
	RawResponse string

	// Cause is the underlying decode error.
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("openrouter: response decode error: %v", e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}
