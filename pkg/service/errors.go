package service

import (
	"context"
	"errors"
	"fmt"

	"bournemouth-hq/relay/pkg/openrouter"
)

// ErrDraining is returned by calls made while the pool is shutting
// down. Callers should fail fast rather than queue behind the drain.
var ErrDraining = errors.New("service: pool is shutting down")

// TimeoutError reports that the upstream did not answer in time.
// It is the "retry later" half of the service error taxonomy.
type TimeoutError struct {
	// Cause is the underlying client error.
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("service: upstream timeout: %v", e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// BadGatewayError reports that the upstream returned an error or the
// exchange failed in a way that is not a plain timeout. It is the
// "upstream is broken" half of the service error taxonomy.
type BadGatewayError struct {
	// Cause is the underlying client error.
	Cause error
}

// Error implements the error interface.
func (e *BadGatewayError) Error() string {
	return fmt.Sprintf("service: upstream failure: %v", e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *BadGatewayError) Unwrap() error {
	return e.Cause
}

// mapClientError collapses the client error taxonomy into the two
// boundary-facing categories. Context cancellation passes through
// unmapped so callers can distinguish their own teardown from an
// upstream condition.
func mapClientError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrDraining) {
		return err
	}
	var timeout *openrouter.TimeoutError
	if errors.As(err, &timeout) {
		return &TimeoutError{Cause: err}
	}
	return &BadGatewayError{Cause: err}
}
