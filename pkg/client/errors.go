package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for API operations.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the token was missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the token lacks permission for the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrThrottled indicates the request was rate limited by the service.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the service returned a server error.
	ErrUnavailable = errors.New("service unavailable")

	// ErrMalformedResponse indicates the response body could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError wraps a failed API call with context.
type APIError struct {
	// Op is the operation that failed (e.g., "Job", "JobLogs").
	Op string

	// JobID is the job involved, if applicable.
	JobID string

	// Status is the HTTP status code, if the request reached the server.
	Status int

	// Message is the server-reported error message, if any.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("beaker %s: %s: [code=%d] %s", e.Op, e.JobID, e.Status, e.Message)
	}
	if e.JobID != "" {
		return fmt.Sprintf("beaker %s: %s: %v", e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("beaker %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized reports whether the error indicates a rejected token.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsThrottled reports whether the error indicates service rate limiting.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsUnavailable reports whether the error indicates a server-side failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRetryable classifies an error as transient.
//
// Throttling, server errors, timeouts, and connection failures are
// transient. Everything else (other 4xx, decode failures, local
// validation) is fatal and must not be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// errorForStatus maps an HTTP status code to a sentinel error. Codes
// without a dedicated sentinel map to nil and are reported through
// APIError alone.
func errorForStatus(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status == 401:
		return ErrUnauthorized
	case status == 403:
		return ErrForbidden
	case status == 429:
		return ErrThrottled
	case status >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}
