package beachapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds matched with errors.Is.
var (
	ErrNetwork = errors.New("network error")
	ErrParse   = errors.New("parse error")

	ErrBatchEmpty    = errors.New("batch request needs at least one beach id")
	ErrBatchTooLarge = fmt.Errorf("batch request exceeds %d beach ids", MaxBatchSize)
)

// NetworkError reports a transport failure or a non-success HTTP status.
type NetworkError struct {
	// Op is the client operation, e.g. "GetBeachWeather".
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Detail is the backend's error detail, when it sent one.
	Detail string

	Err error
}

func (e *NetworkError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is makes every NetworkError match ErrNetwork.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// NotFound reports whether the backend answered 404.
func (e *NetworkError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// ParseError reports a response body that could not be decoded or failed validation.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes every ParseError match ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// IsNotFound reports whether err carries a 404 from the backend.
func IsNotFound(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr) && netErr.NotFound()
}

// IsRetryable reports whether repeating the call might succeed: transport
// failures, 5xx and 429 are retryable; other statuses, malformed bodies and
// cancellations are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		return false
	}
	switch {
	case netErr.StatusCode == 0:
		return true
	case netErr.StatusCode == http.StatusTooManyRequests:
		return true
	case netErr.StatusCode >= 500:
		return true
	default:
		return false
	}
}
