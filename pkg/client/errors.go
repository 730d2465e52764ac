package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the session.
var (
	// ErrThrottleExhausted is returned when a bounded throttle policy runs out of attempts.
	ErrThrottleExhausted = errors.New("throttle retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while waiting out a throttle.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrTokenUnavailable is returned when the token supplier fails.
	ErrTokenUnavailable = errors.New("access token unavailable")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassThrottle represents 429 responses.
	ErrorClassThrottle ErrorClass = "throttle"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassUnexpected represents non-2xx statuses below 400 where a
	// success was required.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// classifyStatus maps an HTTP status to an error class. Returns "" below 400.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassThrottle
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// GraphError is a failed single request. Message is the text surfaced to
// users: either the policy message or a caller's RaiseOn override.
type GraphError struct {
	StatusCode int
	Class      ErrorClass
	Method     string
	URL        string
	Message    string
	Body       []byte
	Err        error
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *GraphError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a GraphError with status 404.
func IsNotFound(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge) && ge.StatusCode == 404
}
