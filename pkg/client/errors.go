package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the executor.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrMalformedResponse is returned for a 200 response whose body is
	// empty, null, or not valid JSON.
	ErrMalformedResponse = errors.New("malformed response body")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (except 429).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassMalformed represents unparsable 200 response bodies.
	ErrorClassMalformed ErrorClass = "malformed"

	// ErrorClassUnexpected represents statuses outside the known set.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// APIError represents a Jira request failure with additional context.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jira %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("jira %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if a failure should consume a retry attempt.
// 429 responses are handled separately and never touch the budget.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassClient:
		// 4xx errors are the caller's fault, retrying cannot help
		return false
	case ErrorClassServer:
		return true
	case ErrorClassNetwork:
		return true
	case ErrorClassMalformed:
		return false
	default:
		return false
	}
}
