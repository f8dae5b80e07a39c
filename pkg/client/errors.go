package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrQuotaExhausted is returned when the shared API quota blocks a request.
	ErrQuotaExhausted = errors.New("api quota exhausted")

	// ErrCircuitOpen is returned while the circuit breaker rejects requests.
	ErrCircuitOpen = errors.New("api circuit open")
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (except 429).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError is a non-2xx answer from the marketplace API.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	RequestID  string
	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying later may succeed.
func (e *APIError) Temporary() bool {
	return shouldRetry(e.ErrorClass)
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// 4xx will fail again with the same request
		return false
	}
}
