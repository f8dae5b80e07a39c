package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_api_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagedlist_api_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps any single wait.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
// A list screen waits on these retries, so they stay short.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ForErrorClass derives the configuration for one error class.
func (rc RetryConfig) ForErrorClass(errorClass ErrorClass) RetryConfig {
	out := rc
	switch errorClass {
	case ErrorClassRateLimit:
		out.InitialBackoff = rc.InitialBackoff * 4
	case ErrorClassNetwork:
		out.InitialBackoff = rc.InitialBackoff * 2
	}
	if out.InitialBackoff > out.MaxBackoff {
		out.InitialBackoff = out.MaxBackoff
	}
	return out
}

// backoffFor returns the wait after the given (1-based) failed attempt.
func (rc RetryConfig) backoffFor(attempt int) time.Duration {
	backoff := float64(rc.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= rc.BackoffMultiplier
		if backoff >= float64(rc.MaxBackoff) {
			return rc.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// or the attempts for its error class run out. Waits are jittered by ±20%
// and respect ctx.
func retryWithBackoff(ctx context.Context, base RetryConfig, fn func() error, classify func(error) ErrorClass) error {
	var lastErr error
	var errorClass ErrorClass

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass = classify(err)
		if !shouldRetry(errorClass) {
			return lastErr
		}

		config := base.ForErrorClass(errorClass)
		if attempt >= config.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
			log.Warn().
				Str("error_class", string(errorClass)).
				Int("max_attempts", config.MaxAttempts).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, lastErr)
		}

		backoff := config.backoffFor(attempt)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > backoff {
			backoff = min(apiErr.RetryAfter, config.MaxBackoff)
		}
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))

		retriesTotal.WithLabelValues(string(errorClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		log.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}
	}
}
