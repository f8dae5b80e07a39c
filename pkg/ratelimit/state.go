// Package ratelimit tracks the marketplace API request quota and gates
// outgoing requests. It reads the X-RateLimit-Remaining and X-RateLimit-Reset
// headers and keeps the latest state in Redis so every client process
// sharing an API key sees the same quota.
package ratelimit

import (
	"time"
)

// Response headers carrying the quota.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset" // seconds until the window resets
)

// RedisKeyQuota is the hash holding the shared quota state.
const RedisKeyQuota = "mkt:quota"

// Thresholds decide when requests are blocked or slowed down.
type Thresholds struct {
	// Critical blocks requests while fewer than this many remain.
	Critical int
	// Warning throttles requests while fewer than this many remain.
	Warning int
	// Healthy marks the state healthy at or above this many.
	Healthy int
}

// DefaultThresholds returns thresholds for the default API plan
// (120 requests per window).
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: 3,
		Warning:  15,
		Healthy:  40,
	}
}

// QuotaState is the last known request quota.
type QuotaState struct {
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	LastUpdate time.Time `json:"last_update"`
	// Known is false until a response carried quota headers.
	Known bool `json:"known"`
}

// IsStale returns true if the state is older than maxAge.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *QuotaState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// active reports whether the recorded window still applies.
func (s *QuotaState) active() bool {
	return s.Known && time.Now().Before(s.ResetAt)
}

// NeedsBlock returns true if requests must wait for the window to reset.
func (s *QuotaState) NeedsBlock(th Thresholds) bool {
	return s.active() && s.Remaining < th.Critical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *QuotaState) NeedsThrottling(th Thresholds) bool {
	return s.active() && s.Remaining < th.Warning && !s.NeedsBlock(th)
}

// IsHealthy returns true when no restriction is near.
func (s *QuotaState) IsHealthy(th Thresholds) bool {
	return !s.active() || s.Remaining >= th.Healthy
}
