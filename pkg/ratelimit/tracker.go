package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagedlist_api_quota_remaining",
		Help: "Requests remaining in the current API quota window",
	})

	quotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagedlist_api_quota_blocks_total",
		Help: "Requests blocked because the API quota is critical",
	})

	quotaThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagedlist_api_quota_throttles_total",
		Help: "Requests delayed because the API quota is low",
	})
)

// Tracker records the API quota in Redis and gates requests on it.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	thresholds    Thresholds
	throttleDelay time.Duration
	staleAfter    time.Duration
}

// DefaultStaleAfter is how long a recorded quota is trusted without a newer
// response confirming it.
const DefaultStaleAfter = 2 * time.Minute

// NewTracker creates a tracker with DefaultThresholds.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		thresholds:    DefaultThresholds(),
		throttleDelay: 500 * time.Millisecond,
		staleAfter:    DefaultStaleAfter,
	}
}

// WithThresholds returns the tracker using th.
func (t *Tracker) WithThresholds(th Thresholds) *Tracker {
	t.thresholds = th
	return t
}

// WithThrottleDelay returns the tracker sleeping d per throttled request.
func (t *Tracker) WithThrottleDelay(d time.Duration) *Tracker {
	t.throttleDelay = d
	return t
}

// WithStaleAfter returns the tracker ignoring quota states older than d.
func (t *Tracker) WithStaleAfter(d time.Duration) *Tracker {
	t.staleAfter = d
	return t
}

// Thresholds returns the active thresholds.
func (t *Tracker) Thresholds() Thresholds {
	return t.thresholds
}

// GetState reads the shared quota state. An empty Redis yields an unknown
// (healthy) state.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	fields, err := t.redis.HGetAll(ctx, RedisKeyQuota).Result()
	if err != nil {
		return nil, fmt.Errorf("get quota state: %w", err)
	}
	if len(fields) == 0 {
		return &QuotaState{}, nil
	}

	remaining, err := strconv.Atoi(fields["remaining"])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetUnix, err := strconv.ParseInt(fields["reset_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset_at: %w", err)
	}
	updatedUnix, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &QuotaState{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: time.UnixMilli(updatedUnix),
		Known:      true,
	}, nil
}

// UpdateFromHeaders stores the quota carried by a response, if any.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, ok, err := parseHeaders(headers, time.Now())
	if err != nil || !ok {
		return err
	}

	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, RedisKeyQuota, map[string]any{
		"remaining":  state.Remaining,
		"reset_at":   state.ResetAt.Unix(),
		"updated_at": state.LastUpdate.UnixMilli(),
	})
	pipe.ExpireAt(ctx, RedisKeyQuota, state.ResetAt.Add(time.Minute))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota state in redis: %w", err)
	}

	quotaRemaining.Set(float64(state.Remaining))

	event := t.logger.Debug()
	switch {
	case state.NeedsBlock(t.thresholds):
		event = t.logger.Error()
	case state.NeedsThrottling(t.thresholds):
		event = t.logger.Warn()
	}
	event.
		Int("remaining", state.Remaining).
		Time("reset_at", state.ResetAt).
		Msg("API quota updated")

	return nil
}

// ShouldAllowRequest reports whether a request may be sent now. It returns
// false while the quota is critical and sleeps (honouring ctx) while it is
// low.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get quota state: %w", err)
	}

	if state.Known && state.IsStale(t.staleAfter) {
		// No response has confirmed the quota lately; let the request through
		// so its headers refresh the state.
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("last_update", state.LastUpdate).
			Msg("Ignoring stale API quota state")
		return true, nil
	}

	if state.NeedsBlock(t.thresholds) {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("API quota critical - blocking request")
		quotaBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling(t.thresholds) {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("delay", t.throttleDelay).
			Msg("API quota low - throttling request")
		quotaThrottlesTotal.Inc()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.throttleDelay):
		}
	}

	return true, nil
}

// Healthy reports whether the shared quota is clear of every threshold.
// An unknown or stale state counts as healthy.
func (t *Tracker) Healthy(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, err
	}
	if state.Known && state.IsStale(t.staleAfter) {
		return true, nil
	}
	return state.IsHealthy(t.thresholds), nil
}

// parseHeaders extracts a quota state. ok is false when the response carries
// no quota headers.
func parseHeaders(headers http.Header, now time.Time) (state QuotaState, ok bool, err error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return QuotaState{}, false, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return QuotaState{}, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return QuotaState{}, false, fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return QuotaState{}, false, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	return QuotaState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
		Known:      true,
	}, true, nil
}
