package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the key was absent or expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// revalidationGrace keeps an entry in Redis past its expiry so a stale
// entry can still be revalidated with a conditional request.
const revalidationGrace = 10 * time.Minute

// Manager stores page responses in Redis.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a cache manager. It panics on a nil client.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Get returns the stored entry for key, fresh or stale.
// Returns ErrCacheMiss if nothing is stored.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		CacheMisses.Inc()
	} else {
		CacheHits.Inc()
	}
	return &entry, nil
}

// Set stores entry under key. Entries without a validator are dropped from
// Redis at expiry; entries with one are kept a little longer for
// revalidation.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ShouldMakeConditionalRequest(entry) {
		ttl += revalidationGrace
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes an entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Renew extends an entry after a 304 Not Modified answer.
func (m *Manager) Renew(ctx context.Context, key Key, entry *Entry, newExpires time.Time) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	renewed := *entry
	renewed.Expires = newExpires
	renewed.CachedAt = time.Now()
	return m.Set(ctx, key, &renewed)
}
