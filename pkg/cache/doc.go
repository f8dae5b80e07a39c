// Package cache keeps marketplace API page responses in Redis so repeated
// page fetches can be answered from cache or revalidated with a conditional
// request.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Endpoint: "/v1/products/featured",
//		Query:    url.Values{"page": {"2"}, "limit": {"20"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
// # Freshness
//
// An entry lives for Cache-Control max-age when present, else until the
// Expires header, else DefaultTTL. Responses marked no-store are never
// cached. Entries carrying an ETag or Last-Modified are revalidated with
// If-None-Match / If-Modified-Since; a 304 renews the stored entry.
//
// # Scoping
//
// Pages of authenticated endpoints ("my ads", "my posts") differ per user.
// Key.Scope carries a short digest of the Authorization header so users never
// see each other's pages; see ScopeFor.
//
// # Metrics
//
//   - pagedlist_cache_hits_total
//   - pagedlist_cache_misses_total
//   - pagedlist_cache_errors_total{operation}
//   - pagedlist_cache_not_modified_total
//   - pagedlist_cache_conditional_requests_total
package cache
