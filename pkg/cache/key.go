package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const keyPrefix = "mkt:page"

// Key identifies a cached page response.
type Key struct {
	// Endpoint is the API path (e.g. "/v1/me/ads").
	Endpoint string

	// Query holds the paging and filter parameters.
	Query url.Values

	// Scope separates per-user responses; empty for public endpoints.
	Scope string
}

// String generates a deterministic Redis key.
// Format: mkt:page:endpoint:q1=v1:q2=v2a,v2b:scope=abc
//
// Example:
//
//	mkt:page:v1/products/featured:limit=20:page=2
func (k Key) String() string {
	parts := []string{keyPrefix}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Query[name], ",")))
		}
	}

	if k.Scope != "" {
		parts = append(parts, "scope="+k.Scope)
	}

	return strings.Join(parts, ":")
}

// ScopeFor derives a cache scope from an Authorization header value.
// The raw credential never reaches Redis.
func ScopeFor(authorization string) string {
	if authorization == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(authorization))
	return hex.EncodeToString(sum[:8])
}
