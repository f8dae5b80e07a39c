package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL applies when a response carries no freshness information.
	// Listings change often, so it is short.
	DefaultTTL = 30 * time.Second
)

// ResponseToEntry converts an HTTP response to an Entry.
// The response body is read and restored for the caller.
func ResponseToEntry(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now()
	entry := &Entry{
		Data:       body,
		ETag:       resp.Header.Get("ETag"),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		CachedAt:   now,
		Expires:    parseExpiry(resp.Header, now),
	}

	if lastModStr := resp.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, nil
}

// EntryToResponse rebuilds an HTTP response from a cached entry.
func EntryToResponse(entry *Entry) *http.Response {
	header := entry.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Cache", "HIT")
	if !entry.CachedAt.IsZero() {
		header.Set("Age", strconv.Itoa(int(entry.Age().Seconds())))
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
	}
}

// Cacheable reports whether the response may be stored.
func Cacheable(resp *http.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	for _, directive := range cacheControl(resp.Header) {
		if directive == "no-store" {
			return false
		}
	}
	return true
}

// Expiry resolves when a response carrying headers goes stale.
func Expiry(headers http.Header) time.Time {
	return parseExpiry(headers, time.Now())
}

// parseExpiry resolves when a response goes stale: max-age first, then
// Expires, then DefaultTTL.
func parseExpiry(headers http.Header, now time.Time) time.Time {
	for _, directive := range cacheControl(headers) {
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
				return now.Add(time.Duration(seconds) * time.Second)
			}
		}
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(DefaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(DefaultTTL)
	}
	if expires.Before(now) {
		return now
	}
	return expires
}

func cacheControl(headers http.Header) []string {
	raw := headers.Get("Cache-Control")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(part))
	}
	return parts
}

// ShouldMakeConditionalRequest reports whether the entry carries a validator.
func ShouldMakeConditionalRequest(entry *Entry) bool {
	if entry == nil {
		return false
	}
	return entry.ETag != "" || !entry.LastModified.IsZero()
}

// AddConditionalHeaders sets If-None-Match, or If-Modified-Since when the
// entry has no ETag.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}
