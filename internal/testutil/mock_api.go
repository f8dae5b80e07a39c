// Package testutil provides a mock marketplace API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// PageStyle is how a list endpoint addresses its pages.
type PageStyle int

const (
	// StylePage reads a 1-based "page" parameter.
	StylePage PageStyle = iota
	// StyleOffset reads an "offset" parameter.
	StyleOffset
)

// Dataset is the full remote list behind one endpoint.
type Dataset struct {
	// Items are encoded as JSON one page at a time.
	Items []any

	Style PageStyle

	// SizeParam names the page size parameter ("limit" when empty).
	SizeParam string

	// Envelope wraps pages in {"<Envelope>": [...]}; empty serves a bare array.
	Envelope string

	// RequireAuth answers 401 to requests without an Authorization header.
	RequireAuth bool
}

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

type failure struct {
	remaining int
	status    int
}

// MockAPI is a configurable mock marketplace API.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	datasets map[string]Dataset
	pages    map[string]map[int]string
	failures map[string]*failure
	delays   map[string]time.Duration

	quotaRemaining int
	quotaReset     int

	requestCount      int
	conditionalCount  int
	pathCounts        map[string]int
	lastRequestHeader http.Header
}

// NewMockAPI starts a mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:       make(map[string]http.HandlerFunc),
		datasets:       make(map[string]Dataset),
		pages:          make(map[string]map[int]string),
		failures:       make(map[string]*failure),
		delays:         make(map[string]time.Duration),
		pathCounts:     make(map[string]int),
		quotaRemaining: -1,
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
}

// SetDataset serves items from path, paginated per the query.
func (m *MockAPI) SetDataset(path string, ds Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[path] = ds
}

// SetPage overrides the raw body served for one page of a dataset. For
// offset-style datasets the page is offset/limit + 1.
func (m *MockAPI) SetPage(path string, page int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pages[path] == nil {
		m.pages[path] = make(map[int]string)
	}
	m.pages[path][page] = body
}

// FailNext answers the next n requests to path with status.
func (m *MockAPI) FailNext(path string, n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = &failure{remaining: n, status: status}
}

// SetDelay delays every response on path.
func (m *MockAPI) SetDelay(path string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[path] = d
}

// SetQuota adds X-RateLimit headers to every response.
func (m *MockAPI) SetQuota(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaRemaining = remaining
	m.quotaReset = resetSeconds
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// ConditionalCount returns the number of conditional requests.
func (m *MockAPI) ConditionalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditionalCount
}

// PathCount returns the number of requests made to path.
func (m *MockAPI) PathCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pathCounts[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequestHeader.Clone()
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	m.mu.Lock()
	m.requestCount++
	m.pathCounts[path]++
	m.lastRequestHeader = r.Header.Clone()
	if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
		m.conditionalCount++
	}
	delay := m.delays[path]
	var failStatus int
	if f := m.failures[path]; f != nil && f.remaining > 0 {
		f.remaining--
		failStatus = f.status
	}
	handler := m.handlers[path]
	ds, hasDataset := m.datasets[path]
	if m.quotaRemaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(m.quotaRemaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(m.quotaReset))
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	switch {
	case failStatus != 0:
		writeError(w, failStatus, "injected failure")
	case handler != nil:
		handler(w, r)
	case hasDataset:
		m.serveDataset(w, r, path, ds)
	default:
		writeError(w, http.StatusNotFound, "no such endpoint")
	}
}

func (m *MockAPI) serveDataset(w http.ResponseWriter, r *http.Request, path string, ds Dataset) {
	if ds.RequireAuth && r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sizeParam := ds.SizeParam
	if sizeParam == "" {
		sizeParam = "limit"
	}
	query := r.URL.Query()
	size := queryInt(query.Get(sizeParam), 20)
	if size <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+sizeParam)
		return
	}

	var offset, page int
	switch ds.Style {
	case StyleOffset:
		offset = queryInt(query.Get("offset"), 0)
		if offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		page = offset/size + 1
	default:
		page = queryInt(query.Get("page"), 1)
		if page < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		offset = (page - 1) * size
	}

	m.mu.Lock()
	override, overridden := m.pages[path][page]
	m.mu.Unlock()

	var body []byte
	if overridden {
		body = []byte(override)
	} else {
		items := []any{}
		if offset < len(ds.Items) {
			items = ds.Items[offset:min(offset+size, len(ds.Items))]
		}
		var payload any = items
		if ds.Envelope != "" {
			payload = map[string]any{ds.Envelope: items}
		}
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	etag := etagFor(body)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "max-age=30")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func etagFor(body []byte) string {
	h := fnv.New64a()
	h.Write(body)
	return fmt.Sprintf(`"%x"`, h.Sum64())
}

func queryInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return n
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error": %q}`, message)
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type":          "application/json; charset=utf-8",
			"Retry-After":           strconv.Itoa(retryAfter),
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.Itoa(retryAfter),
		},
	}
}

// Numbered returns n items {"id": first+i, "title": "<prefix> <id>"}.
func Numbered(prefix string, first, n int) []any {
	items := make([]any, n)
	for i := range items {
		id := first + i
		items[i] = map[string]any{"id": id, "title": fmt.Sprintf("%s %d", prefix, id)}
	}
	return items
}
