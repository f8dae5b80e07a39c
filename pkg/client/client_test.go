package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

type item struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestClient(t *testing.T, server *httptest.Server, mutate func(*Config)) *Client {
	t.Helper()

	cfg := DefaultConfig(server.URL, "pagedlist-test/1.0")
	cfg.Retry = fastRetry(3)
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{BaseURL: "https://api.example.com", UserAgent: "ua"}, false},
		{"missing base url", Config{UserAgent: "ua"}, true},
		{"relative base url", Config{BaseURL: "/api", UserAgent: "ua"}, true},
		{"malformed base url", Config{BaseURL: "http://[::1", UserAgent: "ua"}, true},
		{"missing user agent", Config{BaseURL: "https://api.example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c == nil {
				t.Fatal("New() returned nil client without error")
			}
		})
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	c, err := New(Config{BaseURL: "https://api.example.com", UserAgent: "ua"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	def := DefaultConfig("", "")
	if c.config.Timeout != def.Timeout {
		t.Errorf("Timeout = %v, want %v", c.config.Timeout, def.Timeout)
	}
	if c.config.Retry != def.Retry {
		t.Errorf("Retry = %+v, want %+v", c.config.Retry, def.Retry)
	}
	if c.config.Breaker != def.Breaker {
		t.Errorf("Breaker = %+v, want %+v", c.config.Breaker, def.Breaker)
	}
	if c.Cache() != nil {
		t.Error("Cache() should be nil without Redis")
	}
	if c.BreakerState() != gobreaker.StateClosed {
		t.Errorf("BreakerState() = %v, want closed", c.BreakerState())
	}
}

func TestGetJSON_Success(t *testing.T) {
	var gotQuery url.Values
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products/featured" {
			t.Errorf("path = %q, want /api/products/featured", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1,"name":"lamp"},{"id":2,"name":"desk"}]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, func(cfg *Config) {
		cfg.BaseURL = server.URL + "/api"
		cfg.TokenSource = func(context.Context) (string, error) { return "secret", nil }
	})

	var items []item
	query := url.Values{"page": {"2"}, "limit": {"20"}}
	if err := c.GetJSON(context.Background(), "products/featured", query, &items); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}

	if len(items) != 2 || items[1].Name != "desk" {
		t.Errorf("items = %+v", items)
	}
	if gotQuery.Get("page") != "2" || gotQuery.Get("limit") != "20" {
		t.Errorf("query = %v", gotQuery)
	}
	if got := gotHeaders.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}
	if got := gotHeaders.Get("User-Agent"); got != "pagedlist-test/1.0" {
		t.Errorf("User-Agent = %q", got)
	}
	if got := gotHeaders.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
	if gotHeaders.Get(RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestGetJSON_AnonymousWithoutToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Authorization = %q, want none", auth)
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, func(cfg *Config) {
		cfg.TokenSource = func(context.Context) (string, error) { return "", nil }
	})

	var items []item
	if err := c.GetJSON(context.Background(), "/products", nil, &items); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
}

func TestGetJSON_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "no such listing", http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	var items []item
	err := c.GetJSON(context.Background(), "/ads/mine", nil, &items)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Message, "no such listing") {
		t.Errorf("Message = %q, want body snippet", apiErr.Message)
	}
	if apiErr.RequestID == "" {
		t.Error("expected request id on error")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"id":7,"name":"chair"}]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	var items []item
	if err := c.GetJSON(context.Background(), "/products", nil, &items); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != 7 {
		t.Errorf("items = %+v", items)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
}

func TestGetJSON_RetryExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	var items []item
	err := c.GetJSON(context.Background(), "/products", nil, &items)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected wrapped 503 APIError, got %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
}

func TestGetJSON_RateLimitedThenOK(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, func(cfg *Config) {
		// caps the one second hint
		cfg.Retry.MaxBackoff = 20 * time.Millisecond
	})

	var items []item
	if err := c.GetJSON(context.Background(), "/products", nil, &items); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestGetJSON_DecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	var items []item
	err := c.GetJSON(context.Background(), "/products", nil, &items)
	if err == nil || !strings.Contains(err.Error(), "decode /products") {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestDo_TokenSourceError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	sessionErr := errors.New("session expired")
	c := newTestClient(t, server, func(cfg *Config) {
		cfg.TokenSource = func(context.Context) (string, error) { return "", sessionErr }
	})

	var items []item
	err := c.GetJSON(context.Background(), "/ads/mine", nil, &items)
	if !errors.Is(err, sessionErr) {
		t.Errorf("expected session error, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("no request should reach the server")
	}
}

func TestDo_KeepsCallerRequestID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(RequestIDHeader); got != "req-42" {
			t.Errorf("%s = %q, want req-42", RequestIDHeader, got)
		}
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/products", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
}

func TestDo_CircuitOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server, func(cfg *Config) {
		cfg.Retry.MaxAttempts = 1
		cfg.Breaker = BreakerConfig{Name: "test-breaker", MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute}
	})

	var items []item
	for i := 0; i < 2; i++ {
		if err := c.GetJSON(context.Background(), "/products", nil, &items); !errors.Is(err, ErrRetryExhausted) {
			t.Fatalf("call %d: expected ErrRetryExhausted, got %v", i, err)
		}
	}

	if c.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("BreakerState() = %v, want open", c.BreakerState())
	}

	err := c.GetJSON(context.Background(), "/products", nil, &items)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestDo_CancelledContextDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server, func(cfg *Config) {
		cfg.Retry = RetryConfig{MaxAttempts: 5, InitialBackoff: time.Minute, MaxBackoff: time.Minute, BackoffMultiplier: 2}
		cfg.Breaker = BreakerConfig{MinRequests: 1, FailureRatio: 0.1}
	})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		var items []item
		err := c.GetJSON(ctx, "/products", nil, &items)
		cancel()
		if !errors.Is(err, ErrContextCancelled) {
			t.Fatalf("expected ErrContextCancelled, got %v", err)
		}
	}

	if c.BreakerState() != gobreaker.StateClosed {
		t.Errorf("BreakerState() = %v, want closed", c.BreakerState())
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		min   time.Duration
		max   time.Duration
	}{
		{"empty", "", 0, 0},
		{"seconds", "3", 3 * time.Second, 3 * time.Second},
		{"zero", "0", 0, 0},
		{"garbage", "soon", 0, 0},
		{"past date", "Mon, 02 Jan 2006 15:04:05 GMT", 0, 0},
		{"future date", time.Now().Add(time.Minute).UTC().Format(http.TimeFormat), 50 * time.Second, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseRetryAfter(tt.value)
			if got < tt.min || got > tt.max {
				t.Errorf("parseRetryAfter(%q) = %v, want in [%v, %v]", tt.value, got, tt.min, tt.max)
			}
		})
	}
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestDo_ConditionalRequestServedFromCache(t *testing.T) {
	redisClient := setupTestRedis(t)

	var hits, notModified atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte(`[{"id":1,"name":"lamp"}]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, func(cfg *Config) {
		cfg.Redis = redisClient
	})

	for i := 0; i < 2; i++ {
		var items []item
		if err := c.GetJSON(context.Background(), "/products", url.Values{"page": {"1"}}, &items); err != nil {
			t.Fatalf("call %d: GetJSON() error = %v", i, err)
		}
		if len(items) != 1 || items[0].Name != "lamp" {
			t.Errorf("call %d: items = %+v", i, items)
		}
	}

	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2 (every read revalidates)", got)
	}
	if got := notModified.Load(); got != 1 {
		t.Errorf("304 responses = %d, want 1", got)
	}
}

func TestDo_CacheScopedByToken(t *testing.T) {
	redisClient := setupTestRedis(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			t.Errorf("user %q got a validator cached for another user", r.Header.Get("Authorization"))
		}
		w.Header().Set("ETag", `"`+r.Header.Get("Authorization")+`"`)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	var token atomic.Value
	c := newTestClient(t, server, func(cfg *Config) {
		cfg.Redis = redisClient
		cfg.TokenSource = func(context.Context) (string, error) { return token.Load().(string), nil }
	})

	for _, user := range []string{"alice", "bob"} {
		token.Store(user)
		var items []item
		if err := c.GetJSON(context.Background(), "/ads/mine", nil, &items); err != nil {
			t.Fatalf("%s: GetJSON() error = %v", user, err)
		}
	}
}

func TestClient_QuotaHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "10")
		w.Header().Set("X-RateLimit-Reset", "60")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	t.Run("without redis", func(t *testing.T) {
		c := newTestClient(t, server, nil)
		if healthy, err := c.QuotaHealthy(context.Background()); err != nil || !healthy {
			t.Errorf("QuotaHealthy() = %v, %v; want true", healthy, err)
		}
	})

	t.Run("low quota reported", func(t *testing.T) {
		redisClient := setupTestRedis(t)
		c := newTestClient(t, server, func(cfg *Config) {
			cfg.Redis = redisClient
		})
		ctx := context.Background()

		if healthy, err := c.QuotaHealthy(ctx); err != nil || !healthy {
			t.Fatalf("before any request: QuotaHealthy() = %v, %v; want true", healthy, err)
		}

		var items []item
		if err := c.GetJSON(ctx, "/products", nil, &items); err != nil {
			t.Fatalf("GetJSON() error = %v", err)
		}

		healthy, err := c.QuotaHealthy(ctx)
		if err != nil {
			t.Fatalf("QuotaHealthy() error = %v", err)
		}
		if healthy {
			t.Error("QuotaHealthy() = true with 10 requests left, want false")
		}
	})
}
