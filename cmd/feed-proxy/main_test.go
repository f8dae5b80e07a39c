package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/pagedlist/internal/testutil"
	"github.com/Sternrassler/pagedlist/pkg/client"
	"github.com/Sternrassler/pagedlist/pkg/feed"
	"github.com/Sternrassler/pagedlist/pkg/logging"
	"github.com/rs/zerolog"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.PageSize != 20 {
		t.Errorf("PageSize = %d, want 20", cfg.PageSize)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.LogFormat != logging.FormatJSON {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty", cfg.RedisAddr)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("FEEDPROXY_PORT", "9090")
	t.Setenv("FEEDPROXY_API_BASE_URL", "https://api.example.com/v2")
	t.Setenv("FEEDPROXY_FEEDS_PAGE_SIZE", "12")
	t.Setenv("FEEDPROXY_LOG_FORMAT", "console")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.APIBaseURL != "https://api.example.com/v2" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.PageSize != 12 {
		t.Errorf("PageSize = %d, want 12", cfg.PageSize)
	}
	if cfg.LogFormat != logging.FormatConsole {
		t.Errorf("LogFormat = %q, want console", cfg.LogFormat)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed-proxy.yaml")
	yaml := `
port: 7000
api:
  base_url: https://market.example.com
  token: secret
redis:
  addr: redis:6379
  db: 2
feeds:
  page_size: 30
  request_timeout: 5s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Port != 7000 || cfg.APIToken != "secret" || cfg.RedisAddr != "redis:6379" || cfg.RedisDB != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PageSize != 30 || cfg.RequestTimeout != 5*time.Second {
		t.Errorf("feeds config = %d, %v", cfg.PageSize, cfg.RequestTimeout)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port", map[string]string{"FEEDPROXY_PORT": "70000"}},
		{"base url", map[string]string{"FEEDPROXY_API_BASE_URL": "not a url"}},
		{"page size", map[string]string{"FEEDPROXY_FEEDS_PAGE_SIZE": "0"}},
		{"log level", map[string]string{"FEEDPROXY_LOG_LEVEL": "chatty"}},
		{"log format", map[string]string{"FEEDPROXY_LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(""); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

type fakeQuota struct {
	healthy bool
	err     error
}

func (f fakeQuota) QuotaHealthy(context.Context) (bool, error) {
	return f.healthy, f.err
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		quota     quotaReporter
		wantQuota string
	}{
		{"no quota tracking", nil, "healthy"},
		{"healthy quota", fakeQuota{healthy: true}, "healthy"},
		{"low quota", fakeQuota{healthy: false}, "low"},
		{"quota lookup failed", fakeQuota{err: errors.New("redis down")}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(&server{quota: tt.quota, timeout: time.Second, logger: zerolog.Nop()})

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}
			var v healthView
			if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
				t.Fatalf("decode %q: %v", w.Body.String(), err)
			}
			if v.Status != "ok" || v.Quota != tt.wantQuota {
				t.Errorf("health = %+v, want quota %q", v, tt.wantQuota)
			}
		})
	}
}

func newTestProxy(t *testing.T, mock *testutil.MockAPI, pageSize int) http.Handler {
	t.Helper()

	cfg := client.DefaultConfig(mock.URL(), "feed-proxy-test/1.0")
	cfg.Retry = client.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 2}
	cfg.TokenSource = func(context.Context) (string, error) { return "token", nil }
	api, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { api.Close() })

	feeds := buildFeeds(api, pageSize)
	t.Cleanup(func() {
		for _, f := range feeds {
			f.Close()
		}
	})

	return newRouter(&server{feeds: feeds, quota: api, timeout: 5 * time.Second, logger: zerolog.Nop()})
}

func do(t *testing.T, h http.Handler, method, path string) (int, feedView) {
	t.Helper()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var v feedView
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, v
}

func TestFeedLifecycle(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetDataset(feed.PathFeaturedProducts, testutil.Dataset{Items: testutil.Numbered("product", 1, 15)})

	h := newTestProxy(t, mock, 10)

	status, v := do(t, h, http.MethodGet, "/feeds/featured")
	if status != http.StatusOK || v.Loaded || v.Count != 0 || !v.HasMore || v.Status != "idle" {
		t.Fatalf("initial view = %d %+v", status, v)
	}

	status, v = do(t, h, http.MethodPost, "/feeds/featured/load")
	if status != http.StatusOK || v.Outcome != "applied" || v.Count != 10 || !v.HasMore {
		t.Fatalf("load = %d %+v", status, v)
	}

	status, v = do(t, h, http.MethodPost, "/feeds/featured/load")
	if status != http.StatusOK || v.Outcome != "applied" || v.Count != 10 || v.Cursor != 2 {
		t.Errorf("second load = %d %+v", status, v)
	}

	status, v = do(t, h, http.MethodPost, "/feeds/featured/next")
	if status != http.StatusOK || v.Count != 15 || v.HasMore {
		t.Fatalf("next = %d %+v", status, v)
	}

	status, v = do(t, h, http.MethodPost, "/feeds/featured/next")
	if status != http.StatusConflict || v.Count != 15 {
		t.Errorf("next after end = %d %+v", status, v)
	}

	status, v = do(t, h, http.MethodPost, "/feeds/featured/refresh")
	if status != http.StatusOK || v.Count != 10 || !v.HasMore || v.Cursor != 2 {
		t.Errorf("refresh = %d %+v", status, v)
	}
}

func TestFeedFailureReported(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetDataset(feed.PathMyPosts, testutil.Dataset{Items: testutil.Numbered("post", 1, 3), SizeParam: "per_page"})
	mock.FailNext(feed.PathMyPosts, 1, http.StatusInternalServerError)

	h := newTestProxy(t, mock, 10)

	status, v := do(t, h, http.MethodPost, "/feeds/posts/load")
	if status != http.StatusBadGateway || v.Outcome != "failed" || v.Error == "" || v.HasMore {
		t.Errorf("load = %d %+v", status, v)
	}

	mock.FailNext(feed.PathMyPosts, 1, http.StatusInternalServerError)
	status, v = do(t, h, http.MethodPost, "/feeds/posts/load")
	if status != http.StatusBadGateway || v.Outcome != "failed" {
		t.Errorf("second load = %d %+v", status, v)
	}

	status, v = do(t, h, http.MethodPost, "/feeds/posts/load")
	if status != http.StatusOK || v.Error != "" || v.Count != 3 || v.HasMore {
		t.Errorf("load retry = %d %+v", status, v)
	}

	status, v = do(t, h, http.MethodPost, "/feeds/posts/refresh")
	if status != http.StatusOK || v.Error != "" || v.Count != 3 {
		t.Errorf("refresh = %d %+v", status, v)
	}
}

func TestSampleEndpoint(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetDataset(feed.PathFeaturedProducts, testutil.Dataset{Items: testutil.Numbered("product", 1, 20)})

	h := newTestProxy(t, mock, 20)
	do(t, h, http.MethodPost, "/feeds/featured/load")

	tests := []struct {
		query      string
		wantStatus int
		wantItems  int
	}{
		{"", http.StatusOK, feed.FeaturedGridSize},
		{"?n=3", http.StatusOK, 3},
		{"?n=50", http.StatusOK, 20},
		{"?n=-1", http.StatusBadRequest, 0},
		{"?n=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/feeds/featured/sample"+tt.query, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body struct {
				Items []feed.Product `json:"items"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(body.Items), tt.wantItems)
			}
		})
	}
}

func TestUnknownFeed(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	h := newTestProxy(t, mock, 10)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/feeds/nope/load", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if mock.RequestCount() != 0 {
		t.Error("unknown feed should not reach the API")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetDataset(feed.PathFeaturedProducts, testutil.Dataset{Items: testutil.Numbered("product", 1, 5)})

	h := newTestProxy(t, mock, 10)
	do(t, h, http.MethodPost, "/feeds/featured/load")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "# HELP") || !strings.Contains(body, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	for _, name := range []string{"pagedlist_fetches_total", "pagedlist_items", "pagedlist_api_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
