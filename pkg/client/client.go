// Package client provides the marketplace REST API client with quota
// tracking, page caching, retries and circuit breaking. It is the transport
// behind the page fetchers of package feed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/pagedlist/pkg/cache"
	"github.com/Sternrassler/pagedlist/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Prometheus metrics for API client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_api_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagedlist_api_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_api_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})

	apiBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagedlist_api_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// TokenSource returns the current access token, or "" when signed out.
// Session storage lives outside this package.
type TokenSource func(ctx context.Context) (string, error)

// BreakerConfig configures the circuit breaker around the API.
type BreakerConfig struct {
	// Name labels the breaker in logs and metrics.
	Name string

	// MinRequests is the number of requests in a window before the
	// breaker may trip.
	MinRequests uint32

	// FailureRatio trips the breaker once reached.
	FailureRatio float64

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string

	// UserAgent header sent with every request (required).
	UserAgent string

	// Redis enables the page cache and the shared quota tracker.
	// Optional; both are skipped when nil.
	Redis *redis.Client

	// TokenSource supplies the bearer token for authenticated endpoints.
	TokenSource TokenSource

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	Retry   RetryConfig
	Quota   ratelimit.Thresholds
	Breaker BreakerConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   15 * time.Second,
		Retry:     DefaultRetryConfig(),
		Quota:     ratelimit.DefaultThresholds(),
		Breaker: BreakerConfig{
			Name:         "marketplace-api",
			MinRequests:  5,
			FailureRatio: 0.6,
			OpenTimeout:  30 * time.Second,
		},
	}
}

// Client is the marketplace API client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	cache      *cache.Manager
	quota      *ratelimit.Tracker
	breaker    *gobreaker.CircuitBreaker
	config     Config
	logger     zerolog.Logger
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !baseURL.IsAbs() {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	defaults := DefaultConfig(cfg.BaseURL, cfg.UserAgent)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = defaults.Retry
	}
	if cfg.Quota == (ratelimit.Thresholds{}) {
		cfg.Quota = defaults.Quota
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = defaults.Breaker.Name
	}
	if cfg.Breaker.MinRequests == 0 {
		cfg.Breaker.MinRequests = defaults.Breaker.MinRequests
	}
	if cfg.Breaker.FailureRatio <= 0 {
		cfg.Breaker.FailureRatio = defaults.Breaker.FailureRatio
	}
	if cfg.Breaker.OpenTimeout <= 0 {
		cfg.Breaker.OpenTimeout = defaults.Breaker.OpenTimeout
	}

	logger := log.With().Str("component", "marketplace-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: baseURL,
		config:  cfg,
		logger:  logger,
	}

	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis)
		c.quota = ratelimit.NewTracker(cfg.Redis, logger).WithThresholds(cfg.Quota)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Breaker.Name,
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.Breaker.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about the API's health
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrContextCancelled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			apiBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return c, nil
}

// Do performs an HTTP request with quota gating, caching, retries and
// circuit breaking. Non-retryable error statuses (4xx) are returned as a
// response for the caller to inspect.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Quota gate
	if c.quota != nil {
		allowed, err := c.quota.ShouldAllowRequest(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, fmt.Errorf("quota check: %w", ctx.Err())
		case err != nil:
			// Redis trouble should not take the lists down with it.
			c.logger.Warn().Err(err).Msg("Quota check failed, proceeding")
		case !allowed:
			apiRequestsTotal.WithLabelValues(endpoint, "quota_blocked").Inc()
			return nil, ErrQuotaExhausted
		}
	}

	// Step 2: Headers
	if c.config.TokenSource != nil {
		token, err := c.config.TokenSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("token source: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
	requestID := req.Header.Get(RequestIDHeader)

	// Step 3: Conditional request from cache
	cacheable := c.cache != nil && req.Method == http.MethodGet
	cacheKey := cache.Key{
		Endpoint: endpoint,
		Query:    req.URL.Query(),
		Scope:    cache.ScopeFor(req.Header.Get("Authorization")),
	}

	var cachedEntry *cache.Entry
	if cacheable {
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
		if entry != nil && cache.ShouldMakeConditionalRequest(entry) {
			cachedEntry = entry
			cache.AddConditionalHeaders(req, entry)
			cache.ConditionalRequestsSent.Inc()
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", entry.ETag).
				Msg("Making conditional request")
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Str("request_id", requestID).
		Msg("Executing API request")

	// Step 4: Execute through breaker and retries
	var resp *http.Response
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, retryWithBackoff(ctx, c.config.Retry, func() error {
			return c.attempt(req, endpoint, requestID, &resp)
		}, classifyError)
	})
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			apiRequestsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}

	// Step 5: 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()

		if err := c.cache.Renew(ctx, cacheKey, cachedEntry, cache.Expiry(resp.Header)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to renew cache entry")
		}
		resp.Body.Close()
		return cache.EntryToResponse(cachedEntry), nil
	}

	// Step 6: Store fresh pages
	if cacheable && cache.Cacheable(resp) {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// attempt sends req once. Retryable failures are returned as errors; any
// other response is stored in *out.
func (c *Client) attempt(req *http.Request, endpoint, requestID string, out **http.Response) error {
	resp, err := c.httpClient.Do(req.Clone(req.Context()))
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return err
	}

	if c.quota != nil {
		if err := c.quota.UpdateFromHeaders(req.Context(), resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := classifyStatus(resp.StatusCode)
		apiErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Str("request_id", requestID).
			Msg("API request error")

		if shouldRetry(errClass) {
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Message:    resp.Status,
				RequestID:  requestID,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			resp.Body.Close()
			return apiErr
		}
	}

	*out = resp
	return nil
}

// classifyError categorizes an attempt error for retry decisions.
func classifyError(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// GetJSON fetches path with query and decodes the JSON body into out.
// Any non-2xx answer is returned as *APIError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		message := resp.Status
		if body := strings.TrimSpace(string(snippet)); body != "" {
			message += ": " + body
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    message,
			RequestID:  req.Header.Get(RequestIDHeader),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// QuotaHealthy reports whether the shared API quota is clear of every
// threshold. Without Redis there is no quota state and it reports true.
func (c *Client) QuotaHealthy(ctx context.Context) (bool, error) {
	if c.quota == nil {
		return true, nil
	}
	return c.quota.Healthy(ctx)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the page cache, or nil when Redis is not configured.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}
