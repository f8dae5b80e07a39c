package pagination

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds collection configuration.
type Config struct {
	// Name labels logs and metrics (e.g. "featured", "my_ads").
	Name string

	// PageSize is the number of items a full page holds. A page (or, when
	// merging, the set of surviving items) shorter than this ends pagination.
	PageSize int

	// FirstPage is the page number of the first page (default: 1).
	FirstPage int
}

// DefaultConfig returns the configuration used by the marketplace screens.
func DefaultConfig(name string) Config {
	return Config{
		Name:      name,
		PageSize:  20,
		FirstPage: 1,
	}
}

// Option customizes a Collection.
type Option func(*settings)

type settings struct {
	logger *zerolog.Logger
	rnd    *rand.Rand
}

// WithLogger sets the logger. The collection name is added as a field.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = &logger
	}
}

// WithRand sets the random source used by Sample.
func WithRand(r *rand.Rand) Option {
	return func(s *settings) {
		s.rnd = r
	}
}

// State is a point-in-time copy of a collection, as read by a presenter.
type State[T any] struct {
	Items      []T
	Cursor     int
	HasMore    bool
	Status     Status
	LastError  error
	Generation uint64
	Loaded     bool
}

// Collection is an incrementally loaded list of T, unique by K.
// It is safe for concurrent use.
type Collection[T any, K comparable] struct {
	fetch  Fetcher[T]
	idOf   func(T) K
	config Config
	logger zerolog.Logger

	mu         sync.Mutex
	items      []T
	index      map[K]struct{}
	cursor     int
	hasMore    bool
	status     Status
	lastErr    error
	generation uint64
	loaded     bool
	closed     bool
	rnd        *rand.Rand
	observers  map[int]func(State[T])
	nextObs    int

	// notifyMu serializes observer delivery. Lock order: notifyMu, then mu.
	notifyMu sync.Mutex
}

// New creates an empty collection positioned at the first page.
// It panics if fetch or idOf is nil.
func New[T any, K comparable](fetch Fetcher[T], idOf func(T) K, cfg Config, opts ...Option) *Collection[T, K] {
	if fetch == nil {
		panic("pagination: fetcher cannot be nil")
	}
	if idOf == nil {
		panic("pagination: id func cannot be nil")
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.FirstPage <= 0 {
		cfg.FirstPage = 1
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	base := log.With().Str("component", "pagination").Logger()
	if s.logger != nil {
		base = *s.logger
	}

	return &Collection[T, K]{
		fetch:     fetch,
		idOf:      idOf,
		config:    cfg,
		logger:    base.With().Str("collection", cfg.Name).Logger(),
		items:     []T{},
		index:     make(map[K]struct{}),
		cursor:    cfg.FirstPage,
		hasMore:   true,
		rnd:       s.rnd,
		observers: make(map[int]func(State[T])),
	}
}

// Config returns the configuration the collection was built with.
func (c *Collection[T, K]) Config() Config {
	return c.config
}

// LoadFirstPage fetches the first page and replaces the items with it.
// It is rejected while any fetch is in flight. Calling it again once idle
// reloads the first page, which is how a failed first load is retried.
func (c *Collection[T, K]) LoadFirstPage(ctx context.Context) Outcome {
	c.mu.Lock()
	if c.closed || c.status.Loading() {
		c.mu.Unlock()
		return c.reject(OpLoadFirst)
	}
	c.status = StatusLoadingFirst
	c.lastErr = nil
	gen := c.generation
	req := c.request(c.config.FirstPage)
	c.mu.Unlock()
	c.notify()

	page, err := c.runFetch(ctx, OpLoadFirst, req)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return c.discard(OpLoadFirst, gen)
	}
	c.status = StatusIdle
	c.loaded = true

	var outcome Outcome
	if err != nil {
		c.items = []T{}
		c.index = make(map[K]struct{})
		c.fail(OpLoadFirst, req.Page, err)
		outcome = OutcomeFailed
	} else {
		c.replace(OpLoadFirst, page)
		outcome = OutcomeApplied
	}
	c.mu.Unlock()
	c.notify()

	return outcome
}

// LoadNextPage fetches the page at the cursor and dedup-merges it.
// It is rejected unless the collection is idle and not exhausted.
func (c *Collection[T, K]) LoadNextPage(ctx context.Context) Outcome {
	c.mu.Lock()
	if c.closed || c.status.Loading() || !c.hasMore {
		c.mu.Unlock()
		return c.reject(OpLoadNext)
	}
	c.status = StatusLoadingMore
	c.lastErr = nil
	gen := c.generation
	req := c.request(c.cursor)
	c.mu.Unlock()
	c.notify()

	page, err := c.runFetch(ctx, OpLoadNext, req)

	c.mu.Lock()
	if gen != c.generation {
		// A refresh (or Close) owns the state now.
		c.mu.Unlock()
		return c.discard(OpLoadNext, gen)
	}
	c.status = StatusIdle

	var outcome Outcome
	switch {
	case err != nil:
		c.fail(OpLoadNext, req.Page, err)
		outcome = OutcomeFailed
	case len(page) == 0:
		c.hasMore = false
		c.loaded = true
		fetchesTotal.WithLabelValues(c.config.Name, OpLoadNext, "empty").Inc()
		exhaustedTotal.WithLabelValues(c.config.Name, reasonEmptyPage).Inc()
		c.logger.Debug().
			Int("page", req.Page).
			Msg("Empty page, collection exhausted")
		outcome = OutcomeApplied
	default:
		c.loaded = true
		c.merge(req.Page, page)
		outcome = OutcomeApplied
	}
	c.mu.Unlock()
	c.notify()

	return outcome
}

// Refresh re-fetches the first page and replaces the items with it.
// It supersedes an in-flight LoadNextPage; it is rejected while another
// refresh or the first load is in flight. On failure the previous items stay.
func (c *Collection[T, K]) Refresh(ctx context.Context) Outcome {
	c.mu.Lock()
	if c.closed || c.status == StatusRefreshing || c.status == StatusLoadingFirst {
		c.mu.Unlock()
		return c.reject(OpRefresh)
	}
	superseded := c.status == StatusLoadingMore
	c.generation++
	c.status = StatusRefreshing
	c.lastErr = nil
	gen := c.generation
	req := c.request(c.config.FirstPage)
	c.mu.Unlock()

	if superseded {
		c.logger.Debug().
			Uint64("generation", gen).
			Msg("Refresh supersedes in-flight load")
	}
	c.notify()

	page, err := c.runFetch(ctx, OpRefresh, req)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return c.discard(OpRefresh, gen)
	}
	c.status = StatusIdle

	var outcome Outcome
	if err != nil {
		c.lastErr = &FetchError{Op: OpRefresh, Page: req.Page, Err: err}
		fetchesTotal.WithLabelValues(c.config.Name, OpRefresh, "error").Inc()
		c.failureEvent(err).
			Err(err).
			Int("items", len(c.items)).
			Msg("Refresh failed, keeping previous items")
		outcome = OutcomeFailed
	} else {
		c.loaded = true
		c.replace(OpRefresh, page)
		outcome = OutcomeApplied
	}
	c.mu.Unlock()
	c.notify()

	return outcome
}

// Sample returns min(n, Len()) distinct items chosen uniformly at random.
// The collection's own order is left untouched.
func (c *Collection[T, K]) Sample(n int) []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	intN := rand.IntN
	if c.rnd != nil {
		intN = c.rnd.IntN
	}
	return sample(c.items, n, intN)
}

// Snapshot returns a copy of the current state.
func (c *Collection[T, K]) Snapshot() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Items returns a copy of the items in arrival order.
func (c *Collection[T, K]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items)
}

// Len returns the number of items.
func (c *Collection[T, K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// HasMore reports whether LoadNextPage may still find items.
func (c *Collection[T, K]) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Status returns the in-flight status.
func (c *Collection[T, K]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the error of the most recent failed fetch, or nil.
func (c *Collection[T, K]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Contains reports whether an item with the given id is present.
func (c *Collection[T, K]) Contains(id K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[id]
	return ok
}

// Subscribe registers fn to receive a snapshot after every state change.
// Deliveries are serialized and each one carries the state current at
// delivery time, so the last snapshot an observer sees matches the collection
// once operations settle. fn runs outside the state lock and may read the
// collection, but must not call LoadFirstPage, LoadNextPage or Refresh
// synchronously. The returned func unsubscribes.
func (c *Collection[T, K]) Subscribe(fn func(State[T])) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Close detaches the collection from its owner. Results of fetches still in
// flight are discarded and every later operation is rejected.
func (c *Collection[T, K]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.generation++
	c.status = StatusIdle
	c.observers = make(map[int]func(State[T]))
	itemsGauge.DeleteLabelValues(c.config.Name)

	c.logger.Debug().
		Int("items", len(c.items)).
		Msg("Collection closed")
}

func (c *Collection[T, K]) request(page int) PageRequest {
	return PageRequest{Page: page, Size: c.config.PageSize}
}

// runFetch calls the fetcher, converting a panic into an error.
func (c *Collection[T, K]) runFetch(ctx context.Context, op string, req PageRequest) (page []T, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			page = nil
			err = fmt.Errorf("%w: %v", ErrFetcherPanic, r)
		}
		fetchDuration.WithLabelValues(c.config.Name, op).Observe(time.Since(start).Seconds())
	}()

	c.logger.Debug().
		Str("op", op).
		Int("page", req.Page).
		Int("size", req.Size).
		Msg("Fetching page")

	return c.fetch(ctx, req)
}

// replace installs page as the full item set. Caller holds mu.
func (c *Collection[T, K]) replace(op string, page []T) {
	items := make([]T, 0, len(page))
	index := make(map[K]struct{}, len(page))
	for _, item := range page {
		id := c.idOf(item)
		if _, dup := index[id]; dup {
			continue
		}
		index[id] = struct{}{}
		items = append(items, item)
	}
	if dropped := len(page) - len(items); dropped > 0 {
		duplicatesDroppedTotal.WithLabelValues(c.config.Name).Add(float64(dropped))
	}

	c.items = items
	c.index = index
	c.cursor = c.config.FirstPage + 1
	c.hasMore = len(page) >= c.config.PageSize

	outcome := "success"
	if len(page) == 0 {
		outcome = "empty"
	}
	fetchesTotal.WithLabelValues(c.config.Name, op, outcome).Inc()
	itemsGauge.WithLabelValues(c.config.Name).Set(float64(len(items)))
	if !c.hasMore {
		reason := reasonShortPage
		if len(page) == 0 {
			reason = reasonEmptyPage
		}
		exhaustedTotal.WithLabelValues(c.config.Name, reason).Inc()
	}

	c.logger.Debug().
		Str("op", op).
		Int("items", len(items)).
		Bool("has_more", c.hasMore).
		Msg("Collection replaced")
}

// merge appends the items of page whose id is not yet present. A merge that
// keeps fewer than a full page of items ends pagination. Caller holds mu.
func (c *Collection[T, K]) merge(pageNum int, page []T) {
	survivors := 0
	for _, item := range page {
		id := c.idOf(item)
		if _, dup := c.index[id]; dup {
			continue
		}
		c.index[id] = struct{}{}
		c.items = append(c.items, item)
		survivors++
	}
	c.cursor++

	dropped := len(page) - survivors
	if dropped > 0 {
		duplicatesDroppedTotal.WithLabelValues(c.config.Name).Add(float64(dropped))
	}
	fetchesTotal.WithLabelValues(c.config.Name, OpLoadNext, "success").Inc()
	itemsGauge.WithLabelValues(c.config.Name).Set(float64(len(c.items)))

	if survivors < c.config.PageSize {
		c.hasMore = false
		if survivors == 0 {
			exhaustedTotal.WithLabelValues(c.config.Name, reasonDuplicatePage).Inc()
			c.logger.Warn().
				Int("page", pageNum).
				Int("fetched", len(page)).
				Msg("Page fully overlaps existing items, treating as exhausted")
		} else {
			exhaustedTotal.WithLabelValues(c.config.Name, reasonShortPage).Inc()
		}
	}

	c.logger.Debug().
		Int("page", pageNum).
		Int("fetched", len(page)).
		Int("merged", survivors).
		Int("duplicates", dropped).
		Int("items", len(c.items)).
		Bool("has_more", c.hasMore).
		Msg("Page merged")
}

// fail records a failed first/next load and stops pagination. Caller holds mu.
func (c *Collection[T, K]) fail(op string, page int, err error) {
	c.lastErr = &FetchError{Op: op, Page: page, Err: err}
	c.hasMore = false

	fetchesTotal.WithLabelValues(c.config.Name, op, "error").Inc()
	exhaustedTotal.WithLabelValues(c.config.Name, reasonError).Inc()
	itemsGauge.WithLabelValues(c.config.Name).Set(float64(len(c.items)))

	c.failureEvent(err).
		Err(err).
		Str("op", op).
		Int("page", page).
		Msg("Page fetch failed")
}

// failureEvent logs fetcher panics at error level, other failures at warn.
func (c *Collection[T, K]) failureEvent(err error) *zerolog.Event {
	if errors.Is(err, ErrFetcherPanic) {
		return c.logger.Error()
	}
	return c.logger.Warn()
}

func (c *Collection[T, K]) reject(op string) Outcome {
	rejectedCallsTotal.WithLabelValues(c.config.Name, op).Inc()
	c.logger.Debug().
		Str("op", op).
		Msg("Operation rejected")
	return OutcomeRejected
}

func (c *Collection[T, K]) discard(op string, gen uint64) Outcome {
	staleResultsTotal.WithLabelValues(c.config.Name, op).Inc()
	fetchesTotal.WithLabelValues(c.config.Name, op, "stale").Inc()
	c.logger.Debug().
		Str("op", op).
		Uint64("generation", gen).
		Msg("Discarding stale page result")
	return OutcomeStale
}

func (c *Collection[T, K]) snapshotLocked() State[T] {
	return State[T]{
		Items:      cloneItems(c.items),
		Cursor:     c.cursor,
		HasMore:    c.hasMore,
		Status:     c.status,
		LastError:  c.lastErr,
		Generation: c.generation,
		Loaded:     c.loaded,
	}
}

func (c *Collection[T, K]) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if len(c.observers) == 0 {
		c.mu.Unlock()
		return
	}
	state := c.snapshotLocked()
	fns := make([]func(State[T]), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func cloneItems[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}
