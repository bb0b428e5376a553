// Package cache is the data-fetch cache the realtime layer invalidates. Keys
// are slash-separated paths; invalidating a key marks it and every key below it
// stale and triggers a refetch for keys that have a registered fetcher.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-live/internal/clock"
	"storefront-live/internal/observability"
)

// Key identifies a cached query, e.g. "products" or "dashboard/stats".
type Key string

// Matches reports whether k equals prefix or lies below it.
func (k Key) Matches(prefix Key) bool {
	if k == prefix {
		return true
	}
	return strings.HasPrefix(string(k), string(prefix)+"/")
}

// Fetcher loads the value of one key.
type Fetcher func(ctx context.Context) (any, error)

// Config configures a QueryCache.
type Config struct {
	// MaxAge is how long an entry without a fetcher survives the sweep.
	MaxAge time.Duration
	// SweepInterval is the period of the eviction sweep. Zero disables it.
	SweepInterval time.Duration
	// FetchTimeout bounds each refetch.
	FetchTimeout time.Duration
}

// DefaultConfig returns default cache settings.
func DefaultConfig() Config {
	return Config{
		MaxAge:        5 * time.Minute,
		SweepInterval: time.Minute,
		FetchTimeout:  10 * time.Second,
	}
}

type entry struct {
	value     any
	stale     bool
	updatedAt time.Time
	fetcher   Fetcher
	fetching  bool
	again     bool
	err       error
}

// QueryCache is a keyed value cache with stale marking and coalesced
// background refetch.
type QueryCache struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[Key]*entry
	sweep   clock.Timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a QueryCache.
type Option func(*QueryCache)

// WithClock sets the clock used for timestamps and the sweep.
func WithClock(c clock.Clock) Option {
	return func(q *QueryCache) { q.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *QueryCache) { q.logger = l }
}

// New creates an empty cache.
func New(cfg Config, opts ...Option) *QueryCache {
	ctx, cancel := context.WithCancel(context.Background())
	q := &QueryCache{
		cfg:     cfg,
		clock:   clock.Real(),
		logger:  slog.Default(),
		entries: make(map[Key]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "cache")
	return q
}

// Set stores a fresh value for key.
func (q *QueryCache) Set(key Key, value any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.entryLocked(key)
	e.value = value
	e.stale = false
	e.err = nil
	e.updatedAt = q.clock.Now()
}

// Get returns the value for key and whether it is stale.
func (q *QueryCache) Get(key Key) (value any, stale bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok {
		return nil, false, false
	}
	return e.value, e.stale, true
}

// Err returns the error of the last refetch of key, if it failed.
func (q *QueryCache) Err(key Key) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[key]; ok {
		return e.err
	}
	return nil
}

// Register attaches a fetcher to key. Registered keys are refetched when
// invalidated and never evicted by the sweep.
func (q *QueryCache) Register(key Key, f Fetcher) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.entryLocked(key)
	e.fetcher = f
	if e.updatedAt.IsZero() {
		e.stale = true
	}
}

func (q *QueryCache) entryLocked(key Key) *entry {
	e, ok := q.entries[key]
	if !ok {
		e = &entry{}
		q.entries[key] = e
	}
	return e
}

// Invalidate marks every entry matching prefix stale and schedules a refetch
// for those with a fetcher. It returns the number of matching entries.
// Invalidating an already stale entry only schedules another refetch.
func (q *QueryCache) Invalidate(prefix Key) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return 0
	}

	n := 0
	for key, e := range q.entries {
		if !key.Matches(prefix) {
			continue
		}
		n++
		e.stale = true
		if e.fetcher == nil {
			continue
		}
		if e.fetching {
			e.again = true
			continue
		}
		e.fetching = true
		q.wg.Add(1)
		go q.refetch(key, e)
	}
	return n
}

// refetch runs e's fetcher until no further invalidation arrived while it was
// in flight.
func (q *QueryCache) refetch(key Key, e *entry) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		f := e.fetcher
		q.mu.Unlock()

		ctx := q.ctx
		var cancel context.CancelFunc = func() {}
		if q.cfg.FetchTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, q.cfg.FetchTimeout)
		}
		value, err := f(ctx)
		cancel()
		observability.RecordRefetch(err)

		q.mu.Lock()
		if err != nil {
			e.err = err
			q.logger.Warn("refetch failed", "key", key, "err", err)
		} else {
			e.value = value
			e.err = nil
			e.updatedAt = q.clock.Now()
			if !e.again {
				e.stale = false
			}
		}
		if e.again && !q.stopped {
			e.again = false
			q.mu.Unlock()
			continue
		}
		e.again = false
		e.fetching = false
		q.mu.Unlock()
		return
	}
}

// Sweep evicts entries without a fetcher that are older than MaxAge. It
// returns the number of evicted entries.
func (q *QueryCache) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cfg.MaxAge <= 0 {
		return 0
	}

	now := q.clock.Now()
	n := 0
	for key, e := range q.entries {
		if e.fetcher != nil || e.fetching {
			continue
		}
		if now.Sub(e.updatedAt) > q.cfg.MaxAge {
			delete(q.entries, key)
			n++
		}
	}
	if n > 0 {
		observability.RecordEvicted(n)
		q.logger.Debug("swept cache", "evicted", n)
	}
	return n
}

// Start begins the periodic sweep.
func (q *QueryCache) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || q.sweep != nil || q.cfg.SweepInterval <= 0 {
		return
	}
	q.scheduleSweepLocked()
}

func (q *QueryCache) scheduleSweepLocked() {
	q.sweep = q.clock.AfterFunc(q.cfg.SweepInterval, func() {
		q.Sweep()
		q.mu.Lock()
		defer q.mu.Unlock()
		if !q.stopped && q.sweep != nil {
			q.scheduleSweepLocked()
		}
	})
}

// Stop cancels the sweep and in-flight refetches and waits for them.
func (q *QueryCache) Stop() {
	q.mu.Lock()
	q.stopped = true
	if q.sweep != nil {
		q.sweep.Stop()
		q.sweep = nil
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// Keys returns every cached key in sorted order.
func (q *QueryCache) Keys() []Key {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]Key, 0, len(q.entries))
	for k := range q.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
