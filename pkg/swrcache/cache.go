// Package swrcache provides a process-local read-through cache with soft and
// hard freshness tiers. Entries younger than the soft TTL are served as-is,
// entries between the two TTLs are served stale while a background refresh
// runs, and entries past the hard TTL force a live fetch. Concurrent fetches
// for the same key collapse into one call against the authoritative source.
package swrcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Errors returned by the cache.
var (
	ErrEmptyKey       = errors.New("empty cache key")
	ErrInvalidOptions = errors.New("invalid cache options")
)

// Freshness classifies how a cached value was served.
type Freshness string

const (
	FreshnessFresh Freshness = "fresh"
	FreshnessStale Freshness = "stale"
	FreshnessLive  Freshness = "live"
)

const (
	defaultMaxBackgroundRefreshes = 32
	defaultRefreshTimeout         = 10 * time.Second
)

// FetchFunc loads the authoritative value for a key.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Result carries a cached value together with its freshness classification.
type Result[V any] struct {
	Value     V
	Freshness Freshness
	Age       time.Duration
}

// Options configures a Cache.
type Options struct {
	// SoftTTL is the age below which entries are served without any fetch.
	SoftTTL time.Duration
	// HardTTL is the age beyond which a cached entry is treated as a miss.
	HardTTL time.Duration
	// MaxBackgroundRefreshes caps concurrent stale-triggered refreshes.
	// Overflow is served stale without scheduling a refresh.
	MaxBackgroundRefreshes int
	// RefreshTimeout bounds each detached background refresh.
	RefreshTimeout time.Duration
	Logger         *zap.Logger
	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache is a freshness-tiered read-through cache. Entries are replaced
// wholesale on refresh and never evicted; the key space is expected to stay
// small (dates and listing categories).
type Cache[V any] struct {
	options         Options
	mu              sync.Mutex
	entries         map[string]entry[V]
	group           singleflight.Group
	backgroundCount atomic.Int32
}

// New validates options and wires a Cache.
func New[V any](options Options) (*Cache[V], error) {
	if options.SoftTTL <= 0 {
		return nil, fmt.Errorf("%w: soft ttl must be positive", ErrInvalidOptions)
	}
	if options.HardTTL < options.SoftTTL {
		return nil, fmt.Errorf("%w: hard ttl must not be below soft ttl", ErrInvalidOptions)
	}
	if options.MaxBackgroundRefreshes <= 0 {
		options.MaxBackgroundRefreshes = defaultMaxBackgroundRefreshes
	}
	if options.RefreshTimeout <= 0 {
		options.RefreshTimeout = defaultRefreshTimeout
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &Cache[V]{
		options: options,
		entries: make(map[string]entry[V]),
	}, nil
}

// Get serves the value for key according to the freshness tiers. The fetch
// function is only invoked on a miss, past the hard TTL, or detached in the
// background when the entry is stale.
func (cache *Cache[V]) Get(ctx context.Context, key string, fetch FetchFunc[V]) (Result[V], error) {
	if strings.TrimSpace(key) == "" {
		return Result[V]{}, ErrEmptyKey
	}
	now := cache.options.Clock()
	cache.mu.Lock()
	stored, exists := cache.entries[key]
	cache.mu.Unlock()
	if exists {
		age := now.Sub(stored.fetchedAt)
		if age <= cache.options.SoftTTL {
			return Result[V]{Value: stored.value, Freshness: FreshnessFresh, Age: age}, nil
		}
		if age <= cache.options.HardTTL {
			cache.refreshInBackground(key, fetch)
			return Result[V]{Value: stored.value, Freshness: FreshnessStale, Age: age}, nil
		}
	}
	value, err := cache.refresh(ctx, key, fetch)
	if err != nil {
		return Result[V]{}, err
	}
	return Result[V]{Value: value, Freshness: FreshnessLive}, nil
}

// refresh performs the authoritative fetch for key, collapsing concurrent
// callers into a single in-flight call. The slot is released on success and
// failure alike.
func (cache *Cache[V]) refresh(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	value, err, _ := cache.group.Do(key, func() (any, error) {
		fetched, fetchErr := fetch(ctx)
		if fetchErr != nil {
			return nil, fetchErr
		}
		cache.mu.Lock()
		cache.entries[key] = entry[V]{value: fetched, fetchedAt: cache.options.Clock()}
		cache.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return value.(V), nil
}

// refreshInBackground schedules a detached refresh for a stale entry. The
// caller never waits on it; failures are logged and the stale response
// already returned is unaffected.
func (cache *Cache[V]) refreshInBackground(key string, fetch FetchFunc[V]) {
	if int(cache.backgroundCount.Add(1)) > cache.options.MaxBackgroundRefreshes {
		cache.backgroundCount.Add(-1)
		cache.options.Logger.Warn("background refresh skipped: cap reached", zap.String("key", key))
		return
	}
	go func() {
		defer cache.backgroundCount.Add(-1)
		refreshCtx, cancel := context.WithTimeout(context.Background(), cache.options.RefreshTimeout)
		defer cancel()
		if _, err := cache.refresh(refreshCtx, key, fetch); err != nil {
			cache.options.Logger.Warn("background refresh failed", zap.String("key", key), zap.Error(err))
		}
	}()
}
