package swrcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *fakeClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *fakeClock) Advance(delta time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(delta)
}

func mustNewCache(test *testing.T, options Options) *Cache[[]string] {
	test.Helper()
	cache, err := New[[]string](options)
	if err != nil {
		test.Fatalf("cache init: %v", err)
	}
	return cache
}

func TestGetWithinSoftTTLServesFreshWithoutFetch(test *testing.T) {
	test.Parallel()
	clock := newFakeClock()
	cache := mustNewCache(test, Options{SoftTTL: 30 * time.Second, HardTTL: 2 * time.Minute, Clock: clock.Now})
	var fetchCount atomic.Int32
	fetch := func(context.Context) ([]string, error) {
		fetchCount.Add(1)
		return []string{"A"}, nil
	}

	first, err := cache.Get(context.Background(), "availability|2025-06-01|", fetch)
	if err != nil {
		test.Fatalf("first get: %v", err)
	}
	if first.Freshness != FreshnessLive {
		test.Fatalf("expected live, got %s", first.Freshness)
	}

	clock.Advance(10 * time.Second)
	second, err := cache.Get(context.Background(), "availability|2025-06-01|", fetch)
	if err != nil {
		test.Fatalf("second get: %v", err)
	}
	if second.Freshness != FreshnessFresh {
		test.Fatalf("expected fresh, got %s", second.Freshness)
	}
	if second.Age != 10*time.Second {
		test.Fatalf("expected age 10s, got %s", second.Age)
	}
	if fetchCount.Load() != 1 {
		test.Fatalf("expected exactly one fetch, got %d", fetchCount.Load())
	}
}

func TestConcurrentColdCallersShareOneFetch(test *testing.T) {
	test.Parallel()
	cache := mustNewCache(test, Options{SoftTTL: 30 * time.Second, HardTTL: 2 * time.Minute})
	release := make(chan struct{})
	var fetchCount atomic.Int32
	fetch := func(context.Context) ([]string, error) {
		fetchCount.Add(1)
		<-release
		return []string{"A", "B"}, nil
	}

	const callers = 10
	results := make(chan Result[[]string], callers)
	errs := make(chan error, callers)
	var started sync.WaitGroup
	started.Add(callers)
	for index := 0; index < callers; index++ {
		go func() {
			started.Done()
			result, err := cache.Get(context.Background(), "k", fetch)
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}()
	}
	started.Wait()
	time.Sleep(10 * time.Millisecond)
	close(release)

	for index := 0; index < callers; index++ {
		select {
		case err := <-errs:
			test.Fatalf("concurrent get: %v", err)
		case result := <-results:
			if len(result.Value) != 2 {
				test.Fatalf("unexpected value %v", result.Value)
			}
		case <-time.After(5 * time.Second):
			test.Fatalf("timed out waiting for caller %d", index)
		}
	}
	if fetchCount.Load() != 1 {
		test.Fatalf("expected one shared fetch, got %d", fetchCount.Load())
	}
}

func TestStaleServesOldValueThenBackgroundRefreshCatchesUp(test *testing.T) {
	test.Parallel()
	clock := newFakeClock()
	cache := mustNewCache(test, Options{SoftTTL: 30 * time.Second, HardTTL: 2 * time.Minute, Clock: clock.Now})

	var source sync.Map
	source.Store("rows", []string{"A"})
	refreshed := make(chan struct{}, 1)
	fetch := func(context.Context) ([]string, error) {
		rows, _ := source.Load("rows")
		select {
		case refreshed <- struct{}{}:
		default:
		}
		return rows.([]string), nil
	}

	if _, err := cache.Get(context.Background(), "k", fetch); err != nil {
		test.Fatalf("seed get: %v", err)
	}
	<-refreshed

	source.Store("rows", []string{"A", "B"})
	clock.Advance(40 * time.Second)
	stale, err := cache.Get(context.Background(), "k", fetch)
	if err != nil {
		test.Fatalf("stale get: %v", err)
	}
	if stale.Freshness != FreshnessStale {
		test.Fatalf("expected stale, got %s", stale.Freshness)
	}
	if len(stale.Value) != 1 || stale.Value[0] != "A" {
		test.Fatalf("stale response must carry the old value, got %v", stale.Value)
	}

	select {
	case <-refreshed:
	case <-time.After(5 * time.Second):
		test.Fatalf("background refresh never ran")
	}
	// The refresh goroutine stores the entry right after signalling; give it
	// a moment to finish the write.
	deadline := time.Now().Add(2 * time.Second)
	for {
		clock.Advance(time.Second)
		current, err := cache.Get(context.Background(), "k", fetch)
		if err != nil {
			test.Fatalf("follow-up get: %v", err)
		}
		if current.Freshness == FreshnessFresh && len(current.Value) == 2 {
			return
		}
		if time.Now().After(deadline) {
			test.Fatalf("cache never caught up: %+v", current)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHardTTLForcesLiveFetch(test *testing.T) {
	test.Parallel()
	clock := newFakeClock()
	cache := mustNewCache(test, Options{SoftTTL: 30 * time.Second, HardTTL: 2 * time.Minute, Clock: clock.Now})
	var fetchCount atomic.Int32
	fetch := func(context.Context) ([]string, error) {
		fetchCount.Add(1)
		return []string{"A"}, nil
	}

	if _, err := cache.Get(context.Background(), "k", fetch); err != nil {
		test.Fatalf("seed get: %v", err)
	}
	clock.Advance(3 * time.Minute)
	result, err := cache.Get(context.Background(), "k", fetch)
	if err != nil {
		test.Fatalf("expired get: %v", err)
	}
	if result.Freshness != FreshnessLive {
		test.Fatalf("expected live past hard ttl, got %s", result.Freshness)
	}
	if fetchCount.Load() != 2 {
		test.Fatalf("expected two fetches, got %d", fetchCount.Load())
	}
}

func TestGetRejectsEmptyKey(test *testing.T) {
	test.Parallel()
	cache := mustNewCache(test, Options{SoftTTL: time.Second, HardTTL: time.Second})
	_, err := cache.Get(context.Background(), "  ", func(context.Context) ([]string, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrEmptyKey) {
		test.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestFetchFailurePropagatesAndReleasesSlot(test *testing.T) {
	test.Parallel()
	cache := mustNewCache(test, Options{SoftTTL: time.Second, HardTTL: time.Second})
	fetchErr := errors.New("source down")
	failing := func(context.Context) ([]string, error) { return nil, fetchErr }

	if _, err := cache.Get(context.Background(), "k", failing); !errors.Is(err, fetchErr) {
		test.Fatalf("expected fetch error, got %v", err)
	}

	result, err := cache.Get(context.Background(), "k", func(context.Context) ([]string, error) {
		return []string{"A"}, nil
	})
	if err != nil {
		test.Fatalf("get after failure: %v", err)
	}
	if result.Freshness != FreshnessLive || len(result.Value) != 1 {
		test.Fatalf("unexpected recovery result: %+v", result)
	}
}

func TestBackgroundRefreshCapSkipsOverflow(test *testing.T) {
	test.Parallel()
	clock := newFakeClock()
	cache := mustNewCache(test, Options{
		SoftTTL:                30 * time.Second,
		HardTTL:                2 * time.Minute,
		MaxBackgroundRefreshes: 1,
		Clock:                  clock.Now,
	})
	seed := func(context.Context) ([]string, error) { return []string{"A"}, nil }
	for _, key := range []string{"k1", "k2"} {
		if _, err := cache.Get(context.Background(), key, seed); err != nil {
			test.Fatalf("seed %s: %v", key, err)
		}
	}

	clock.Advance(40 * time.Second)
	release := make(chan struct{})
	var refreshStarts atomic.Int32
	blocking := func(context.Context) ([]string, error) {
		refreshStarts.Add(1)
		<-release
		return []string{"A"}, nil
	}
	for _, key := range []string{"k1", "k2"} {
		result, err := cache.Get(context.Background(), key, blocking)
		if err != nil {
			test.Fatalf("stale %s: %v", key, err)
		}
		if result.Freshness != FreshnessStale {
			test.Fatalf("expected stale for %s, got %s", key, result.Freshness)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if refreshStarts.Load() != 1 {
		test.Fatalf("expected one background refresh under cap, got %d", refreshStarts.Load())
	}
	close(release)
}

func TestNewValidatesOptions(test *testing.T) {
	test.Parallel()
	if _, err := New[[]string](Options{SoftTTL: 0, HardTTL: time.Minute}); !errors.Is(err, ErrInvalidOptions) {
		test.Fatalf("expected ErrInvalidOptions for zero soft ttl, got %v", err)
	}
	if _, err := New[[]string](Options{SoftTTL: time.Minute, HardTTL: time.Second}); !errors.Is(err, ErrInvalidOptions) {
		test.Fatalf("expected ErrInvalidOptions for hard < soft, got %v", err)
	}
}
