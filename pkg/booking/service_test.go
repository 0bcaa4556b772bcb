package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubStore struct {
	mu           sync.Mutex
	primary      *LineItem
	addons       []LineItem
	rollup       *RollupRecord
	readErr      error
	writeErr     error
	blockReads   chan struct{}
	primaryCalls int
	addonCalls   int
	findCalls    int
	insertCalls  int
	updateCalls  int
	deleteCalls  int
}

func (store *stubStore) PrimaryLineItem(_ context.Context, _ EntityID) (*LineItem, error) {
	if store.blockReads != nil {
		<-store.blockReads
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.primaryCalls++
	if store.readErr != nil {
		return nil, store.readErr
	}
	return store.primary, nil
}

func (store *stubStore) AddonLineItems(_ context.Context, _ EntityID) ([]LineItem, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.addonCalls++
	if store.readErr != nil {
		return nil, store.readErr
	}
	return store.addons, nil
}

func (store *stubStore) FindRollup(_ context.Context, _ EntityID) (*RollupRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.findCalls++
	if store.readErr != nil {
		return nil, store.readErr
	}
	if store.rollup == nil {
		return nil, nil
	}
	copied := *store.rollup
	return &copied, nil
}

func (store *stubStore) InsertRollup(_ context.Context, record RollupRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.insertCalls++
	if store.writeErr != nil {
		return store.writeErr
	}
	store.rollup = &record
	return nil
}

func (store *stubStore) UpdateRollup(_ context.Context, record RollupRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.updateCalls++
	if store.writeErr != nil {
		return store.writeErr
	}
	store.rollup = &record
	return nil
}

func (store *stubStore) DeleteRollup(_ context.Context, _ EntityID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.deleteCalls++
	if store.writeErr != nil {
		return store.writeErr
	}
	store.rollup = nil
	return nil
}

func mustEntityID(test *testing.T, raw string) EntityID {
	test.Helper()
	entityID, err := NewEntityID(raw)
	if err != nil {
		test.Fatalf("entity id %q: %v", raw, err)
	}
	return entityID
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func mustNewRollupService(test *testing.T, store Store, options ...ServiceOption) *RollupService {
	test.Helper()
	service, err := NewRollupService(store, options...)
	if err != nil {
		test.Fatalf("rollup service init: %v", err)
	}
	return service
}

func TestRecomputeInsertsThenUpdates(test *testing.T) {
	test.Parallel()
	store := &stubStore{
		primary: &LineItem{
			EntityID:     "res-1",
			Type:         LineItemReservation,
			Total:        mustDecimal(test, "100"),
			IDKey:        "idkey-1",
			BusinessUnit: "marina",
			Status:       "pending",
		},
		addons: []LineItem{
			{EntityID: "res-1", Type: LineItemAddon, Total: mustDecimal(test, "20")},
			{EntityID: "res-1", Type: LineItemAddon, Total: mustDecimal(test, "5")},
		},
	}
	service := mustNewRollupService(test, store, WithStormTTL(time.Nanosecond))
	entityID := mustEntityID(test, "res-1")

	first, err := service.Recompute(context.Background(), entityID)
	if err != nil {
		test.Fatalf("first recompute: %v", err)
	}
	if first.Action != ActionInserted {
		test.Fatalf("expected inserted, got %s", first.Action)
	}
	if !first.SubtotalPrimary.Equal(mustDecimal(test, "100")) || !first.SubtotalAddon.Equal(mustDecimal(test, "25")) {
		test.Fatalf("unexpected subtotals: %s / %s", first.SubtotalPrimary, first.SubtotalAddon)
	}
	if !first.Total.Equal(mustDecimal(test, "125")) {
		test.Fatalf("expected total 125, got %s", first.Total)
	}
	if store.rollup == nil || store.rollup.BusinessUnit != "marina" || store.rollup.IDKey != "idkey-1" {
		test.Fatalf("rollup metadata not persisted: %+v", store.rollup)
	}

	time.Sleep(time.Millisecond)
	second, err := service.Recompute(context.Background(), entityID)
	if err != nil {
		test.Fatalf("second recompute: %v", err)
	}
	if second.Action != ActionUpdated {
		test.Fatalf("expected updated, got %s", second.Action)
	}
	if !second.Total.Equal(first.Total) {
		test.Fatalf("recompute is not idempotent: %s vs %s", second.Total, first.Total)
	}
	if store.insertCalls != 1 || store.updateCalls != 1 {
		test.Fatalf("expected one insert and one update, got %d/%d", store.insertCalls, store.updateCalls)
	}
}

func TestRecomputeStormGuardReturnsCachedResult(test *testing.T) {
	test.Parallel()
	store := &stubStore{
		primary: &LineItem{EntityID: "res-2", Type: LineItemReservation, Total: mustDecimal(test, "50")},
	}
	service := mustNewRollupService(test, store)
	entityID := mustEntityID(test, "res-2")

	first, err := service.Recompute(context.Background(), entityID)
	if err != nil {
		test.Fatalf("first recompute: %v", err)
	}
	if first.Source != SourceComputed {
		test.Fatalf("expected computed source, got %s", first.Source)
	}
	readsAfterFirst := store.primaryCalls + store.addonCalls + store.findCalls

	second, err := service.Recompute(context.Background(), entityID)
	if err != nil {
		test.Fatalf("second recompute: %v", err)
	}
	if second.Source != SourceCache {
		test.Fatalf("expected cache source, got %s", second.Source)
	}
	if second.Action != first.Action || !second.Total.Equal(first.Total) {
		test.Fatalf("cached result diverged: %+v vs %+v", second, first)
	}
	if got := store.primaryCalls + store.addonCalls + store.findCalls; got != readsAfterFirst {
		test.Fatalf("expected zero additional store reads, got %d extra", got-readsAfterFirst)
	}
}

func TestRecomputeDeletesRollupWhenNoLineItemsRemain(test *testing.T) {
	test.Parallel()
	store := &stubStore{
		rollup: &RollupRecord{EntityID: "res-3", Total: mustDecimal(test, "75")},
	}
	service := mustNewRollupService(test, store)

	result, err := service.Recompute(context.Background(), mustEntityID(test, "res-3"))
	if err != nil {
		test.Fatalf("recompute: %v", err)
	}
	if result.Action != ActionDeletedRollup {
		test.Fatalf("expected deleted_rollup, got %s", result.Action)
	}
	if store.deleteCalls != 1 || store.rollup != nil {
		test.Fatalf("rollup row not deleted")
	}
	if !result.Total.Equal(decimal.Zero) {
		test.Fatalf("expected zero total, got %s", result.Total)
	}
}

func TestRecomputeNoopWhenNothingExists(test *testing.T) {
	test.Parallel()
	store := &stubStore{}
	service := mustNewRollupService(test, store)

	result, err := service.Recompute(context.Background(), mustEntityID(test, "res-4"))
	if err != nil {
		test.Fatalf("recompute: %v", err)
	}
	if result.Action != ActionNoop {
		test.Fatalf("expected noop, got %s", result.Action)
	}
	if store.insertCalls+store.updateCalls+store.deleteCalls != 0 {
		test.Fatalf("expected no writes, got %d/%d/%d", store.insertCalls, store.updateCalls, store.deleteCalls)
	}
}

func TestRecomputeConcurrentTriggersShareOneComputation(test *testing.T) {
	test.Parallel()
	release := make(chan struct{})
	store := &stubStore{
		primary:    &LineItem{EntityID: "res-5", Type: LineItemReservation, Total: mustDecimal(test, "10")},
		blockReads: release,
	}
	service := mustNewRollupService(test, store)
	entityID := mustEntityID(test, "res-5")

	const callers = 8
	results := make(chan RollupResult, callers)
	errs := make(chan error, callers)
	var started sync.WaitGroup
	started.Add(callers)
	for index := 0; index < callers; index++ {
		go func() {
			started.Done()
			result, err := service.Recompute(context.Background(), entityID)
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
			test.Fatalf("concurrent recompute: %v", err)
		case result := <-results:
			if !result.Total.Equal(mustDecimal(test, "10")) {
				test.Fatalf("unexpected total %s", result.Total)
			}
		case <-time.After(5 * time.Second):
			test.Fatalf("timed out waiting for caller %d", index)
		}
	}
	// Late callers may have been served by the storm cache, but the
	// authoritative store must have been read exactly once.
	if store.primaryCalls != 1 {
		test.Fatalf("expected one primary fetch, got %d", store.primaryCalls)
	}
}

func TestRecomputeRejectsEmptyEntityID(test *testing.T) {
	test.Parallel()
	service := mustNewRollupService(test, &stubStore{})

	_, err := service.Recompute(context.Background(), EntityID{})
	if !errors.Is(err, ErrValidation) {
		test.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRecomputeFailureDoesNotWedgeRetries(test *testing.T) {
	test.Parallel()
	store := &stubStore{readErr: errors.New("caspio unavailable")}
	service := mustNewRollupService(test, store)
	entityID := mustEntityID(test, "res-6")

	if _, err := service.Recompute(context.Background(), entityID); err == nil {
		test.Fatalf("expected failure")
	}

	store.mu.Lock()
	store.readErr = nil
	store.primary = &LineItem{EntityID: "res-6", Type: LineItemReservation, Total: mustDecimal(test, "30")}
	store.mu.Unlock()

	result, err := service.Recompute(context.Background(), entityID)
	if err != nil {
		test.Fatalf("retry after failure: %v", err)
	}
	if result.Action != ActionInserted {
		test.Fatalf("expected inserted on retry, got %s", result.Action)
	}
}

func TestNewRollupServiceRequiresStore(test *testing.T) {
	test.Parallel()
	if _, err := NewRollupService(nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}
