package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// RollupService maintains one aggregate row per reservation, recomputed from
// its current line items on every trigger. Duplicate triggers arriving within
// the storm TTL reuse the most recent result, and concurrent triggers for the
// same reservation share one computation.
type RollupService struct {
	store    Store
	logger   OperationLogger
	stormTTL time.Duration
	recent   *ttlcache.Cache[string, RollupResult]
	group    singleflight.Group
}

// NewRollupService wires a RollupService.
func NewRollupService(store Store, options ...ServiceOption) (*RollupService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	service := &RollupService{store: store, stormTTL: defaultStormTTL}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	service.recent = ttlcache.New[string, RollupResult](
		ttlcache.WithTTL[string, RollupResult](service.stormTTL),
		ttlcache.WithDisableTouchOnHit[string, RollupResult](),
	)
	return service, nil
}

// Recompute rebuilds the rollup row for one reservation from scratch.
//
// The reads are not transactional: line items mutated between the fetch and
// the write can leave an intermediate total, and the trigger fired by that
// mutation recomputes again.
func (service *RollupService) Recompute(ctx context.Context, entityID EntityID) (RollupResult, error) {
	if entityID.String() == "" {
		return RollupResult{}, fmt.Errorf("%w: %w: empty value", ErrValidation, ErrInvalidEntityID)
	}
	if item := service.recent.Get(entityID.String()); item != nil {
		result := item.Value()
		result.Source = SourceCache
		service.logOperation(ctx, OperationLog{
			Operation: operationRecompute,
			EntityID:  entityID,
			Action:    result.Action,
			Source:    SourceCache,
		})
		return result, nil
	}
	value, operationError, shared := service.group.Do(entityID.String(), func() (any, error) {
		computed, computeErr := service.computeRollup(ctx, entityID)
		if computeErr != nil {
			return nil, computeErr
		}
		service.recent.Set(entityID.String(), computed, ttlcache.DefaultTTL)
		return computed, nil
	})
	// singleflight drops the in-flight slot once the shared call returns,
	// success or failure, so a failed computation never blocks retries.
	if operationError != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationRecompute,
			EntityID:  entityID,
			Error:     operationError,
		})
		return RollupResult{}, operationError
	}
	result := value.(RollupResult)
	if shared {
		result.Source = SourceInflight
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationRecompute,
		EntityID:  entityID,
		Action:    result.Action,
		Source:    result.Source,
	})
	return result, nil
}

func (service *RollupService) computeRollup(ctx context.Context, entityID EntityID) (RollupResult, error) {
	primary, err := service.store.PrimaryLineItem(ctx, entityID)
	if err != nil {
		return RollupResult{}, err
	}
	addons, err := service.store.AddonLineItems(ctx, entityID)
	if err != nil {
		return RollupResult{}, err
	}

	subtotalPrimary := decimal.Zero
	record := RollupRecord{EntityID: entityID.String()}
	if primary != nil {
		subtotalPrimary = primary.Total
		record.IDKey = primary.IDKey
		record.BusinessUnit = primary.BusinessUnit
		record.Status = primary.Status
	}
	subtotalAddon := decimal.Zero
	for _, addon := range addons {
		subtotalAddon = subtotalAddon.Add(addon.Total)
	}
	total := subtotalPrimary.Add(subtotalAddon)

	existing, err := service.store.FindRollup(ctx, entityID)
	if err != nil {
		return RollupResult{}, err
	}

	result := RollupResult{
		EntityID:        entityID.String(),
		SubtotalPrimary: subtotalPrimary,
		SubtotalAddon:   subtotalAddon,
		Total:           total,
		Source:          SourceComputed,
	}

	if primary == nil && len(addons) == 0 {
		if existing == nil {
			result.Action = ActionNoop
			return result, nil
		}
		if err := service.store.DeleteRollup(ctx, entityID); err != nil {
			return RollupResult{}, err
		}
		result.Action = ActionDeletedRollup
		return result, nil
	}

	record.SubtotalPrimary = subtotalPrimary
	record.SubtotalAddon = subtotalAddon
	record.Total = total
	if existing != nil {
		if err := service.store.UpdateRollup(ctx, record); err != nil {
			return RollupResult{}, err
		}
		result.Action = ActionUpdated
		return result, nil
	}
	if err := service.store.InsertRollup(ctx, record); err != nil {
		return RollupResult{}, err
	}
	result.Action = ActionInserted
	return result, nil
}

func (service *RollupService) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
