package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EntityID identifies the parent reservation a rollup is computed for.
type EntityID struct {
	value string
}

// NewEntityID validates and normalizes a reservation correlation key.
func NewEntityID(raw string) (EntityID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntityID{}, fmt.Errorf("%w: %w: empty value", ErrValidation, ErrInvalidEntityID)
	}
	return EntityID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EntityID) String() string {
	return id.value
}

// LineItemType discriminates primary reservations from add-ons.
type LineItemType string

const (
	LineItemReservation LineItemType = "Reservation"
	LineItemAddon       LineItemType = "addon"
)

// ParseLineItemType validates a raw discriminator value.
func ParseLineItemType(raw string) (LineItemType, error) {
	switch LineItemType(raw) {
	case LineItemReservation, LineItemAddon:
		return LineItemType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLineItemType, raw)
}

// LineItem is one transaction row contributing to a reservation's rollup.
type LineItem struct {
	EntityID     string
	Type         LineItemType
	Total        decimal.Decimal
	IDKey        string
	BusinessUnit string
	Status       string
}

// RollupRecord is the aggregate row maintained per reservation.
type RollupRecord struct {
	EntityID        string
	IDKey           string
	BusinessUnit    string
	Status          string
	SubtotalPrimary decimal.Decimal
	SubtotalAddon   decimal.Decimal
	Total           decimal.Decimal
}

// Action classifies what a recompute did to the rollup row.
type Action string

const (
	ActionInserted      Action = "inserted"
	ActionUpdated       Action = "updated"
	ActionDeletedRollup Action = "deleted_rollup"
	ActionNoop          Action = "noop"
)

// ResultSource tells how a recompute result was obtained.
type ResultSource string

const (
	SourceComputed ResultSource = "computed"
	SourceCache    ResultSource = "cache"
	SourceInflight ResultSource = "inflight"
)

// RollupResult reports the outcome of one recompute.
type RollupResult struct {
	EntityID        string
	Action          Action
	SubtotalPrimary decimal.Decimal
	SubtotalAddon   decimal.Decimal
	Total           decimal.Decimal
	Source          ResultSource
}

// Store is the persistence contract used by RollupService.
// (the Caspio-backed store implements this already.)
type Store interface {
	PrimaryLineItem(ctx context.Context, entityID EntityID) (*LineItem, error)
	AddonLineItems(ctx context.Context, entityID EntityID) ([]LineItem, error)
	FindRollup(ctx context.Context, entityID EntityID) (*RollupRecord, error)
	InsertRollup(ctx context.Context, record RollupRecord) error
	UpdateRollup(ctx context.Context, record RollupRecord) error
	DeleteRollup(ctx context.Context, entityID EntityID) error
}
