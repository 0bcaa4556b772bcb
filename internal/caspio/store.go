package caspio

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/harborpoint/bookingbridge/pkg/booking"
)

// Column names of the externally owned booking tables.
const (
	fieldResID        = "RES_ID"
	fieldType         = "Type"
	fieldTotal        = "Total"
	fieldIDKey        = "IDKEY"
	fieldBusinessUnit = "Business_Unit"
	fieldStatus       = "Status"
	fieldSubPrimary   = "Subtotal_Primary"
	fieldSubAddon     = "Subtotal_Addon"
	fieldChargeID     = "Charge_ID"
	fieldSessionID    = "Session_ID"
	fieldEmail        = "Email"
	fieldDate         = "Date"
)

// Exported column names for callers assembling responses from raw records.
const (
	FieldResID        = fieldResID
	FieldIDKey        = fieldIDKey
	FieldBusinessUnit = fieldBusinessUnit
	FieldStatus       = fieldStatus
	FieldTotal        = fieldTotal
	FieldChargeID     = fieldChargeID
	FieldSessionID    = fieldSessionID
	FieldEmail        = fieldEmail
	FieldDate         = fieldDate
)

const (
	statusPending  = "pending"
	statusPaid     = "paid"
	statusRefunded = "refunded"

	limitAvailabilityRows = 200
	limitListingRows      = 500
	limitAddonRows        = 1000
)

// Store exposes the booking tables through typed operations. It implements
// booking.Store for the rollup engine and carries the lookups the HTTP
// handlers proxy to.
type Store struct {
	client *Client
}

// NewStore wires a Store over a Client.
func NewStore(client *Client) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: caspio client dependency is nil", booking.ErrInvalidServiceConfig)
	}
	return &Store{client: client}, nil
}

// PrimaryLineItem fetches the single Reservation row for an entity, nil when
// absent.
func (store *Store) PrimaryLineItem(ctx context.Context, entityID booking.EntityID) (*booking.LineItem, error) {
	where := Where{}.Eq(fieldResID, entityID.String()).Eq(fieldType, string(booking.LineItemReservation)).String()
	records, err := store.client.QueryRecords(ctx, store.client.tables.Transactions, where, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	item := mapLineItem(records[0])
	return &item, nil
}

// AddonLineItems fetches all add-on rows for an entity.
func (store *Store) AddonLineItems(ctx context.Context, entityID booking.EntityID) ([]booking.LineItem, error) {
	where := Where{}.Eq(fieldResID, entityID.String()).Eq(fieldType, string(booking.LineItemAddon)).String()
	records, err := store.client.QueryRecords(ctx, store.client.tables.Transactions, where, limitAddonRows)
	if err != nil {
		return nil, err
	}
	items := make([]booking.LineItem, 0, len(records))
	for _, record := range records {
		items = append(items, mapLineItem(record))
	}
	return items, nil
}

// FindRollup fetches the rollup row for an entity, nil when absent.
func (store *Store) FindRollup(ctx context.Context, entityID booking.EntityID) (*booking.RollupRecord, error) {
	where := Where{}.Eq(fieldResID, entityID.String()).String()
	records, err := store.client.QueryRecords(ctx, store.client.tables.Rollups, where, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	record := records[0]
	return &booking.RollupRecord{
		EntityID:        record.Text(fieldResID),
		IDKey:           record.Text(fieldIDKey),
		BusinessUnit:    record.Text(fieldBusinessUnit),
		Status:          record.Text(fieldStatus),
		SubtotalPrimary: record.Number(fieldSubPrimary),
		SubtotalAddon:   record.Number(fieldSubAddon),
		Total:           record.Number(fieldTotal),
	}, nil
}

// InsertRollup creates the rollup row for an entity.
func (store *Store) InsertRollup(ctx context.Context, record booking.RollupRecord) error {
	return store.client.InsertRecord(ctx, store.client.tables.Rollups, rollupToRecord(record))
}

// UpdateRollup replaces the rollup row's values in place.
func (store *Store) UpdateRollup(ctx context.Context, record booking.RollupRecord) error {
	where := Where{}.Eq(fieldResID, record.EntityID).String()
	return store.client.UpdateRecords(ctx, store.client.tables.Rollups, where, rollupToRecord(record))
}

// DeleteRollup removes the rollup row for an entity.
func (store *Store) DeleteRollup(ctx context.Context, entityID booking.EntityID) error {
	where := Where{}.Eq(fieldResID, entityID.String()).String()
	return store.client.DeleteRecords(ctx, store.client.tables.Rollups, where)
}

// Availability fetches availability rows for a date and optional business unit.
func (store *Store) Availability(ctx context.Context, date string, unit string) ([]Record, error) {
	where := Where{}.Eq(fieldDate, date)
	if unit != "" {
		where = where.Eq(fieldBusinessUnit, unit)
	}
	return store.client.QueryRecords(ctx, store.client.tables.Availability, where.String(), limitAvailabilityRows)
}

// Listings fetches the slow-changing pricing/business listing rows, optionally
// filtered by category.
func (store *Store) Listings(ctx context.Context, category string) ([]Record, error) {
	where := ""
	if category != "" {
		where = Where{}.Eq("Category", category).String()
	}
	return store.client.QueryRecords(ctx, store.client.tables.Listings, where, limitListingRows)
}

// ReservationInput holds the fields a new primary reservation row is created
// with.
type ReservationInput struct {
	ResID        string
	IDKey        string
	BusinessUnit string
	Email        string
	Date         string
	Total        decimal.Decimal
}

// InsertReservation creates the primary transaction row for a reservation.
func (store *Store) InsertReservation(ctx context.Context, input ReservationInput) error {
	return store.client.InsertRecord(ctx, store.client.tables.Transactions, Record{
		fieldResID:        input.ResID,
		fieldType:         string(booking.LineItemReservation),
		fieldIDKey:        input.IDKey,
		fieldBusinessUnit: input.BusinessUnit,
		fieldEmail:        input.Email,
		fieldDate:         input.Date,
		fieldTotal:        input.Total.InexactFloat64(),
		fieldStatus:       statusPending,
	})
}

// ReservationRecord fetches the primary transaction row for a reservation.
func (store *Store) ReservationRecord(ctx context.Context, resID string) (Record, error) {
	where := Where{}.Eq(fieldResID, resID).Eq(fieldType, string(booking.LineItemReservation)).String()
	records, err := store.client.QueryRecords(ctx, store.client.tables.Transactions, where, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: reservation %s", booking.ErrNotFound, resID)
	}
	return records[0], nil
}

// TransactionByIDKey fetches one transaction row by its correlation key.
func (store *Store) TransactionByIDKey(ctx context.Context, idKey string) (Record, error) {
	where := Where{}.Eq(fieldIDKey, idKey).String()
	records, err := store.client.QueryRecords(ctx, store.client.tables.Transactions, where, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: transaction %s", booking.ErrNotFound, idKey)
	}
	return records[0], nil
}

// TransactionByCharge fetches one transaction row by payment charge id.
func (store *Store) TransactionByCharge(ctx context.Context, chargeID string) (Record, error) {
	where := Where{}.Eq(fieldChargeID, chargeID).String()
	records, err := store.client.QueryRecords(ctx, store.client.tables.Transactions, where, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: charge %s", booking.ErrNotFound, chargeID)
	}
	return records[0], nil
}

// MarkTransactionPaid records payment identifiers on the primary row once a
// checkout session completes.
func (store *Store) MarkTransactionPaid(ctx context.Context, resID string, sessionID string, chargeID string) error {
	where := Where{}.Eq(fieldResID, resID).Eq(fieldType, string(booking.LineItemReservation)).String()
	return store.client.UpdateRecords(ctx, store.client.tables.Transactions, where, Record{
		fieldStatus:    statusPaid,
		fieldSessionID: sessionID,
		fieldChargeID:  chargeID,
	})
}

// MarkTransactionRefunded flips the row for a refunded charge.
func (store *Store) MarkTransactionRefunded(ctx context.Context, chargeID string) error {
	where := Where{}.Eq(fieldChargeID, chargeID).String()
	return store.client.UpdateRecords(ctx, store.client.tables.Transactions, where, Record{
		fieldStatus: statusRefunded,
	})
}

func mapLineItem(record Record) booking.LineItem {
	itemType, err := booking.ParseLineItemType(record.Text(fieldType))
	if err != nil {
		itemType = booking.LineItemAddon
	}
	return booking.LineItem{
		EntityID:     record.Text(fieldResID),
		Type:         itemType,
		Total:        record.Number(fieldTotal),
		IDKey:        record.Text(fieldIDKey),
		BusinessUnit: record.Text(fieldBusinessUnit),
		Status:       record.Text(fieldStatus),
	}
}

func rollupToRecord(record booking.RollupRecord) Record {
	return Record{
		fieldResID:        record.EntityID,
		fieldIDKey:        record.IDKey,
		fieldBusinessUnit: record.BusinessUnit,
		fieldStatus:       record.Status,
		fieldSubPrimary:   record.SubtotalPrimary.InexactFloat64(),
		fieldSubAddon:     record.SubtotalAddon.InexactFloat64(),
		fieldTotal:        record.Total.InexactFloat64(),
	}
}

// Text reads a string column, empty when absent or differently typed.
func (record Record) Text(field string) string {
	value, _ := record[field].(string)
	return value
}

// Number reads a numeric column. Caspio serializes numbers as floats but
// legacy rows carry strings; missing or malformed values count as zero.
func (record Record) Number(field string) decimal.Decimal {
	switch value := record[field].(type) {
	case float64:
		return decimal.NewFromFloat(value)
	case string:
		parsed, err := decimal.NewFromString(value)
		if err == nil {
			return parsed
		}
	case json.Number:
		parsed, err := decimal.NewFromString(value.String())
		if err == nil {
			return parsed
		}
	case int:
		return decimal.NewFromInt(int64(value))
	case int64:
		return decimal.NewFromInt(value)
	}
	return decimal.Zero
}
