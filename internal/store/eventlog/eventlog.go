// Package eventlog persists webhook deliveries so duplicate events are
// detected across restarts, unlike the in-process storm guard which only
// covers one warm instance.
package eventlog

import (
	"context"
	"errors"
	"fmt"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/harborpoint/bookingbridge/pkg/booking"
)

// Event statuses recorded in the journal.
const (
	StatusReceived  = "received"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// Supported journal drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	emptyJSONPayload      = "{}"

	errorOperationEventlog = "eventlog"
	errorSubjectEvent      = "event"
	errorCodeInsert        = "insert"
	errorCodeList          = "list"
	errorCodeUpdateStatus  = "update_status"
)

// Event is one journaled webhook delivery.
type Event struct {
	EventID        string
	Source         string
	Type           string
	EntityID       string
	Payload        string
	Status         string
	CreatedUnixUTC int64
}

// Store implements the journal using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the journal database and migrates its schema. The sqlite
// driver accepts ":memory:" for tests and single-instance deployments.
func Open(driver string, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: unknown eventlog driver %q", booking.ErrInvalidServiceConfig, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("%w: open eventlog: %v", booking.ErrDependency, err)
	}
	if err := db.AutoMigrate(&WebhookEvent{}); err != nil {
		return nil, fmt.Errorf("%w: migrate eventlog: %v", booking.ErrDependency, err)
	}
	return New(db), nil
}

// Record journals an event if it has not been seen before. It returns true
// when the event is new and false for a duplicate delivery.
func (store *Store) Record(ctx context.Context, event Event) (bool, error) {
	payload := event.Payload
	if payload == "" {
		payload = emptyJSONPayload
	}
	status := event.Status
	if status == "" {
		status = StatusReceived
	}
	row := WebhookEvent{
		EventID:  event.EventID,
		Source:   event.Source,
		Type:     event.Type,
		EntityID: event.EntityID,
		Payload:  datatypes.JSON([]byte(payload)),
		Status:   status,
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isDuplicateEvent(err) {
		return false, nil
	}
	if err != nil {
		return false, wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return true, nil
}

// MarkStatus updates the processing status of a journaled event.
func (store *Store) MarkStatus(ctx context.Context, eventID string, status string) error {
	result := store.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("event_id = ?", eventID).
		Update("status", status)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEvent, errorCodeUpdateStatus, fmt.Errorf("%w: event %s", booking.ErrNotFound, eventID))
	}
	return nil
}

// Recent returns the newest journaled events, newest first.
func (store *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	var rows []WebhookEvent
	err := store.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEvent, errorCodeList, err)
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, Event{
			EventID:        row.EventID,
			Source:         row.Source,
			Type:           row.Type,
			EntityID:       row.EntityID,
			Payload:        string(row.Payload),
			Status:         row.Status,
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return events, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationEventlog, subject, code, err)
}

func isDuplicateEvent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
