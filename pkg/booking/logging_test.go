package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsRecomputeOperation(test *testing.T) {
	test.Parallel()
	store := &stubStore{
		primary: &LineItem{EntityID: "res-log", Type: LineItemReservation, Total: decimal.NewFromInt(40)},
	}
	logger := &recorderLogger{}
	service := mustNewRollupService(test, store, WithOperationLogger(logger))
	entityID := mustEntityID(test, "res-log")

	if _, err := service.Recompute(context.Background(), entityID); err != nil {
		test.Fatalf("recompute: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationRecompute || entry.EntityID != entityID || entry.Action != ActionInserted {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := &stubStore{readErr: errors.New("boom")}
	logger := &recorderLogger{}
	service := mustNewRollupService(test, store, WithOperationLogger(logger))

	if _, err := service.Recompute(context.Background(), mustEntityID(test, "res-err")); err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}
