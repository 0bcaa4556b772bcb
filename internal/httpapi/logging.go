package httpapi

import (
	"context"

	"go.uber.org/zap"

	"github.com/harborpoint/bookingbridge/pkg/booking"
)

// zapOperationLogger adapts booking.OperationLogger onto a zap logger.
type zapOperationLogger struct {
	logger *zap.Logger
}

func newZapOperationLogger(logger *zap.Logger) *zapOperationLogger {
	return &zapOperationLogger{logger: logger}
}

func (adapter *zapOperationLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("entity_id", entry.EntityID.String()),
		zap.String("status", entry.Status),
	}
	if entry.Action != "" {
		fields = append(fields, zap.String("action", string(entry.Action)))
	}
	if entry.Source != "" {
		fields = append(fields, zap.String("source", string(entry.Source)))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("rollup operation", fields...)
		return
	}
	adapter.logger.Info("rollup operation", fields...)
}
