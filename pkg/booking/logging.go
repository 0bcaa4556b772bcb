package booking

import (
	"context"
	"time"
)

// ServiceOption configures a RollupService instance.
type ServiceOption func(*RollupService)

// OperationLogger records domain-level events emitted by service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one rollup recompute.
type OperationLog struct {
	Operation string
	EntityID  EntityID
	Action    Action
	Source    ResultSource
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *RollupService) {
		service.logger = logger
	}
}

// WithStormTTL overrides how long a recompute result absorbs duplicate triggers.
func WithStormTTL(ttl time.Duration) ServiceOption {
	return func(service *RollupService) {
		if ttl > 0 {
			service.stormTTL = ttl
		}
	}
}
