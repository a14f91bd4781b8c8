package repository

import (
	"context"
	"errors"

	"github.com/rpattn/fleetquery/internal/domain"
)

// ErrExecutionNotFound is returned when no history record exists for a request id.
var ErrExecutionNotFound = errors.New("execution record not found")

// ExecutionHistoryRepository defines the interface for execution history operations
type ExecutionHistoryRepository interface {
	Record(ctx context.Context, record domain.ExecutionRecord) error
	GetByID(ctx context.Context, requestID string) (domain.ExecutionRecord, error)
	List(ctx context.Context, limit int, offset int) ([]domain.ExecutionRecord, error)
}
