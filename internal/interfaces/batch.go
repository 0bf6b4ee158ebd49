package interfaces

import (
	"context"

	"github.com/ternarybob/fabrica/internal/models"
)

// BatchService is the entry point the surrounding application (HTTP
// handlers, scheduler) calls to manage batch tasks.
type BatchService interface {
	// Create validates the request and persists the batch with all its
	// subtasks in pending state. Execution does not start.
	Create(ctx context.Context, req *models.CreateBatchRequest) (*models.BatchTask, error)

	// Start begins execution of a pending batch. Returns an
	// InvalidStateError if the batch is not pending.
	Start(ctx context.Context, batchID string) error

	// Cancel cooperatively cancels a batch. Returns an InvalidStateError
	// if the batch is already terminal. Blocks until all in-flight
	// workers have observed the cancellation.
	Cancel(ctx context.Context, batchID string) error

	// UpdateSubTaskProgress is the idempotent out-of-band update channel.
	// Terminal states are absorbing: further updates are no-ops.
	UpdateSubTaskProgress(ctx context.Context, batchID, subTaskID string, update *models.SubTaskUpdate) error

	// GetProgress returns a read-only snapshot of the batch and all its
	// subtasks. Never blocks on in-flight polling.
	GetProgress(ctx context.Context, batchID string) (*models.BatchTaskProgress, error)

	// List returns batches matching the options.
	List(ctx context.Context, opts *BatchListOptions) ([]*models.BatchTask, error)

	// IsActive reports whether the runner currently owns an in-memory
	// execution for the batch.
	IsActive(batchID string) bool
}
