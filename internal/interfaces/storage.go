package interfaces

import (
	"context"

	"github.com/ternarybob/fabrica/internal/models"
)

// BatchListOptions controls pagination and filtering for batch listings.
type BatchListOptions struct {
	Status   string
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

// BatchStorage is the durable persistence contract for batch and subtask
// records. All methods are safe to call concurrently for different ids.
type BatchStorage interface {
	// CreateBatch persists a new batch together with all its subtasks.
	CreateBatch(ctx context.Context, batch *models.BatchTask, subtasks []*models.SubTask) error

	// UpdateBatch overwrites the stored batch record.
	UpdateBatch(ctx context.Context, batch *models.BatchTask) error

	// UpdateSubTask overwrites the stored subtask record.
	UpdateSubTask(ctx context.Context, subtask *models.SubTask) error

	// GetBatch returns the batch record by id.
	GetBatch(ctx context.Context, batchID string) (*models.BatchTask, error)

	// GetSubTasks returns all subtasks of a batch ordered by creation time.
	GetSubTasks(ctx context.Context, batchID string) ([]*models.SubTask, error)

	// GetSubTask returns a single subtask by id.
	GetSubTask(ctx context.Context, subTaskID string) (*models.SubTask, error)

	// ListBatches returns batches matching the options.
	ListBatches(ctx context.Context, opts *BatchListOptions) ([]*models.BatchTask, error)

	// GetBatchesByStatus returns all batches in the given status.
	GetBatchesByStatus(ctx context.Context, status models.BatchStatus) ([]*models.BatchTask, error)

	// CountBatches returns the total number of stored batches.
	CountBatches(ctx context.Context) (int, error)
}

// StorageManager owns the database connection shared by storage services.
type StorageManager interface {
	BatchStorage() BatchStorage

	// RunGC performs a storage maintenance pass. Implementations with no
	// maintenance work return nil.
	RunGC() error

	Close() error
}
