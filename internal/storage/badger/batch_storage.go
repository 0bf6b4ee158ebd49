package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// BatchStorage implements interfaces.BatchStorage on badgerhold. Batch and
// subtask records live in separate keyspaces; subtasks carry the batch id
// for lookup.
type BatchStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBatchStorage creates a new BatchStorage instance
func NewBatchStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BatchStorage {
	return &BatchStorage{
		db:     db,
		logger: logger,
	}
}

var _ interfaces.BatchStorage = (*BatchStorage)(nil)

// CreateBatch persists the batch and all its subtasks.
func (s *BatchStorage) CreateBatch(ctx context.Context, batch *models.BatchTask, subtasks []*models.SubTask) error {
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("batch ID is required")
	}

	if err := s.db.Store().Upsert(batch.ID, batch); err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	for _, st := range subtasks {
		if st.ID == "" {
			return fmt.Errorf("subtask ID is required")
		}
		if err := s.db.Store().Upsert(st.ID, st); err != nil {
			return fmt.Errorf("failed to save subtask %s: %w", st.ID, err)
		}
	}

	s.logger.Debug().
		Str("batch_id", batch.ID).
		Int("subtasks", len(subtasks)).
		Msg("Batch persisted")
	return nil
}

// UpdateBatch overwrites the stored batch record.
func (s *BatchStorage) UpdateBatch(ctx context.Context, batch *models.BatchTask) error {
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("batch ID is required")
	}
	if err := s.db.Store().Upsert(batch.ID, batch); err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	return nil
}

// UpdateSubTask overwrites the stored subtask record.
func (s *BatchStorage) UpdateSubTask(ctx context.Context, subtask *models.SubTask) error {
	if subtask == nil || subtask.ID == "" {
		return fmt.Errorf("subtask ID is required")
	}
	if err := s.db.Store().Upsert(subtask.ID, subtask); err != nil {
		return fmt.Errorf("failed to update subtask: %w", err)
	}
	return nil
}

// GetBatch returns the batch record by id.
func (s *BatchStorage) GetBatch(ctx context.Context, batchID string) (*models.BatchTask, error) {
	var batch models.BatchTask
	if err := s.db.Store().Get(batchID, &batch); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("batch not found: %s", batchID)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}

// GetSubTasks returns all subtasks of a batch ordered by creation time.
func (s *BatchStorage) GetSubTasks(ctx context.Context, batchID string) ([]*models.SubTask, error) {
	var subtasks []*models.SubTask
	query := badgerhold.Where("BatchTaskID").Eq(batchID).SortBy("CreatedAt", "ID")
	if err := s.db.Store().Find(&subtasks, query); err != nil {
		return nil, fmt.Errorf("failed to get subtasks for batch %s: %w", batchID, err)
	}
	return subtasks, nil
}

// GetSubTask returns a single subtask by id.
func (s *BatchStorage) GetSubTask(ctx context.Context, subTaskID string) (*models.SubTask, error) {
	var subtask models.SubTask
	if err := s.db.Store().Get(subTaskID, &subtask); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("subtask not found: %s", subTaskID)
		}
		return nil, fmt.Errorf("failed to get subtask: %w", err)
	}
	return &subtask, nil
}

// ListBatches returns batches matching the options.
func (s *BatchStorage) ListBatches(ctx context.Context, opts *interfaces.BatchListOptions) ([]*models.BatchTask, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.BatchStatus(opts.Status))
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.OrderBy != "" {
			if opts.OrderDir == "DESC" {
				query = query.SortBy(opts.OrderBy).Reverse()
			} else {
				query = query.SortBy(opts.OrderBy)
			}
		} else {
			query = query.SortBy("CreatedAt").Reverse()
		}
	} else {
		query = query.SortBy("CreatedAt").Reverse()
	}

	var batches []*models.BatchTask
	if err := s.db.Store().Find(&batches, query); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}

// GetBatchesByStatus returns all batches in the given status.
func (s *BatchStorage) GetBatchesByStatus(ctx context.Context, status models.BatchStatus) ([]*models.BatchTask, error) {
	var batches []*models.BatchTask
	if err := s.db.Store().Find(&batches, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to get batches by status: %w", err)
	}
	return batches, nil
}

// CountBatches returns the total number of stored batches.
func (s *BatchStorage) CountBatches(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.BatchTask{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count batches: %w", err)
	}
	return int(count), nil
}
