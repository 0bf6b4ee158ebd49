package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// sweepStorage is a minimal BatchStorage for sweep tests.
type sweepStorage struct {
	mu       sync.Mutex
	batches  map[string]*models.BatchTask
	subtasks map[string][]*models.SubTask
}

func newSweepStorage() *sweepStorage {
	return &sweepStorage{
		batches:  make(map[string]*models.BatchTask),
		subtasks: make(map[string][]*models.SubTask),
	}
}

func (s *sweepStorage) CreateBatch(ctx context.Context, batch *models.BatchTask, subtasks []*models.SubTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	s.subtasks[batch.ID] = subtasks
	return nil
}

func (s *sweepStorage) UpdateBatch(ctx context.Context, batch *models.BatchTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	return nil
}

func (s *sweepStorage) UpdateSubTask(ctx context.Context, subtask *models.SubTask) error {
	return nil
}

func (s *sweepStorage) GetBatch(ctx context.Context, batchID string) (*models.BatchTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch not found: %s", batchID)
	}
	return batch, nil
}

func (s *sweepStorage) GetSubTasks(ctx context.Context, batchID string) ([]*models.SubTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subtasks[batchID], nil
}

func (s *sweepStorage) GetSubTask(ctx context.Context, subTaskID string) (*models.SubTask, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *sweepStorage) ListBatches(ctx context.Context, opts *interfaces.BatchListOptions) ([]*models.BatchTask, error) {
	return nil, nil
}

func (s *sweepStorage) GetBatchesByStatus(ctx context.Context, status models.BatchStatus) ([]*models.BatchTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.BatchTask
	for _, batch := range s.batches {
		if batch.Status == status {
			result = append(result, batch)
		}
	}
	return result, nil
}

func (s *sweepStorage) CountBatches(ctx context.Context) (int, error) {
	return len(s.batches), nil
}

var _ interfaces.BatchStorage = (*sweepStorage)(nil)

// stubRunner reports a fixed set of active batch ids.
type stubRunner struct {
	interfaces.BatchService
	active map[string]bool
}

func (r *stubRunner) IsActive(batchID string) bool {
	return r.active[batchID]
}

func sweepConfig() *common.SchedulerConfig {
	return &common.SchedulerConfig{
		Enabled:  true,
		Schedule: "*/5 * * * *",
		StaleAge: "30m",
	}
}

func TestSweepClosesOrphanedRunningBatch(t *testing.T) {
	storage := newSweepStorage()
	old := time.Now().Add(-time.Hour)
	batch := &models.BatchTask{
		ID:            "bat_stale",
		Status:        models.BatchStatusRunning,
		TotalSubtasks: 2,
		CreatedAt:     old,
		UpdatedAt:     old,
	}
	subtasks := []*models.SubTask{
		{ID: "st-1", BatchTaskID: batch.ID, Status: models.SubTaskStatusCompleted},
		{ID: "st-2", BatchTaskID: batch.ID, Status: models.SubTaskStatusRunning},
	}
	_ = storage.CreateBatch(context.Background(), batch, subtasks)

	janitor := NewJanitor(sweepConfig(), &stubRunner{active: map[string]bool{}}, storage, arbor.NewLogger())
	if err := janitor.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	swept, _ := storage.GetBatch(context.Background(), "bat_stale")
	if swept.Status != models.BatchStatusCompletedWithErrors {
		t.Errorf("status = %s, want completed_with_errors", swept.Status)
	}
	if swept.FailedSubtasks != 1 || swept.CompletedSubtasks != 1 {
		t.Errorf("counts = %d completed, %d failed; want 1 and 1", swept.CompletedSubtasks, swept.FailedSubtasks)
	}
	if subtasks[1].Status != models.SubTaskStatusFailed {
		t.Errorf("running subtask status = %s, want failed", subtasks[1].Status)
	}
}

func TestSweepSkipsActiveBatch(t *testing.T) {
	storage := newSweepStorage()
	old := time.Now().Add(-time.Hour)
	batch := &models.BatchTask{ID: "bat_active", Status: models.BatchStatusRunning, UpdatedAt: old}
	_ = storage.CreateBatch(context.Background(), batch, nil)

	janitor := NewJanitor(sweepConfig(), &stubRunner{active: map[string]bool{"bat_active": true}}, storage, arbor.NewLogger())
	if err := janitor.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	kept, _ := storage.GetBatch(context.Background(), "bat_active")
	if kept.Status != models.BatchStatusRunning {
		t.Errorf("active batch swept to %s", kept.Status)
	}
}

func TestSweepSkipsRecentBatch(t *testing.T) {
	storage := newSweepStorage()
	batch := &models.BatchTask{ID: "bat_fresh", Status: models.BatchStatusRunning, UpdatedAt: time.Now()}
	_ = storage.CreateBatch(context.Background(), batch, nil)

	janitor := NewJanitor(sweepConfig(), &stubRunner{active: map[string]bool{}}, storage, arbor.NewLogger())
	if err := janitor.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	kept, _ := storage.GetBatch(context.Background(), "bat_fresh")
	if kept.Status != models.BatchStatusRunning {
		t.Errorf("fresh batch swept to %s", kept.Status)
	}
}
