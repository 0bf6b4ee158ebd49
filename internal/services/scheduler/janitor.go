package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// Janitor periodically sweeps batches stuck in running state. A batch is
// stale when it has been running longer than the configured age but no
// in-memory execution owns it, which happens after an unclean shutdown.
// Stale batches are closed out so their status stops reporting progress
// that will never arrive.
type Janitor struct {
	config  *common.SchedulerConfig
	runner  interfaces.BatchService
	storage interfaces.BatchStorage
	cron    *cron.Cron
	logger  arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewJanitor creates the stale-batch sweeper.
func NewJanitor(config *common.SchedulerConfig, runner interfaces.BatchService, storage interfaces.BatchStorage, logger arbor.ILogger) *Janitor {
	return &Janitor{
		config:  config,
		runner:  runner,
		storage: storage,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start schedules the sweep on the configured cron expression.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor already running")
	}
	if !j.config.Enabled {
		j.logger.Debug().Msg("Stale batch janitor disabled")
		return nil
	}

	schedule := j.config.Schedule
	if schedule == "" {
		schedule = "*/5 * * * *"
	}

	if _, err := j.cron.AddFunc(schedule, func() {
		if err := j.Sweep(context.Background()); err != nil {
			j.logger.Warn().Err(err).Msg("Stale batch sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	j.cron.Start()
	j.running = true
	j.logger.Info().
		Str("schedule", schedule).
		Str("stale_age", j.config.StaleAge).
		Msg("Stale batch janitor started")
	return nil
}

// Sweep marks every orphaned running batch as completed with errors, failing
// its non-terminal subtasks with a timeout message.
func (j *Janitor) Sweep(ctx context.Context) error {
	staleAge := j.config.StaleAgeDuration()
	cutoff := time.Now().Add(-staleAge)

	batches, err := j.storage.GetBatchesByStatus(ctx, models.BatchStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to load running batches: %w", err)
	}

	swept := 0
	for _, batch := range batches {
		if batch.UpdatedAt.After(cutoff) {
			continue
		}
		if j.runner.IsActive(batch.ID) {
			continue
		}

		if err := j.closeStaleBatch(ctx, batch); err != nil {
			j.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("Failed to close stale batch")
			continue
		}
		swept++
	}

	if swept > 0 {
		j.logger.Info().Int("swept", swept).Msg("Closed stale batches")
	}
	return nil
}

func (j *Janitor) closeStaleBatch(ctx context.Context, batch *models.BatchTask) error {
	subtasks, err := j.storage.GetSubTasks(ctx, batch.ID)
	if err != nil {
		return err
	}

	for _, st := range subtasks {
		if st.Status.IsTerminal() {
			continue
		}
		st.MarkFailed(models.ClassTerminalFailure, "abandoned by interrupted run")
		if err := j.storage.UpdateSubTask(ctx, st); err != nil {
			return err
		}
	}

	// Re-derive from the swept subtasks rather than forcing a status.
	var completed, failed int
	for _, st := range subtasks {
		switch st.Status {
		case models.SubTaskStatusCompleted:
			completed++
		case models.SubTaskStatusFailed:
			failed++
		}
	}
	batch.CompletedSubtasks = completed
	batch.FailedSubtasks = failed
	batch.Status = models.DeriveBatchStatus(subtasks, false)
	batch.Error = "closed by stale batch sweep"
	batch.Touch()

	j.logger.Warn().
		Str("batch_id", batch.ID).
		Str("status", string(batch.Status)).
		Msg("Closed stale batch")
	return j.storage.UpdateBatch(ctx, batch)
}

// Stop halts the cron scheduler and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.running = false
	j.logger.Info().Msg("Stale batch janitor stopped")
}
