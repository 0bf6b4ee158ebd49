// -----------------------------------------------------------------------
// Batch Runner - owns the batch/subtask state machine and worker pool
// -----------------------------------------------------------------------

package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// execution is the in-memory state of one running batch. It is created by
// Start, dropped when the batch reaches a terminal state, and never persisted.
type execution struct {
	batchID string
	limiter *Limiter

	// done closes once every worker has returned and the final sweep has
	// persisted the terminal batch status.
	done chan struct{}

	mu              sync.Mutex
	cancelRequested bool
	authErr         string
}

func (e *execution) requestCancel() {
	e.mu.Lock()
	e.cancelRequested = true
	e.mu.Unlock()
	e.limiter.CancelAll()
}

func (e *execution) cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelRequested
}

// recordAuthFailure stores the first fatal credential error. Later workers
// short-circuit instead of burning provider calls on a dead credential.
func (e *execution) recordAuthFailure(msg string) {
	e.mu.Lock()
	if e.authErr == "" {
		e.authErr = msg
	}
	e.mu.Unlock()
}

func (e *execution) authFailure() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authErr
}

// Runner implements interfaces.BatchService. It owns all batch and subtask
// mutations; workers and out-of-band updates funnel through its per-batch
// lock so terminal transitions never race on the counters.
type Runner struct {
	config   *common.Config
	storage  interfaces.BatchStorage
	resolver interfaces.ProviderResolver
	events   interfaces.EventService
	engine   *Engine
	backoff  BackoffPolicy
	validate *validator.Validate
	logger   arbor.ILogger

	mu         sync.Mutex
	executions map[string]*execution
	locks      map[string]*sync.Mutex
}

var _ interfaces.BatchService = (*Runner)(nil)

// NewRunner creates the batch service.
func NewRunner(config *common.Config, storage interfaces.BatchStorage, resolver interfaces.ProviderResolver, events interfaces.EventService, logger arbor.ILogger) *Runner {
	backoff := BackoffPolicy{
		InitialDelay: config.Batch.InitialPollDelayDuration(),
		Factor:       config.Batch.BackoffFactor,
		MaxDelay:     config.Batch.MaxPollDelayDuration(),
		Jitter:       config.Batch.Jitter,
	}
	classifier := NewClassifier(logger)

	return &Runner{
		config:     config,
		storage:    storage,
		resolver:   resolver,
		events:     events,
		engine:     NewEngine(backoff, classifier, logger),
		backoff:    backoff,
		validate:   validator.New(),
		logger:     logger,
		executions: make(map[string]*execution),
		locks:      make(map[string]*sync.Mutex),
	}
}

// batchLock returns the mutation lock for a batch. Workers, the final sweep,
// and out-of-band updates all serialize through it.
func (r *Runner) batchLock(batchID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[batchID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[batchID] = lock
	}
	return lock
}

// Create validates the request, renders one subtask per variant, and persists
// everything in pending state. Execution does not start.
func (r *Runner) Create(ctx context.Context, req *models.CreateBatchRequest) (*models.BatchTask, error) {
	if req == nil {
		return nil, NewValidationError("request is required")
	}
	if err := r.validate.Struct(req); err != nil {
		return nil, NewValidationError("invalid batch request: %v", err)
	}
	if req.PollDeadline != "" {
		if _, err := time.ParseDuration(req.PollDeadline); err != nil {
			return nil, NewValidationError("invalid poll_deadline %q: %v", req.PollDeadline, err)
		}
	}
	if _, err := r.resolver.Resolve(ctx, req.Model); err != nil {
		return nil, NewValidationError("unsupported model %q: %v", req.Model, err)
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = r.config.Batch.Concurrency
	}

	now := time.Now()
	task := &models.BatchTask{
		ID:            common.NewBatchID(),
		Name:          req.Name,
		Status:        models.BatchStatusPending,
		MediaType:     req.MediaType,
		Model:         req.Model,
		TotalSubtasks: len(req.Variants),
		Concurrency:   concurrency,
		PollDeadline:  req.PollDeadline,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	referenced := common.TemplateVariables(req.PromptTemplate)

	subtasks := make([]*models.SubTask, 0, len(req.Variants))
	for i, variant := range req.Variants {
		for _, name := range referenced {
			if _, ok := variant[name]; !ok {
				r.logger.Warn().
					Str("batch_id", task.ID).
					Int("variant", i).
					Str("variable", name).
					Msg("Variant does not supply a referenced template variable")
			}
		}
		subtasks = append(subtasks, &models.SubTask{
			ID:          common.NewSubTaskID(),
			BatchTaskID: task.ID,
			Status:      models.SubTaskStatusPending,
			Prompt:      common.RenderPrompt(req.PromptTemplate, variant, r.logger),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := r.storage.CreateBatch(ctx, task, subtasks); err != nil {
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	r.logger.Info().
		Str("batch_id", task.ID).
		Str("media_type", task.MediaType).
		Str("model", task.Model).
		Int("subtasks", task.TotalSubtasks).
		Msg("Batch created")

	r.publish(ctx, interfaces.EventBatchCreated, task)
	return task, nil
}

// Start transitions a pending batch to running and submits one worker job per
// subtask. It returns once the jobs are queued; execution proceeds in the
// background.
func (r *Runner) Start(ctx context.Context, batchID string) error {
	lock := r.batchLock(batchID)
	lock.Lock()

	task, err := r.storage.GetBatch(ctx, batchID)
	if err != nil {
		lock.Unlock()
		return err
	}
	if task.Status != models.BatchStatusPending {
		lock.Unlock()
		return &InvalidStateError{BatchID: batchID, Status: string(task.Status), Operation: "start"}
	}

	provider, err := r.resolver.Resolve(ctx, task.Model)
	if err != nil {
		lock.Unlock()
		return NewValidationError("no provider for model %q: %v", task.Model, err)
	}

	subtasks, err := r.storage.GetSubTasks(ctx, batchID)
	if err != nil {
		lock.Unlock()
		return err
	}

	// The execution must be visible before the batch is persisted as
	// running, so a concurrent Cancel routes through it instead of the
	// direct path while workers are being queued.
	exec := &execution{
		batchID: batchID,
		limiter: NewLimiter(task.Concurrency),
		done:    make(chan struct{}),
	}
	r.mu.Lock()
	r.executions[batchID] = exec
	r.mu.Unlock()

	task.Status = models.BatchStatusRunning
	task.Touch()
	if err := r.storage.UpdateBatch(ctx, task); err != nil {
		r.mu.Lock()
		delete(r.executions, batchID)
		r.mu.Unlock()
		close(exec.done)
		lock.Unlock()
		return fmt.Errorf("failed to mark batch running: %w", err)
	}
	lock.Unlock()

	r.logger.Info().
		Str("batch_id", batchID).
		Int("concurrency", task.Concurrency).
		Int("subtasks", len(subtasks)).
		Msg("Batch execution started")
	r.publish(ctx, interfaces.EventBatchStatusChange, task)

	deadline := r.pollBudget(task)
	for _, st := range subtasks {
		if st.Status != models.SubTaskStatusPending {
			continue
		}
		subtask := st
		exec.limiter.Submit(func(jobCtx context.Context) {
			r.runSubTask(jobCtx, exec, provider, task, subtask, deadline)
		})
	}

	go func() {
		exec.limiter.AwaitIdle()
		r.finalize(exec)
	}()

	return nil
}

// pollBudget returns the wall-clock polling budget for one subtask.
func (r *Runner) pollBudget(task *models.BatchTask) time.Duration {
	if task.PollDeadline != "" {
		if d, err := time.ParseDuration(task.PollDeadline); err == nil {
			return d
		}
	}
	return r.config.Batch.PollDeadlineDuration(task.MediaType)
}

// runSubTask drives one subtask: submit to the provider, poll the returned
// handle to a terminal outcome, and record exactly one terminal transition.
func (r *Runner) runSubTask(ctx context.Context, exec *execution, provider interfaces.GenerationProvider, task *models.BatchTask, subtask *models.SubTask, budget time.Duration) {
	log := r.logger.WithCorrelationId(subtask.ID)

	if ctx.Err() != nil {
		// The final sweep marks unstarted subtasks cancelled.
		return
	}
	if msg := exec.authFailure(); msg != "" {
		r.recordTerminal(ctx, exec, subtask.ID, func(st *models.SubTask) {
			st.MarkFailed(models.ClassAuth, msg)
		})
		return
	}

	submitted, class, submitErr := r.submitWithRetry(ctx, exec, provider, task, subtask, log)
	if submitted == nil {
		if ctx.Err() != nil {
			return
		}
		msg := "submission failed"
		if submitErr != nil {
			msg = submitErr.Error()
		}
		if class == models.ClassAuth {
			exec.recordAuthFailure(msg)
		}
		r.recordTerminal(ctx, exec, subtask.ID, func(st *models.SubTask) {
			st.MarkFailed(class, msg)
		})
		return
	}

	if submitted.Inline != nil {
		r.recordTerminal(ctx, exec, subtask.ID, func(st *models.SubTask) {
			st.MarkCompleted(submitted.Inline.Outputs, r.costFor(task.Model))
		})
		return
	}

	r.recordTransition(ctx, exec, subtask.ID, func(st *models.SubTask) {
		st.MarkRunning(submitted.ProviderTaskID)
	})

	deadline := time.Now().Add(budget)
	outcome := r.engine.PollUntilTerminal(ctx, submitted.ProviderTaskID, provider.Poll, deadline, func(progress int) {
		r.reportProgress(ctx, exec, subtask.ID, progress)
	})

	switch outcome.Classification {
	case models.ClassCompleted:
		r.recordTerminal(ctx, exec, subtask.ID, func(st *models.SubTask) {
			st.Attempt = outcome.Attempts
			st.MarkCompleted(outcome.Result, r.costFor(task.Model))
		})
	case models.ClassCancelled:
		// The final sweep persists the cancelled state for every
		// non-terminal subtask once the pool drains.
		log.Debug().Msg("Subtask polling cancelled")
	default:
		r.recordTerminal(ctx, exec, subtask.ID, func(st *models.SubTask) {
			st.Attempt = outcome.Attempts
			st.MarkFailed(outcome.Classification, outcome.ErrorDetail)
		})
	}
}

// submitWithRetry starts one unit of provider work. Network and rate-limit
// failures are retried up to the configured cap with the poll backoff
// schedule; auth, not-found, and terminal failures stop immediately.
func (r *Runner) submitWithRetry(ctx context.Context, exec *execution, provider interfaces.GenerationProvider, task *models.BatchTask, subtask *models.SubTask, log arbor.ILogger) (*interfaces.SubmitResult, models.Classification, error) {
	maxAttempts := r.config.Batch.SubmitRetryMax
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	// The routing prefix selects the adapter; the provider API only
	// understands the bare model name.
	req := &interfaces.GenerationRequest{
		SubTaskID: subtask.ID,
		MediaType: task.MediaType,
		Model:     r.resolver.NormalizeModel(task.Model),
		Prompt:    subtask.Prompt,
	}

	var lastErr error
	var lastClass models.Classification
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, models.ClassCancelled, ctx.Err()
		}
		if msg := exec.authFailure(); msg != "" {
			return nil, models.ClassAuth, fmt.Errorf("%s", msg)
		}

		result, err := provider.Submit(ctx, req)
		if err == nil {
			return result, models.ClassInProgress, nil
		}

		lastErr = err
		lastClass = r.engine.classifier.Classify(nil, err)
		if !lastClass.Retryable() {
			return nil, lastClass, err
		}

		delay := r.backoff.NextDelay(attempt, lastClass)
		log.Warn().
			Err(err).
			Str("classification", string(lastClass)).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Msg("Provider submission failed, retrying")
		if !r.engine.sleep(ctx, delay) {
			return nil, models.ClassCancelled, ctx.Err()
		}
	}
	return nil, lastClass, lastErr
}

// reportProgress persists a non-terminal progress update and emits an event.
// Terminal subtasks absorb the update.
func (r *Runner) reportProgress(ctx context.Context, exec *execution, subTaskID string, progress int) {
	lock := r.batchLock(exec.batchID)
	lock.Lock()
	defer lock.Unlock()

	st, err := r.storage.GetSubTask(ctx, subTaskID)
	if err != nil || st.Status.IsTerminal() {
		return
	}
	before := st.Progress
	st.SetProgress(progress)
	if st.Progress == before {
		return
	}
	if err := r.storage.UpdateSubTask(ctx, st); err != nil {
		r.logger.Warn().Err(err).Str("subtask_id", subTaskID).Msg("Failed to persist subtask progress")
		return
	}
	r.publish(ctx, interfaces.EventSubTaskProgress, st)
}

// recordTransition applies a non-terminal mutation under the batch lock.
func (r *Runner) recordTransition(ctx context.Context, exec *execution, subTaskID string, mutate func(*models.SubTask)) {
	lock := r.batchLock(exec.batchID)
	lock.Lock()
	defer lock.Unlock()

	st, err := r.storage.GetSubTask(ctx, subTaskID)
	if err != nil || st.Status.IsTerminal() {
		return
	}
	mutate(st)
	if err := r.storage.UpdateSubTask(ctx, st); err != nil {
		r.logger.Warn().Err(err).Str("subtask_id", subTaskID).Msg("Failed to persist subtask transition")
		return
	}
	r.publish(ctx, interfaces.EventSubTaskStatusChange, st)
}

// recordTerminal applies a terminal mutation exactly once, then recomputes
// the batch counters and re-derives the batch status. Terminal states are
// absorbing: if the subtask is already terminal the call is a no-op.
func (r *Runner) recordTerminal(ctx context.Context, exec *execution, subTaskID string, mutate func(*models.SubTask)) {
	lock := r.batchLock(exec.batchID)
	lock.Lock()
	defer lock.Unlock()

	st, err := r.storage.GetSubTask(ctx, subTaskID)
	if err != nil {
		r.logger.Warn().Err(err).Str("subtask_id", subTaskID).Msg("Failed to load subtask for terminal transition")
		return
	}
	if st.Status.IsTerminal() {
		return
	}
	mutate(st)
	if err := r.storage.UpdateSubTask(ctx, st); err != nil {
		r.logger.Error().Err(err).Str("subtask_id", subTaskID).Msg("Failed to persist subtask terminal state")
		return
	}
	r.publish(ctx, interfaces.EventSubTaskStatusChange, st)

	r.recomputeBatchLocked(ctx, exec.batchID, exec.cancelled())
}

// recomputeBatchLocked re-derives batch counters and status from the stored
// subtasks. Caller holds the batch lock.
func (r *Runner) recomputeBatchLocked(ctx context.Context, batchID string, cancelRequested bool) {
	task, err := r.storage.GetBatch(ctx, batchID)
	if err != nil {
		r.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to load batch for recompute")
		return
	}
	subtasks, err := r.storage.GetSubTasks(ctx, batchID)
	if err != nil {
		r.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to load subtasks for recompute")
		return
	}

	previous := task.Status
	NewAggregator().Apply(task, subtasks, cancelRequested)
	if err := r.storage.UpdateBatch(ctx, task); err != nil {
		r.logger.Error().Err(err).Str("batch_id", batchID).Msg("Failed to persist batch counters")
		return
	}

	r.publish(ctx, interfaces.EventBatchProgress, task)
	if task.Status != previous {
		r.logger.Info().
			Str("batch_id", batchID).
			Str("status", string(task.Status)).
			Int("completed", task.CompletedSubtasks).
			Int("failed", task.FailedSubtasks).
			Msg("Batch status changed")
		r.publish(ctx, interfaces.EventBatchStatusChange, task)
	}
}

// finalize runs after the worker pool drains. It cancels every subtask the
// workers never finished (when cancellation was requested), persists the
// terminal batch status, and releases the in-memory execution.
func (r *Runner) finalize(exec *execution) {
	ctx := context.Background()
	lock := r.batchLock(exec.batchID)
	lock.Lock()

	subtasks, err := r.storage.GetSubTasks(ctx, exec.batchID)
	if err == nil && exec.cancelled() {
		for _, st := range subtasks {
			if st.Status.IsTerminal() {
				continue
			}
			st.MarkCancelled()
			if err := r.storage.UpdateSubTask(ctx, st); err != nil {
				r.logger.Warn().Err(err).Str("subtask_id", st.ID).Msg("Failed to persist cancelled subtask")
				continue
			}
			r.publish(ctx, interfaces.EventSubTaskStatusChange, st)
		}
	}
	r.recomputeBatchLocked(ctx, exec.batchID, exec.cancelled())
	lock.Unlock()

	r.mu.Lock()
	delete(r.executions, exec.batchID)
	delete(r.locks, exec.batchID)
	r.mu.Unlock()

	close(exec.done)
	r.logger.Info().Str("batch_id", exec.batchID).Msg("Batch execution finished")
}

// Cancel cooperatively cancels a batch. For a running batch it signals every
// worker and blocks until the pool drains and the cancelled status is
// persisted. For a pending batch it cancels all subtasks directly.
func (r *Runner) Cancel(ctx context.Context, batchID string) error {
	r.mu.Lock()
	exec := r.executions[batchID]
	r.mu.Unlock()

	if exec != nil {
		exec.requestCancel()
		select {
		case <-exec.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	lock := r.batchLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	task, err := r.storage.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return &InvalidStateError{BatchID: batchID, Status: string(task.Status), Operation: "cancel"}
	}

	subtasks, err := r.storage.GetSubTasks(ctx, batchID)
	if err != nil {
		return err
	}
	for _, st := range subtasks {
		if st.Status.IsTerminal() {
			continue
		}
		st.MarkCancelled()
		if err := r.storage.UpdateSubTask(ctx, st); err != nil {
			return fmt.Errorf("failed to cancel subtask %s: %w", st.ID, err)
		}
		r.publish(ctx, interfaces.EventSubTaskStatusChange, st)
	}

	task.Status = models.BatchStatusCancelled
	task.Touch()
	if err := r.storage.UpdateBatch(ctx, task); err != nil {
		return fmt.Errorf("failed to persist cancelled batch: %w", err)
	}

	r.logger.Info().Str("batch_id", batchID).Msg("Batch cancelled")
	r.publish(ctx, interfaces.EventBatchStatusChange, task)
	return nil
}

// UpdateSubTaskProgress is the idempotent out-of-band update channel, used
// when progress arrives via webhook rather than polling. Terminal states are
// absorbing; a late non-terminal update never overwrites a recorded terminal
// state.
func (r *Runner) UpdateSubTaskProgress(ctx context.Context, batchID, subTaskID string, update *models.SubTaskUpdate) error {
	if update == nil {
		return NewValidationError("update is required")
	}
	if err := r.validate.Struct(update); err != nil {
		return NewValidationError("invalid subtask update: %v", err)
	}

	lock := r.batchLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	st, err := r.storage.GetSubTask(ctx, subTaskID)
	if err != nil {
		return err
	}
	if st.BatchTaskID != batchID {
		return NewValidationError("subtask %s does not belong to batch %s", subTaskID, batchID)
	}
	if st.Status.IsTerminal() {
		return nil
	}

	switch update.Status {
	case models.SubTaskStatusCompleted:
		st.MarkCompleted(update.Result, r.costForSubTask(ctx, batchID))
	case models.SubTaskStatusFailed:
		st.MarkFailed(models.ClassTerminalFailure, update.Error)
	case models.SubTaskStatusCancelled:
		st.MarkCancelled()
	case models.SubTaskStatusRunning:
		st.Status = models.SubTaskStatusRunning
		st.SetProgress(update.Progress)
	default:
		st.SetProgress(update.Progress)
	}

	if err := r.storage.UpdateSubTask(ctx, st); err != nil {
		return fmt.Errorf("failed to persist subtask update: %w", err)
	}
	r.publish(ctx, interfaces.EventSubTaskStatusChange, st)

	if update.Status.IsTerminal() {
		r.mu.Lock()
		exec := r.executions[batchID]
		r.mu.Unlock()
		cancelRequested := exec != nil && exec.cancelled()
		r.recomputeBatchLocked(ctx, batchID, cancelRequested)
	}
	return nil
}

// GetProgress returns a snapshot of the batch and its subtasks straight from
// storage; it never blocks on in-flight polling.
func (r *Runner) GetProgress(ctx context.Context, batchID string) (*models.BatchTaskProgress, error) {
	task, err := r.storage.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	subtasks, err := r.storage.GetSubTasks(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &models.BatchTaskProgress{BatchTask: task, SubTasks: subtasks}, nil
}

// List returns batches matching the options.
func (r *Runner) List(ctx context.Context, opts *interfaces.BatchListOptions) ([]*models.BatchTask, error) {
	return r.storage.ListBatches(ctx, opts)
}

// IsActive reports whether an in-memory execution currently owns the batch.
func (r *Runner) IsActive(batchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.executions[batchID]
	return ok
}

func (r *Runner) costFor(model string) float64 {
	return r.config.Costs[r.resolver.NormalizeModel(model)]
}

func (r *Runner) costForSubTask(ctx context.Context, batchID string) float64 {
	task, err := r.storage.GetBatch(ctx, batchID)
	if err != nil {
		return 0
	}
	return r.costFor(task.Model)
}

func (r *Runner) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		r.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}
