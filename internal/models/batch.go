// -----------------------------------------------------------------------
// Batch Task - batch and subtask records for generation orchestration
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// BatchStatus represents the lifecycle state of a batch task.
type BatchStatus string

const (
	BatchStatusPending             BatchStatus = "pending"
	BatchStatusRunning             BatchStatus = "running"
	BatchStatusCompleted           BatchStatus = "completed"
	BatchStatusCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchStatusCancelled           BatchStatus = "cancelled"
)

// IsTerminal returns true if no further batch transition is permitted.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted ||
		s == BatchStatusCompletedWithErrors ||
		s == BatchStatusCancelled
}

// SubTaskStatus represents the lifecycle state of a single subtask.
type SubTaskStatus string

const (
	SubTaskStatusPending   SubTaskStatus = "pending"
	SubTaskStatusRunning   SubTaskStatus = "running"
	SubTaskStatusCompleted SubTaskStatus = "completed"
	SubTaskStatusFailed    SubTaskStatus = "failed"
	SubTaskStatusCancelled SubTaskStatus = "cancelled"
)

// IsTerminal returns true if the subtask has reached an absorbing state.
func (s SubTaskStatus) IsTerminal() bool {
	return s == SubTaskStatusCompleted ||
		s == SubTaskStatusFailed ||
		s == SubTaskStatusCancelled
}

// MediaType identifies the kind of content a batch generates.
const (
	MediaTypeText  = "text"
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

// BatchTask is the authoritative record for a user-submitted batch of
// generation requests. It is owned exclusively by the batch runner and
// mutated only through its transition methods; pollers and handlers read
// snapshots via storage.
type BatchTask struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Status BatchStatus `json:"status"`

	MediaType string `json:"media_type"`
	Model     string `json:"model"`

	TotalSubtasks     int `json:"total_subtasks"`
	CompletedSubtasks int `json:"completed_subtasks"`
	FailedSubtasks    int `json:"failed_subtasks"`

	// TotalCost accumulates as subtasks complete. Cancelled subtasks
	// contribute zero cost.
	TotalCost float64 `json:"total_cost"`

	// Concurrency caps in-flight provider calls for this batch.
	Concurrency int `json:"concurrency"`

	// PollDeadline is the wall-clock budget for a single subtask's
	// provider-side job, as a duration string (e.g. "10m").
	PollDeadline string `json:"poll_deadline,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch advances UpdatedAt, keeping it monotonically non-decreasing.
func (b *BatchTask) Touch() {
	now := time.Now()
	if now.After(b.UpdatedAt) {
		b.UpdatedAt = now
	}
}

// OutputRef references one generated artifact produced by a subtask.
type OutputRef struct {
	Type     string `json:"type"`          // "text", "image", "video"
	URI      string `json:"uri,omitempty"` // remote or data URI for binary outputs
	MIMEType string `json:"mime_type,omitempty"`
	Content  string `json:"content,omitempty"` // inline content for text outputs
}

// SubTask is one generation request within a batch. It transitions
// pending -> running -> exactly one terminal state, exactly once.
type SubTask struct {
	ID          string        `json:"id"`
	BatchTaskID string        `json:"batch_task_id"`
	Status      SubTaskStatus `json:"status"`

	// Prompt is the rendered variant submitted to the provider.
	Prompt string `json:"prompt"`

	// ProviderTaskID is the opaque handle returned by the provider once
	// submission succeeds. Empty while pending.
	ProviderTaskID string `json:"provider_task_id,omitempty"`

	// Progress is 0-100 and monotonically non-decreasing while running.
	Progress int `json:"progress"`

	// Attempt counts poll attempts for the current provider submission.
	Attempt int `json:"attempt"`

	// Result and Error are mutually exclusive.
	Result []OutputRef `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`

	// ErrorClass carries the classified failure reason when failed.
	ErrorClass Classification `json:"error_class,omitempty"`

	Cost float64 `json:"cost,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarkRunning records a successful provider submission.
func (s *SubTask) MarkRunning(providerTaskID string) {
	s.Status = SubTaskStatusRunning
	s.ProviderTaskID = providerTaskID
	s.Attempt = 0
	now := time.Now()
	s.StartedAt = &now
	s.UpdatedAt = now
}

// MarkCompleted records a successful terminal outcome.
func (s *SubTask) MarkCompleted(result []OutputRef, cost float64) {
	s.Status = SubTaskStatusCompleted
	s.Result = result
	s.Error = ""
	s.ErrorClass = ""
	s.Cost = cost
	s.Progress = 100
	now := time.Now()
	s.EndedAt = &now
	s.UpdatedAt = now
}

// MarkFailed records a failed terminal outcome with its classification.
func (s *SubTask) MarkFailed(class Classification, errMsg string) {
	s.Status = SubTaskStatusFailed
	s.Error = errMsg
	s.ErrorClass = class
	s.Result = nil
	now := time.Now()
	s.EndedAt = &now
	s.UpdatedAt = now
}

// MarkCancelled records a cancelled terminal outcome.
func (s *SubTask) MarkCancelled() {
	s.Status = SubTaskStatusCancelled
	now := time.Now()
	s.EndedAt = &now
	s.UpdatedAt = now
}

// SetProgress raises the reported progress. Decreases are ignored so
// progress stays monotonic while running.
func (s *SubTask) SetProgress(progress int) {
	if progress < 0 {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress > s.Progress {
		s.Progress = progress
		s.UpdatedAt = time.Now()
	}
}

// DeriveBatchStatus computes the batch status purely from subtask states.
// Re-running it on any snapshot yields the same result, so terminal
// transitions can be applied in any order.
func DeriveBatchStatus(subtasks []*SubTask, cancelRequested bool) BatchStatus {
	total := len(subtasks)
	if total == 0 {
		if cancelRequested {
			return BatchStatusCancelled
		}
		return BatchStatusPending
	}

	var terminal, failed, cancelled int
	for _, st := range subtasks {
		if st.Status.IsTerminal() {
			terminal++
		}
		switch st.Status {
		case SubTaskStatusFailed:
			failed++
		case SubTaskStatusCancelled:
			cancelled++
		}
	}

	if terminal < total {
		return BatchStatusRunning
	}
	if cancelRequested && cancelled > 0 {
		return BatchStatusCancelled
	}
	if failed > 0 {
		return BatchStatusCompletedWithErrors
	}
	if cancelled == total {
		return BatchStatusCancelled
	}
	return BatchStatusCompleted
}

// BatchTaskProgress is the read-only snapshot returned to API callers.
type BatchTaskProgress struct {
	*BatchTask
	SubTasks []*SubTask `json:"subtasks"`
}
