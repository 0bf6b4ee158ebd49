package models

// CreateBatchRequest is the payload for creating a new batch task. Each
// variant is rendered into the prompt template to produce one subtask.
type CreateBatchRequest struct {
	Name           string              `json:"name" validate:"required,max=200"`
	MediaType      string              `json:"media_type" validate:"required,oneof=text image video"`
	Model          string              `json:"model" validate:"required"`
	PromptTemplate string              `json:"prompt_template" validate:"required"`
	Variants       []map[string]string `json:"variants" validate:"required,min=1"`

	// Concurrency overrides the configured per-batch worker cap.
	Concurrency int `json:"concurrency,omitempty" validate:"omitempty,min=1,max=32"`

	// PollDeadline overrides the per-subtask polling budget, as a
	// duration string (video generation may need longer than image).
	PollDeadline string `json:"poll_deadline,omitempty"`
}

// CreateBatchResponse is returned by the create endpoint. Execution does
// not start until the start endpoint is called.
type CreateBatchResponse struct {
	BatchID       string `json:"batch_id"`
	TotalSubtasks int    `json:"total_subtasks"`
}

// SubTaskUpdate is the out-of-band progress channel payload (e.g. a
// provider webhook). Terminal updates are idempotent and absorbing.
type SubTaskUpdate struct {
	Status   SubTaskStatus `json:"status" validate:"required,oneof=pending running completed failed cancelled"`
	Progress int           `json:"progress" validate:"min=0,max=100"`
	Error    string        `json:"error,omitempty"`
	Result   []OutputRef   `json:"result,omitempty"`
}
