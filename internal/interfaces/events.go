package interfaces

import "context"

// EventType identifies a category of event
type EventType string

const (
	// EventBatchCreated is published when a batch is persisted
	EventBatchCreated EventType = "batch_created"

	// EventBatchStatusChange is published when a batch reaches a new status
	EventBatchStatusChange EventType = "batch_status_change"

	// EventBatchProgress is published after every subtask terminal
	// transition with the recomputed batch counters
	EventBatchProgress EventType = "batch_progress"

	// EventSubTaskStatusChange is published on every subtask transition
	EventSubTaskStatusChange EventType = "subtask_status_change"

	// EventSubTaskProgress is published when a running subtask reports
	// a new progress percentage
	EventSubTaskProgress EventType = "subtask_progress"
)

// Event represents an event with a type and payload
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that processes an event
type EventHandler func(ctx context.Context, event Event) error

// EventService provides pub/sub event handling. The batch engine publishes
// terminal and progress events through it; the websocket layer subscribes.
type EventService interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish sends an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync sends an event to all subscribers and waits for completion
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
