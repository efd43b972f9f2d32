package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskStatusEvent describes one status transition of an outbound task.
// Kind and Status are plain strings so handlers do not need direct
// dependencies on the task queue's types.
type TaskStatusEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// TaskID identifies the task that changed state
	TaskID uuid.UUID `json:"task_id"`

	// ConversationID is the task's conversation, or uuid.Nil for global tasks
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`

	// Kind is the task kind, e.g. "send_text_message"
	Kind string `json:"kind"`

	// Status is the status the task transitioned into
	Status string `json:"status"`

	// Attempt is the task's attempt counter at the time of the transition
	Attempt int `json:"attempt"`

	// Error carries the failure message for failed transitions
	Error string `json:"error,omitempty"`

	// OccurredAt is the timestamp when the transition was recorded
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskStatusEvent creates a TaskStatusEvent for the given transition.
func NewTaskStatusEvent(
	taskID uuid.UUID,
	conversationID uuid.UUID,
	kind string,
	status string,
	attempt int,
	taskErr string,
) *TaskStatusEvent {
	return &TaskStatusEvent{
		ID:             uuid.New(),
		TaskID:         taskID,
		ConversationID: conversationID,
		Kind:           kind,
		Status:         status,
		Attempt:        attempt,
		Error:          taskErr,
		OccurredAt:     time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskStatusEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the queue to publish status changes without direct knowledge
// of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskStatusEvent) error
}
