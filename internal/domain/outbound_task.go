package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskKind identifies the type of deferred work an outbound task performs.
type TaskKind string

// Closed set of outbound task kinds. Adding a kind requires a matching
// worker handler; unknown kinds fail at execution time, not enqueue time,
// so that snapshots written by newer app versions still load.
const (
	TaskKindSendTextMessage  TaskKind = "send_text_message"
	TaskKindUploadMedia      TaskKind = "upload_media"
	TaskKindExecuteToolCall  TaskKind = "execute_tool_call"
	TaskKindGenerateImage    TaskKind = "generate_image"
	TaskKindImageToDataURL   TaskKind = "image_to_data_url"
	TaskKindSaveConversation TaskKind = "save_conversation"
	TaskKindGenerateTitle    TaskKind = "generate_title"
)

// TaskStatus represents the lifecycle state of an outbound task.
type TaskStatus string

// Possible task status values. Succeeded, failed and cancelled are
// terminal; the only transition out of a terminal state is an explicit
// retry of a failed task.
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Common validation errors for OutboundTask
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrInvalidTaskKind  = errors.New("invalid task kind")
	ErrInvalidTaskState = errors.New("invalid task status")
)

// TaskPayload carries the kind-specific fields of an outbound task.
// Exactly the fields relevant to the task's kind are populated; the
// rest stay at their zero values and are omitted from JSON.
type TaskPayload struct {
	// Send-text-message fields
	Text          string   `json:"text,omitempty"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
	ToolIDs       []string `json:"tool_ids,omitempty"`

	// Upload / encode fields
	FilePath string `json:"file_path,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Checksum string `json:"checksum,omitempty"`

	// Tool-call fields
	ToolName string          `json:"tool_name,omitempty"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`

	// Image-generation fields
	Prompt string `json:"prompt,omitempty"`
}

// OutboundTask is one durable, retryable unit of deferred work. Kind and
// Payload are immutable after creation; only status, attempt counter,
// error and the execution timestamps change, and only through the queue.
type OutboundTask struct {
	ID             uuid.UUID   `json:"id"`
	Kind           TaskKind    `json:"kind"`
	ConversationID uuid.UUID   `json:"conversation_id,omitempty"`
	Payload        TaskPayload `json:"payload"`
	Status         TaskStatus  `json:"status"`
	Attempt        int         `json:"attempt"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// GlobalThreadKey is the affinity group for tasks with no conversation.
const GlobalThreadKey = "global"

// NewOutboundTask creates a queued task of the given kind. It generates a
// new UUID, stamps the enqueue time, and validates the result.
func NewOutboundTask(
	kind TaskKind,
	conversationID uuid.UUID,
	payload TaskPayload,
	idempotencyKey string,
) (*OutboundTask, error) {
	task := &OutboundTask{
		ID:             uuid.New(),
		Kind:           kind,
		ConversationID: conversationID,
		Payload:        payload,
		Status:         TaskStatusQueued,
		Attempt:        0,
		IdempotencyKey: idempotencyKey,
		EnqueuedAt:     time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the OutboundTask has valid data.
func (t *OutboundTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if !isValidTaskKind(t.Kind) {
		return ErrInvalidTaskKind
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskState
	}

	return nil
}

// ThreadKey returns the affinity group used to serialize related tasks.
// Tasks sharing a conversation share a thread key; tasks without one fall
// back to a single global key.
func (t *OutboundTask) ThreadKey() string {
	if t.ConversationID == uuid.Nil {
		return GlobalThreadKey
	}
	return t.ConversationID.String()
}

// Terminal reports whether the task is in a state with no further
// transitions (except explicit retry from failed).
func (t *OutboundTask) Terminal() bool {
	switch t.Status {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// isValidTaskKind checks if the given kind is a known TaskKind.
func isValidTaskKind(kind TaskKind) bool {
	switch kind {
	case TaskKindSendTextMessage, TaskKindUploadMedia, TaskKindExecuteToolCall,
		TaskKindGenerateImage, TaskKindImageToDataURL, TaskKindSaveConversation,
		TaskKindGenerateTitle:
		return true
	default:
		return false
	}
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusSucceeded,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
