package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/relay-api/internal/domain"
)

// Common request/response structures

// TokenRequest defines the payload for the API-key token exchange endpoint.
type TokenRequest struct {
	APIKey string `json:"api_key" validate:"required,min=1"`
}

// TokenResponse defines the successful response for the token exchange
// endpoint.
type TokenResponse struct {
	// SessionID identifies the device session the token was issued for
	SessionID uuid.UUID `json:"session_id"`

	// AccessToken is the JWT token used for API authorization
	AccessToken string `json:"access_token"`

	// ExpiresAt is the ISO 8601 timestamp when the access token expires
	ExpiresAt string `json:"expires_at"`
}

// EnqueueTaskRequest defines the payload for the task enqueue endpoint.
// Kind selects the task to run; only the fields relevant to that kind
// are read, the rest are ignored.
type EnqueueTaskRequest struct {
	Kind           string `json:"kind"                      validate:"required,oneof=send_text_message upload_media execute_tool_call generate_image image_to_data_url save_conversation generate_title"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,uuid"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`

	// send_text_message
	Text          string   `json:"text,omitempty"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
	ToolIDs       []string `json:"tool_ids,omitempty"`

	// upload_media / image_to_data_url
	FilePath string `json:"file_path,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Checksum string `json:"checksum,omitempty"`

	// execute_tool_call
	ToolName string          `json:"tool_name,omitempty"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`

	// generate_image
	Prompt string `json:"prompt,omitempty"`
}

// EnqueueTaskResponse defines the accepted response for the task enqueue
// endpoint.
type EnqueueTaskResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}

// TaskResponse is the client-facing view of one outbound task.
type TaskResponse struct {
	ID             uuid.UUID  `json:"id"`
	Kind           string     `json:"kind"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Status         string     `json:"status"`
	Attempt        int        `json:"attempt"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// TaskListResponse wraps the task listing with a running-count summary so
// clients can render retry affordances without a second call.
type TaskListResponse struct {
	Tasks   []TaskResponse `json:"tasks"`
	Running int            `json:"running"`
}

// CancelConversationResponse reports how many tasks a bulk cancel affected.
type CancelConversationResponse struct {
	Cancelled int `json:"cancelled"`
}

// ConversationResponse is the client-facing view of one conversation.
type ConversationResponse struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageResponse is the client-facing view of one transcript message.
type MessageResponse struct {
	ID            uuid.UUID `json:"id"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	AttachmentIDs []string  `json:"attachment_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttachmentResponse is the client-facing upload state of one attachment.
type AttachmentResponse struct {
	ID        uuid.UUID `json:"id"`
	FilePath  string    `json:"file_path"`
	FileName  string    `json:"file_name"`
	Status    string    `json:"status"`
	FileID    string    `json:"file_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newTaskResponse converts a domain task to its API representation.
func newTaskResponse(task domain.OutboundTask) TaskResponse {
	resp := TaskResponse{
		ID:          task.ID,
		Kind:        string(task.Kind),
		Status:      string(task.Status),
		Attempt:     task.Attempt,
		EnqueuedAt:  task.EnqueuedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
		Error:       task.Error,
	}
	if task.ConversationID != uuid.Nil {
		resp.ConversationID = task.ConversationID.String()
	}
	return resp
}

// newConversationResponse converts a domain conversation to its API
// representation.
func newConversationResponse(conversation *domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        conversation.ID,
		Title:     conversation.Title,
		Model:     conversation.Model,
		CreatedAt: conversation.CreatedAt,
		UpdatedAt: conversation.UpdatedAt,
	}
}

// newMessageResponse converts a domain message to its API representation.
func newMessageResponse(message *domain.Message) MessageResponse {
	return MessageResponse{
		ID:            message.ID,
		Role:          string(message.Role),
		Content:       message.Content,
		AttachmentIDs: message.AttachmentIDs,
		CreatedAt:     message.CreatedAt,
	}
}

// newAttachmentResponse converts a domain attachment to its API
// representation.
func newAttachmentResponse(attachment *domain.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:        attachment.ID,
		FilePath:  attachment.FilePath,
		FileName:  attachment.FileName,
		Status:    string(attachment.Status),
		FileID:    attachment.FileID,
		LastError: attachment.LastError,
		UpdatedAt: attachment.UpdatedAt,
	}
}
