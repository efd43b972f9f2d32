package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/relay-api/internal/domain"
)

// ConversationStore defines the interface for conversation and message
// persistence operations.
type ConversationStore interface {
	// CreateConversation saves a new conversation.
	// Returns ErrDuplicate if a conversation with the same ID exists.
	CreateConversation(ctx context.Context, conversation *domain.Conversation) error

	// GetConversation retrieves a conversation by its ID.
	// Returns ErrConversationNotFound if it does not exist.
	GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)

	// UpdateConversation updates a conversation's mutable fields
	// (title, model, updated_at).
	// Returns ErrConversationNotFound if it does not exist.
	UpdateConversation(ctx context.Context, conversation *domain.Conversation) error

	// ListConversations returns conversations ordered by most recent update.
	ListConversations(ctx context.Context, limit, offset int) ([]*domain.Conversation, error)

	// AppendMessage adds a message to a conversation's transcript.
	AppendMessage(ctx context.Context, message *domain.Message) error

	// GetMessages returns a conversation's messages in chronological order.
	GetMessages(ctx context.Context, conversationID uuid.UUID) ([]*domain.Message, error)

	// ReplaceMessages atomically replaces a conversation's full transcript.
	// Used by the conversation-push task, which mirrors the authoritative
	// client-side message list.
	ReplaceMessages(ctx context.Context, conversationID uuid.UUID, messages []*domain.Message) error
}

// AttachmentStore defines the interface for attachment state persistence.
// The upload sub-queue mirrors its progress into this store so clients can
// poll upload status by file path.
type AttachmentStore interface {
	// CreateAttachment registers a new attachment.
	CreateAttachment(ctx context.Context, attachment *domain.Attachment) error

	// GetAttachmentByPath retrieves an attachment by its local file path.
	// Returns ErrAttachmentNotFound if it does not exist.
	GetAttachmentByPath(ctx context.Context, filePath string) (*domain.Attachment, error)

	// UpdateAttachmentStatus sets the upload status, server file ID and
	// last error for the attachment with the given file path.
	// Returns ErrAttachmentNotFound if it does not exist.
	UpdateAttachmentStatus(
		ctx context.Context,
		filePath string,
		status domain.FileUploadStatus,
		fileID string,
		lastError string,
	) error
}
