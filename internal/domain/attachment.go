package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// FileUploadStatus is the client-visible upload state of an attachment,
// mirrored from the upload sub-queue as it progresses.
type FileUploadStatus string

// Possible attachment upload states
const (
	FileUploadStatusPending   FileUploadStatus = "pending"
	FileUploadStatusUploading FileUploadStatus = "uploading"
	FileUploadStatusCompleted FileUploadStatus = "completed"
	FileUploadStatusFailed    FileUploadStatus = "failed"
	FileUploadStatusCancelled FileUploadStatus = "cancelled"
)

// Common validation errors for Attachment
var (
	ErrEmptyAttachmentID   = errors.New("attachment ID cannot be empty")
	ErrEmptyAttachmentPath = errors.New("attachment file path cannot be empty")
)

// Attachment tracks one file referenced by a conversation, keyed by its
// local file path. FileID is assigned when the upload completes; for the
// data-URL variant it holds the encoded data: URL itself.
type Attachment struct {
	ID             uuid.UUID        `json:"id"`
	ConversationID uuid.UUID        `json:"conversation_id,omitempty"`
	FilePath       string           `json:"file_path"`
	FileName       string           `json:"file_name"`
	FileSize       int64            `json:"file_size,omitempty"`
	MimeType       string           `json:"mime_type,omitempty"`
	Status         FileUploadStatus `json:"status"`
	FileID         string           `json:"file_id,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewAttachment creates a pending Attachment for the given local file.
// Returns an error if validation fails.
func NewAttachment(conversationID uuid.UUID, filePath, fileName string) (*Attachment, error) {
	now := time.Now().UTC()
	att := &Attachment{
		ID:             uuid.New(),
		ConversationID: conversationID,
		FilePath:       filePath,
		FileName:       fileName,
		Status:         FileUploadStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := att.Validate(); err != nil {
		return nil, err
	}

	return att, nil
}

// Validate checks if the Attachment has valid data.
func (a *Attachment) Validate() error {
	if a.ID == uuid.Nil {
		return ErrEmptyAttachmentID
	}

	if a.FilePath == "" {
		return ErrEmptyAttachmentPath
	}

	return nil
}
