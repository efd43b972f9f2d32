package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/platform/logger"
	"github.com/phrazzld/relay-api/internal/store"
)

// PostgresAttachmentStore implements the store.AttachmentStore interface
// using a PostgreSQL database as the storage backend. Attachments are
// keyed by their local file path, which is how the upload queue and the
// client both identify them.
type PostgresAttachmentStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAttachmentStore creates a new PostgreSQL implementation of the
// AttachmentStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresAttachmentStore(db store.DBTX, logger *slog.Logger) *PostgresAttachmentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresAttachmentStore{
		db:     db,
		logger: logger.With(slog.String("component", "attachment_store")),
	}
}

// Ensure PostgresAttachmentStore implements store.AttachmentStore interface
var _ store.AttachmentStore = (*PostgresAttachmentStore)(nil)

// CreateAttachment implements store.AttachmentStore.CreateAttachment.
// Returns store.ErrDuplicate if an attachment for the same file path exists.
func (s *PostgresAttachmentStore) CreateAttachment(
	ctx context.Context,
	attachment *domain.Attachment,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := attachment.Validate(); err != nil {
		log.Warn("attachment validation failed during create",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO attachments (
			id, conversation_id, file_path, file_name, file_size,
			mime_type, status, file_id, last_error, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		attachment.ID,
		nullableUUID(attachment.ConversationID),
		attachment.FilePath,
		attachment.FileName,
		attachment.FileSize,
		attachment.MimeType,
		string(attachment.Status),
		attachment.FileID,
		attachment.LastError,
		attachment.CreatedAt,
		attachment.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: attachment for path %q: %v",
				store.ErrDuplicate, attachment.FilePath, err)
		}
		log.Error("failed to create attachment",
			slog.String("attachment_id", attachment.ID.String()),
			slog.String("file_path", attachment.FilePath),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create attachment: %w", MapError(err))
	}

	return nil
}

// GetAttachmentByPath implements store.AttachmentStore.GetAttachmentByPath.
// Returns store.ErrAttachmentNotFound if it does not exist.
func (s *PostgresAttachmentStore) GetAttachmentByPath(
	ctx context.Context,
	filePath string,
) (*domain.Attachment, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, conversation_id, file_path, file_name, file_size,
		       mime_type, status, file_id, last_error, created_at, updated_at
		FROM attachments
		WHERE file_path = $1
	`

	var (
		attachment     domain.Attachment
		conversationID sql.Null[uuid.UUID]
		status         string
	)
	err := s.db.QueryRowContext(ctx, query, filePath).Scan(
		&attachment.ID,
		&conversationID,
		&attachment.FilePath,
		&attachment.FileName,
		&attachment.FileSize,
		&attachment.MimeType,
		&status,
		&attachment.FileID,
		&attachment.LastError,
		&attachment.CreatedAt,
		&attachment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAttachmentNotFound
		}
		log.Error("failed to get attachment",
			slog.String("file_path", filePath),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to get attachment: %w", MapError(err))
	}

	if conversationID.Valid {
		attachment.ConversationID = conversationID.V
	}
	attachment.Status = domain.FileUploadStatus(status)

	return &attachment, nil
}

// UpdateAttachmentStatus implements store.AttachmentStore.UpdateAttachmentStatus.
// Returns store.ErrAttachmentNotFound if no attachment exists for the path.
func (s *PostgresAttachmentStore) UpdateAttachmentStatus(
	ctx context.Context,
	filePath string,
	status domain.FileUploadStatus,
	fileID string,
	lastError string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE attachments
		SET status = $1, file_id = $2, last_error = $3, updated_at = $4
		WHERE file_path = $5
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		string(status),
		fileID,
		lastError,
		time.Now().UTC(),
		filePath,
	)
	if err != nil {
		log.Error("failed to update attachment status",
			slog.String("file_path", filePath),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to update attachment status: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrAttachmentNotFound
	}

	log.Debug("attachment status updated",
		slog.String("file_path", filePath),
		slog.String("status", string(status)))
	return nil
}

// nullableUUID maps uuid.Nil to a SQL NULL so attachments without a
// conversation don't reference a nonexistent row.
func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
