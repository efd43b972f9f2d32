package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/platform/logger"
	"github.com/phrazzld/relay-api/internal/store"
)

// defaultConversationPageSize caps ListConversations when the caller passes
// a non-positive limit.
const defaultConversationPageSize = 50

// PostgresConversationStore implements the store.ConversationStore interface
// using a PostgreSQL database as the storage backend.
type PostgresConversationStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresConversationStore creates a new PostgreSQL implementation of the
// ConversationStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresConversationStore(db store.DBTX, logger *slog.Logger) *PostgresConversationStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresConversationStore{
		db:     db,
		logger: logger.With(slog.String("component", "conversation_store")),
	}
}

// Ensure PostgresConversationStore implements store.ConversationStore interface
var _ store.ConversationStore = (*PostgresConversationStore)(nil)

// CreateConversation implements store.ConversationStore.CreateConversation.
// Returns store.ErrDuplicate if a conversation with the same ID exists.
func (s *PostgresConversationStore) CreateConversation(
	ctx context.Context,
	conversation *domain.Conversation,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := conversation.Validate(); err != nil {
		log.Warn("conversation validation failed during create",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO conversations (id, title, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		conversation.ID,
		conversation.Title,
		conversation.Model,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: conversation %s: %v",
				store.ErrDuplicate, conversation.ID, err)
		}
		log.Error("failed to create conversation",
			slog.String("conversation_id", conversation.ID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create conversation: %w", MapError(err))
	}

	log.Debug("conversation created",
		slog.String("conversation_id", conversation.ID.String()))
	return nil
}

// GetConversation implements store.ConversationStore.GetConversation.
// Returns store.ErrConversationNotFound if it does not exist.
func (s *PostgresConversationStore) GetConversation(
	ctx context.Context,
	id uuid.UUID,
) (*domain.Conversation, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, title, model, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	var conversation domain.Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conversation.ID,
		&conversation.Title,
		&conversation.Model,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrConversationNotFound
		}
		log.Error("failed to get conversation",
			slog.String("conversation_id", id.String()),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to get conversation: %w", MapError(err))
	}

	return &conversation, nil
}

// UpdateConversation implements store.ConversationStore.UpdateConversation.
// Returns store.ErrConversationNotFound if it does not exist.
func (s *PostgresConversationStore) UpdateConversation(
	ctx context.Context,
	conversation *domain.Conversation,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := conversation.Validate(); err != nil {
		log.Warn("conversation validation failed during update",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		UPDATE conversations
		SET title = $1, model = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		conversation.Title,
		conversation.Model,
		conversation.UpdatedAt,
		conversation.ID,
	)
	if err != nil {
		log.Error("failed to update conversation",
			slog.String("conversation_id", conversation.ID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to update conversation: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrConversationNotFound
	}

	return nil
}

// ListConversations implements store.ConversationStore.ListConversations.
// Conversations are ordered by most recent update first.
func (s *PostgresConversationStore) ListConversations(
	ctx context.Context,
	limit, offset int,
) ([]*domain.Conversation, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		limit = defaultConversationPageSize
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, title, model, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		log.Error("failed to list conversations",
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list conversations: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var conversations []*domain.Conversation
	for rows.Next() {
		var conversation domain.Conversation
		if err := rows.Scan(
			&conversation.ID,
			&conversation.Title,
			&conversation.Model,
			&conversation.CreatedAt,
			&conversation.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, &conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}

	return conversations, nil
}

// AppendMessage implements store.ConversationStore.AppendMessage.
// Returns store.ErrInvalidEntity if the conversation does not exist.
func (s *PostgresConversationStore) AppendMessage(
	ctx context.Context,
	message *domain.Message,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := message.Validate(); err != nil {
		log.Warn("message validation failed during append",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	if err := insertMessage(ctx, s.db, message); err != nil {
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: conversation %s not found",
				store.ErrInvalidEntity, message.ConversationID)
		}
		log.Error("failed to append message",
			slog.String("message_id", message.ID.String()),
			slog.String("conversation_id", message.ConversationID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to append message: %w", MapError(err))
	}

	return nil
}

// GetMessages implements store.ConversationStore.GetMessages.
// Messages are returned in chronological order.
func (s *PostgresConversationStore) GetMessages(
	ctx context.Context,
	conversationID uuid.UUID,
) ([]*domain.Message, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, conversation_id, role, content, attachment_ids, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		log.Error("failed to get messages",
			slog.String("conversation_id", conversationID.String()),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to get messages: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var messages []*domain.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

// ReplaceMessages implements store.ConversationStore.ReplaceMessages.
// The delete and re-insert run in a single transaction when the store
// holds a *sql.DB; when it already runs inside a transaction the caller's
// transaction provides atomicity.
func (s *PostgresConversationStore) ReplaceMessages(
	ctx context.Context,
	conversationID uuid.UUID,
	messages []*domain.Message,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	for _, message := range messages {
		if err := message.Validate(); err != nil {
			log.Warn("message validation failed during replace",
				slog.String("conversation_id", conversationID.String()),
				slog.String("error", err.Error()))
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	if db, ok := s.db.(*sql.DB); ok {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return replaceMessages(ctx, tx, conversationID, messages)
		})
	}
	return replaceMessages(ctx, s.db, conversationID, messages)
}

func replaceMessages(
	ctx context.Context,
	db store.DBTX,
	conversationID uuid.UUID,
	messages []*domain.Message,
) error {
	if _, err := db.ExecContext(
		ctx,
		`DELETE FROM messages WHERE conversation_id = $1`,
		conversationID,
	); err != nil {
		return fmt.Errorf("failed to clear messages: %w", MapError(err))
	}

	for _, message := range messages {
		if err := insertMessage(ctx, db, message); err != nil {
			return fmt.Errorf("failed to insert replacement message: %w", MapError(err))
		}
	}

	return nil
}

// insertMessage writes one message row. Attachment IDs are stored as a
// JSONB array, NULL when the message has none.
func insertMessage(ctx context.Context, db store.DBTX, message *domain.Message) error {
	var attachmentIDs []byte
	if len(message.AttachmentIDs) > 0 {
		encoded, err := json.Marshal(message.AttachmentIDs)
		if err != nil {
			return fmt.Errorf("failed to encode attachment IDs: %w", err)
		}
		attachmentIDs = encoded
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, content, attachment_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := db.ExecContext(
		ctx,
		query,
		message.ID,
		message.ConversationID,
		string(message.Role),
		message.Content,
		attachmentIDs,
		message.CreatedAt,
	)
	return err
}

// scanMessage reads one message row, decoding the attachment ID array.
func scanMessage(rows *sql.Rows) (*domain.Message, error) {
	var (
		message       domain.Message
		role          string
		attachmentIDs []byte
	)
	if err := rows.Scan(
		&message.ID,
		&message.ConversationID,
		&role,
		&message.Content,
		&attachmentIDs,
		&message.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan message row: %w", err)
	}

	message.Role = domain.MessageRole(role)
	if len(attachmentIDs) > 0 {
		if err := json.Unmarshal(attachmentIDs, &message.AttachmentIDs); err != nil {
			return nil, fmt.Errorf("failed to decode attachment IDs: %w", err)
		}
	}

	return &message, nil
}
