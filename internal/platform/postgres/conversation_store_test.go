package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/store"
)

func newConversationStoreMock(t *testing.T) (*PostgresConversationStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPostgresConversationStore(db, logger), mock
}

func TestConversationStoreCreate(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)
	conversation := domain.NewConversation("gemini-2.0-flash")

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(
			conversation.ID,
			conversation.Title,
			conversation.Model,
			conversation.CreatedAt,
			conversation.UpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, conversations.CreateConversation(context.Background(), conversation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreCreateDuplicate(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)
	conversation := domain.NewConversation("gemini-2.0-flash")

	mock.ExpectExec("INSERT INTO conversations").
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})

	err := conversations.CreateConversation(context.Background(), conversation)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreGetNotFound(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)
	conversation := domain.NewConversation("gemini-2.0-flash")

	mock.ExpectQuery("SELECT id, title, model, created_at, updated_at").
		WithArgs(conversation.ID).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "title", "model", "created_at", "updated_at"}))

	_, err := conversations.GetConversation(context.Background(), conversation.ID)
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreUpdateNotFound(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)
	conversation := domain.NewConversation("gemini-2.0-flash")

	mock.ExpectExec("UPDATE conversations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := conversations.UpdateConversation(context.Background(), conversation)
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreList(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)

	first := domain.NewConversation("gemini-2.0-flash")
	second := domain.NewConversation("gemini-2.0-flash")

	rows := sqlmock.NewRows([]string{"id", "title", "model", "created_at", "updated_at"}).
		AddRow(second.ID.String(), second.Title, second.Model, second.CreatedAt, second.UpdatedAt).
		AddRow(first.ID.String(), first.Title, first.Model, first.CreatedAt, first.UpdatedAt)

	mock.ExpectQuery("ORDER BY updated_at DESC").
		WithArgs(20, 0).
		WillReturnRows(rows)

	listed, err := conversations.ListConversations(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreListDefaultsLimit(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)

	mock.ExpectQuery("ORDER BY updated_at DESC").
		WithArgs(defaultConversationPageSize, 0).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "title", "model", "created_at", "updated_at"}))

	_, err := conversations.ListConversations(context.Background(), 0, -5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreAppendMessage(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)

	conversation := domain.NewConversation("gemini-2.0-flash")
	message, err := domain.NewMessage(conversation.ID, domain.MessageRoleUser, "hello")
	require.NoError(t, err)
	message.AttachmentIDs = []string{"file-1", "file-2"}

	mock.ExpectExec("INSERT INTO messages").
		WithArgs(
			message.ID,
			message.ConversationID,
			"user",
			"hello",
			[]byte(`["file-1","file-2"]`),
			message.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, conversations.AppendMessage(context.Background(), message))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreAppendMessageUnknownConversation(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)

	conversation := domain.NewConversation("gemini-2.0-flash")
	message, err := domain.NewMessage(conversation.ID, domain.MessageRoleUser, "hello")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO messages").
		WillReturnError(&pgconn.PgError{Code: foreignKeyViolationCode})

	err = conversations.AppendMessage(context.Background(), message)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreGetMessages(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)

	conversation := domain.NewConversation("gemini-2.0-flash")
	userMsg, err := domain.NewMessage(conversation.ID, domain.MessageRoleUser, "hello")
	require.NoError(t, err)
	assistantMsg, err := domain.NewMessage(conversation.ID, domain.MessageRoleAssistant, "hi")
	require.NoError(t, err)

	rows := sqlmock.NewRows(
		[]string{"id", "conversation_id", "role", "content", "attachment_ids", "created_at"}).
		AddRow(userMsg.ID.String(), conversation.ID.String(), "user", "hello",
			[]byte(`["file-1"]`), userMsg.CreatedAt).
		AddRow(assistantMsg.ID.String(), conversation.ID.String(), "assistant", "hi",
			nil, assistantMsg.CreatedAt)

	mock.ExpectQuery("FROM messages").
		WithArgs(conversation.ID).
		WillReturnRows(rows)

	messages, err := conversations.GetMessages(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.MessageRoleUser, messages[0].Role)
	assert.Equal(t, []string{"file-1"}, messages[0].AttachmentIDs)
	assert.Nil(t, messages[1].AttachmentIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreReplaceMessages(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)

	conversation := domain.NewConversation("gemini-2.0-flash")
	replacement, err := domain.NewMessage(conversation.ID, domain.MessageRoleUser, "only one")
	require.NoError(t, err)
	replacement.CreatedAt = time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM messages").
		WithArgs(conversation.ID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = conversations.ReplaceMessages(
		context.Background(), conversation.ID, []*domain.Message{replacement})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationStoreReplaceMessagesRollsBackOnFailure(t *testing.T) {
	conversations, mock := newConversationStoreMock(t)

	conversation := domain.NewConversation("gemini-2.0-flash")
	replacement, err := domain.NewMessage(conversation.ID, domain.MessageRoleUser, "only one")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM messages").
		WithArgs(conversation.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnError(&pgconn.PgError{Code: notNullViolationCode})
	mock.ExpectRollback()

	err = conversations.ReplaceMessages(
		context.Background(), conversation.ID, []*domain.Message{replacement})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
