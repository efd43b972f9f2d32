package domain

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversation(t *testing.T) {
	conversation := NewConversation("gemini-2.0-flash")

	assert.NotEqual(t, uuid.Nil, conversation.ID)
	assert.Equal(t, DefaultConversationTitle, conversation.Title)
	assert.Equal(t, "gemini-2.0-flash", conversation.Model)
	assert.Equal(t, conversation.CreatedAt, conversation.UpdatedAt)
	assert.NoError(t, conversation.Validate())
}

func TestConversationValidate(t *testing.T) {
	conversation := NewConversation("")
	conversation.ID = uuid.Nil

	assert.ErrorIs(t, conversation.Validate(), ErrEmptyConversationID)
}

func TestSetTitle(t *testing.T) {
	t.Run("short title kept verbatim", func(t *testing.T) {
		conversation := NewConversation("")
		before := conversation.UpdatedAt

		conversation.SetTitle("Fox talk")

		assert.Equal(t, "Fox talk", conversation.Title)
		assert.False(t, conversation.UpdatedAt.Before(before))
	})

	t.Run("long title truncated with ellipsis", func(t *testing.T) {
		conversation := NewConversation("")

		conversation.SetTitle(strings.Repeat("a", 150))

		assert.Equal(t, strings.Repeat("a", MaxConversationTitleLength)+"…", conversation.Title)
	})

	t.Run("title at the limit is not truncated", func(t *testing.T) {
		conversation := NewConversation("")
		title := strings.Repeat("é", MaxConversationTitleLength)

		conversation.SetTitle(title)

		assert.Equal(t, title, conversation.Title)
	})

	t.Run("multi-byte title truncates by runes", func(t *testing.T) {
		conversation := NewConversation("")

		// 101 two-byte runes; a byte-wise cut at 100 would split one.
		conversation.SetTitle(strings.Repeat("é", MaxConversationTitleLength+1))

		assert.True(t, utf8.ValidString(conversation.Title))
		assert.Equal(t, strings.Repeat("é", MaxConversationTitleLength)+"…", conversation.Title)
		assert.Equal(t, MaxConversationTitleLength+1, utf8.RuneCountInString(conversation.Title))
	})
}

func TestNewMessage(t *testing.T) {
	conversationID := uuid.New()

	t.Run("valid message", func(t *testing.T) {
		msg, err := NewMessage(conversationID, MessageRoleUser, "hello")
		require.NoError(t, err)
		assert.Equal(t, conversationID, msg.ConversationID)
		assert.Equal(t, MessageRoleUser, msg.Role)
	})

	t.Run("requires a conversation", func(t *testing.T) {
		_, err := NewMessage(uuid.Nil, MessageRoleUser, "hello")
		assert.ErrorIs(t, err, ErrEmptyConversationID)
	})

	t.Run("rejects unknown roles", func(t *testing.T) {
		_, err := NewMessage(conversationID, MessageRole("moderator"), "hello")
		assert.ErrorIs(t, err, ErrInvalidMessageRole)
	})
}

func TestIsEmptyAssistantPlaceholder(t *testing.T) {
	conversationID := uuid.New()

	placeholder, err := NewMessage(conversationID, MessageRoleAssistant, "")
	require.NoError(t, err)
	assert.True(t, placeholder.IsEmptyAssistantPlaceholder())

	withContent, err := NewMessage(conversationID, MessageRoleAssistant, "done")
	require.NoError(t, err)
	assert.False(t, withContent.IsEmptyAssistantPlaceholder())

	withAttachment, err := NewMessage(conversationID, MessageRoleAssistant, "")
	require.NoError(t, err)
	withAttachment.AttachmentIDs = []string{"file-1"}
	assert.False(t, withAttachment.IsEmptyAssistantPlaceholder())

	userMessage, err := NewMessage(conversationID, MessageRoleUser, "")
	require.NoError(t, err)
	assert.False(t, userMessage.IsEmptyAssistantPlaceholder())
}
