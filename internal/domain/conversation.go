package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultConversationTitle is the placeholder title assigned to new
// conversations until title generation replaces it.
const DefaultConversationTitle = "New Conversation"

// MaxConversationTitleLength is the longest title stored on a
// conversation; generated titles beyond this are truncated with an
// ellipsis before persisting.
const MaxConversationTitleLength = 100

// Common validation errors for Conversation and Message
var (
	ErrEmptyConversationID = errors.New("conversation ID cannot be empty")
	ErrEmptyMessageID      = errors.New("message ID cannot be empty")
	ErrInvalidMessageRole  = errors.New("invalid message role")
)

// MessageRole identifies the author of a message within a conversation.
type MessageRole string

// Possible message roles
const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Conversation represents one chat thread between a user and the
// assistant. The title starts as a placeholder and is replaced by the
// title-generation task once the conversation has content.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a new Conversation with a generated ID, the
// placeholder title, and current timestamps.
func NewConversation(model string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.New(),
		Title:     DefaultConversationTitle,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks if the Conversation has valid data.
func (c *Conversation) Validate() error {
	if c.ID == uuid.Nil {
		return ErrEmptyConversationID
	}
	return nil
}

// SetTitle replaces the conversation title, truncating to
// MaxConversationTitleLength runes with an ellipsis, and bumps UpdatedAt.
func (c *Conversation) SetTitle(title string) {
	if runes := []rune(title); len(runes) > MaxConversationTitleLength {
		title = string(runes[:MaxConversationTitleLength]) + "…"
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
}

// Message is one entry in a conversation's transcript.
type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	AttachmentIDs  []string    `json:"attachment_ids,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewMessage creates a new Message in the given conversation.
// Returns an error if validation fails.
func NewMessage(conversationID uuid.UUID, role MessageRole, content string) (*Message, error) {
	msg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

// Validate checks if the Message has valid data.
func (m *Message) Validate() error {
	if m.ID == uuid.Nil {
		return ErrEmptyMessageID
	}

	if m.ConversationID == uuid.Nil {
		return ErrEmptyConversationID
	}

	if !isValidMessageRole(m.Role) {
		return ErrInvalidMessageRole
	}

	return nil
}

// IsEmptyAssistantPlaceholder reports whether the message is an empty,
// attachment-less assistant message. Conversation pushes skip the server
// round-trip when the transcript ends with one of these.
func (m *Message) IsEmptyAssistantPlaceholder() bool {
	return m.Role == MessageRoleAssistant && m.Content == "" && len(m.AttachmentIDs) == 0
}

// isValidMessageRole checks if the given role is a valid MessageRole.
func isValidMessageRole(role MessageRole) bool {
	switch role {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	default:
		return false
	}
}
