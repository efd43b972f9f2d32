package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/generation"
	"github.com/phrazzld/relay-api/internal/store"
)

// ChatConfig holds model selection for the chat service.
type ChatConfig struct {
	// DefaultModel is used for conversations created without an explicit
	// model.
	DefaultModel string

	// ImageChatModel, when set, is the image-capable model substituted
	// while image generation is enabled.
	ImageChatModel string
}

// ChatService orchestrates the send-message flow: it persists the user's
// message, asks the generation provider for a reply, and persists that
// reply. It also tracks which conversation is active and caches the
// conversation list until an update invalidates it.
//
// ChatService is the production implementation of the chat collaborator
// the outbound worker delegates to.
type ChatService struct {
	mu            sync.Mutex
	activeID      uuid.UUID
	imagesEnabled bool
	cachedList    []*domain.Conversation
	cachedLimit   int
	cachedOffset  int
	listValid     bool

	conversations store.ConversationStore
	generator     generation.Generator
	config        ChatConfig
	logger        *slog.Logger
}

// NewChatService creates a new ChatService.
func NewChatService(
	conversations store.ConversationStore,
	generator generation.Generator,
	config ChatConfig,
	logger *slog.Logger,
) *ChatService {
	return &ChatService{
		conversations: conversations,
		generator:     generator,
		config:        config,
		logger:        logger.With("component", "chat_service"),
	}
}

// SendMessage appends the user's message to the conversation, generates
// the assistant's reply, and appends that too. A nil conversation ID
// creates a new conversation, which becomes the active one.
func (s *ChatService) SendMessage(
	ctx context.Context,
	conversationID uuid.UUID,
	text string,
	attachmentIDs []string,
	toolIDs []string,
) error {
	if text == "" && len(attachmentIDs) == 0 {
		return ErrEmptyMessage
	}

	conversation, err := s.resolveConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	userMessage, err := domain.NewMessage(conversation.ID, domain.MessageRoleUser, text)
	if err != nil {
		return fmt.Errorf("failed to build user message: %w", err)
	}
	userMessage.AttachmentIDs = attachmentIDs

	if err := s.conversations.AppendMessage(ctx, userMessage); err != nil {
		return fmt.Errorf("failed to persist user message: %w", err)
	}

	transcript, err := s.conversations.GetMessages(ctx, conversation.ID)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}

	if len(toolIDs) > 0 {
		s.logger.Debug("send constrained to tools",
			"conversation_id", conversation.ID,
			"tool_ids", toolIDs)
	}

	reply, err := s.generator.GenerateReply(ctx, transcript, s.replyModel(conversation))
	if err != nil {
		return fmt.Errorf("reply generation failed: %w", err)
	}

	assistantMessage, err := domain.NewMessage(conversation.ID, domain.MessageRoleAssistant, reply)
	if err != nil {
		return fmt.Errorf("failed to build assistant message: %w", err)
	}
	if err := s.conversations.AppendMessage(ctx, assistantMessage); err != nil {
		return fmt.Errorf("failed to persist assistant message: %w", err)
	}

	conversation.UpdatedAt = time.Now().UTC()
	if err := s.conversations.UpdateConversation(ctx, conversation); err != nil {
		s.logger.Warn("failed to bump conversation timestamp",
			"conversation_id", conversation.ID,
			"error", err)
	}

	s.InvalidateConversationList()

	s.logger.Info("message exchange completed",
		"conversation_id", conversation.ID,
		"transcript_len", len(transcript)+1)
	return nil
}

// ActivateConversation fetches the conversation and makes it the active
// one.
func (s *ChatService) ActivateConversation(ctx context.Context, conversationID uuid.UUID) error {
	conversation, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	s.mu.Lock()
	s.activeID = conversation.ID
	s.mu.Unlock()

	s.logger.Debug("conversation activated", "conversation_id", conversation.ID)
	return nil
}

// ActiveConversationID returns the currently active conversation, or
// uuid.Nil when none is active.
func (s *ChatService) ActiveConversationID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetImageGenerationEnabled flips the image-generation flag and returns
// the previous value so callers can restore it.
func (s *ChatService) SetImageGenerationEnabled(enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.imagesEnabled
	s.imagesEnabled = enabled
	return previous
}

// InvalidateConversationList drops the cached conversation list so the
// next listing refetches it.
func (s *ChatService) InvalidateConversationList() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listValid = false
	s.cachedList = nil
}

// ListConversations returns conversations ordered by most recent update,
// serving repeated identical reads from cache until an update
// invalidates it.
func (s *ChatService) ListConversations(ctx context.Context, limit, offset int) ([]*domain.Conversation, error) {
	s.mu.Lock()
	if s.listValid && s.cachedLimit == limit && s.cachedOffset == offset {
		cached := s.cachedList
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	list, err := s.conversations.ListConversations(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	s.mu.Lock()
	s.cachedList = list
	s.cachedLimit = limit
	s.cachedOffset = offset
	s.listValid = true
	s.mu.Unlock()

	return list, nil
}

// resolveConversation loads the target conversation, creating and
// activating a fresh one when no ID is given.
func (s *ChatService) resolveConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	if conversationID != uuid.Nil {
		conversation, err := s.conversations.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		return conversation, nil
	}

	conversation := domain.NewConversation(s.config.DefaultModel)
	if err := s.conversations.CreateConversation(ctx, conversation); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.mu.Lock()
	s.activeID = conversation.ID
	s.mu.Unlock()

	s.logger.Info("created conversation", "conversation_id", conversation.ID)
	return conversation, nil
}

// replyModel picks the generation model for a send, substituting the
// image-capable model while image generation is enabled.
func (s *ChatService) replyModel(conversation *domain.Conversation) string {
	s.mu.Lock()
	imagesEnabled := s.imagesEnabled
	s.mu.Unlock()

	if imagesEnabled && s.config.ImageChatModel != "" {
		return s.config.ImageChatModel
	}
	return conversation.Model
}
