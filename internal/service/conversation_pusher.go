package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/store"
)

// StorePusher mirrors a client-authoritative transcript into the
// conversation store. It backs the save-conversation task when the
// deployment enables conversation push.
type StorePusher struct {
	conversations store.ConversationStore
	logger        *slog.Logger
}

// NewStorePusher creates a StorePusher.
func NewStorePusher(conversations store.ConversationStore, logger *slog.Logger) *StorePusher {
	return &StorePusher{
		conversations: conversations,
		logger:        logger.With("component", "store_pusher"),
	}
}

// PushConversation replaces the stored transcript with the given one and
// updates the conversation's title and model.
func (p *StorePusher) PushConversation(
	ctx context.Context,
	conversationID uuid.UUID,
	messages []*domain.Message,
	title string,
	model string,
) error {
	conversation, err := p.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	if err := p.conversations.ReplaceMessages(ctx, conversationID, messages); err != nil {
		return fmt.Errorf("failed to replace transcript: %w", err)
	}

	if title != "" {
		conversation.SetTitle(title)
	}
	if model != "" {
		conversation.Model = model
	}
	if err := p.conversations.UpdateConversation(ctx, conversation); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	p.logger.Info("conversation mirrored",
		"conversation_id", conversationID,
		"message_count", len(messages))
	return nil
}
