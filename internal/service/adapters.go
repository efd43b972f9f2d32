package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/generation"
	"github.com/phrazzld/relay-api/internal/outbound"
)

// TitleGeneratorAdapter adapts a generation.Generator to the worker's
// title collaborator, converting the minimal title-message shape back
// into domain messages.
type TitleGeneratorAdapter struct {
	generator generation.Generator
}

// NewTitleGeneratorAdapter creates a TitleGeneratorAdapter.
func NewTitleGeneratorAdapter(generator generation.Generator) *TitleGeneratorAdapter {
	return &TitleGeneratorAdapter{generator: generator}
}

// GenerateTitle produces a short conversation title from a transcript.
func (a *TitleGeneratorAdapter) GenerateTitle(
	ctx context.Context,
	conversationID uuid.UUID,
	messages []outbound.TitleMessage,
	model string,
) (string, error) {
	transcript := make([]*domain.Message, 0, len(messages))
	for _, message := range messages {
		id, err := uuid.Parse(message.ID)
		if err != nil {
			id = uuid.New()
		}
		transcript = append(transcript, &domain.Message{
			ID:             id,
			ConversationID: conversationID,
			Role:           domain.MessageRole(message.Role),
			Content:        message.Content,
			CreatedAt:      time.Unix(message.Timestamp, 0).UTC(),
		})
	}

	return a.generator.GenerateTitle(ctx, transcript, model)
}

// ImageGeneratorAdapter adapts a generation.Generator to the worker's
// image collaborator with a fixed model.
type ImageGeneratorAdapter struct {
	generator generation.Generator
	model     string
}

// NewImageGeneratorAdapter creates an ImageGeneratorAdapter.
func NewImageGeneratorAdapter(generator generation.Generator, model string) *ImageGeneratorAdapter {
	return &ImageGeneratorAdapter{generator: generator, model: model}
}

// GenerateImage produces raw provider output for a prompt.
func (a *ImageGeneratorAdapter) GenerateImage(ctx context.Context, prompt string) (json.RawMessage, error) {
	return a.generator.GenerateImage(ctx, prompt, a.model)
}
