package generation

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/relay-api/internal/domain"
)

// Generator defines the interface for AI content generation.
// This interface serves as a boundary between the application core and
// external AI/LLM services, following the hexagonal architecture pattern.
type Generator interface {
	// GenerateReply produces the assistant's next reply for the given
	// transcript. The transcript is in chronological order and ends with
	// the message the reply responds to.
	GenerateReply(ctx context.Context, messages []*domain.Message, model string) (string, error)

	// GenerateTitle produces a short conversation title from a transcript.
	GenerateTitle(ctx context.Context, messages []*domain.Message, model string) (string, error)

	// GenerateImage produces one or more images for a prompt. The raw
	// response shape varies by provider and is normalized by the caller.
	GenerateImage(ctx context.Context, prompt string, model string) (json.RawMessage, error)
}
