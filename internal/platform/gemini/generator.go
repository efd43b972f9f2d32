package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/relay-api/internal/config"
	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/generation"
)

// Retry defaults for transient API failures
const (
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

// titleInstruction asks the model for a bare title; the transcript is
// appended below it.
const titleInstruction = "Generate a short, descriptive title (at most a few words) " +
	"for the following conversation. Respond with the title only, no quotes " +
	"and no punctuation around it.\n\n"

// Compile-time check that GeminiGenerator satisfies the interface
var _ generation.Generator = (*GeminiGenerator)(nil)

// GeminiGenerator implements the generation.Generator interface using
// Google's Gemini API.
type GeminiGenerator struct {
	logger *slog.Logger
	config config.LLMConfig
	client *genai.Client

	maxRetries int
	retryDelay time.Duration
}

// NewGeminiGenerator creates a new instance of GeminiGenerator with the provided dependencies.
//
// Parameters:
//   - ctx: Context for the operation, which can be used for cancellation
//   - logger: A structured logger for operation logging
//   - config: LLM configuration containing API key and model names
//
// Returns:
//   - A properly initialized GeminiGenerator or an error if initialization fails
func NewGeminiGenerator(ctx context.Context, logger *slog.Logger, config config.LLMConfig) (*GeminiGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if config.ChatModel == "" {
		return nil, fmt.Errorf("%w: chat model cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &GeminiGenerator{
		logger:     logger.With("component", "gemini_generator"),
		config:     config,
		client:     client,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}, nil
}

// GenerateReply produces the assistant's next reply for the given
// transcript.
func (g *GeminiGenerator) GenerateReply(ctx context.Context, messages []*domain.Message, model string) (string, error) {
	contents, systemInstruction, err := buildContents(messages)
	if err != nil {
		return "", err
	}

	if model == "" {
		model = g.config.ChatModel
	}

	var generateConfig *genai.GenerateContentConfig
	if systemInstruction != nil {
		generateConfig = &genai.GenerateContentConfig{SystemInstruction: systemInstruction}
	}

	text, err := g.callWithRetry(ctx, model, contents, generateConfig)
	if err != nil {
		return "", err
	}
	return text, nil
}

// GenerateTitle produces a short conversation title from a transcript.
func (g *GeminiGenerator) GenerateTitle(ctx context.Context, messages []*domain.Message, model string) (string, error) {
	if len(messages) == 0 {
		return "", ErrEmptyTranscript
	}

	if model == "" {
		model = g.config.TitleModel
	}

	prompt := titleInstruction + formatTranscript(messages)
	text, err := g.callWithRetry(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// GenerateImage produces images for a prompt through the dedicated image
// model. The response carries inline base64 content in the "data" list
// shape the image normalizer understands.
func (g *GeminiGenerator) GenerateImage(ctx context.Context, prompt string, model string) (json.RawMessage, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	if model == "" {
		model = g.config.ImageModel
	}
	if model == "" {
		return nil, fmt.Errorf("%w: no image model configured", generation.ErrInvalidConfig)
	}

	response, err := g.client.Models.GenerateImages(ctx, model, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
	}
	if response == nil || len(response.GeneratedImages) == 0 {
		return nil, fmt.Errorf("%w: no images generated", generation.ErrInvalidResponse)
	}

	type imageEntry struct {
		B64JSON string `json:"b64_json"`
	}
	entries := make([]imageEntry, 0, len(response.GeneratedImages))
	for _, image := range response.GeneratedImages {
		if image == nil || image.Image == nil || len(image.Image.ImageBytes) == 0 {
			continue
		}
		entries = append(entries, imageEntry{
			B64JSON: base64.StdEncoding.EncodeToString(image.Image.ImageBytes),
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: generated images carried no content", generation.ErrInvalidResponse)
	}

	raw, err := json.Marshal(map[string]any{"data": entries})
	if err != nil {
		return nil, fmt.Errorf("failed to encode image response: %w", err)
	}

	g.logger.InfoContext(ctx, "generated images", "model", model, "count", len(entries))
	return raw, nil
}

// callWithRetry makes a Gemini API call with exponential backoff retry
// logic. Transient API errors are retried up to maxRetries times with
// jittered exponential backoff; malformed or safety-blocked responses are
// returned immediately.
func (g *GeminiGenerator) callWithRetry(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	generateConfig *genai.GenerateContentConfig,
) (string, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; ; attempt++ {
		g.logger.DebugContext(ctx, "calling Gemini API",
			"model", model,
			"attempt", attempt+1,
			"max_attempts", g.maxRetries+1)

		response, err := g.client.Models.GenerateContent(ctx, model, contents, generateConfig)
		if err == nil {
			text, validateErr := extractText(response)
			if validateErr != nil {
				return "", validateErr
			}
			return text, nil
		}

		g.logger.ErrorContext(ctx, "Gemini API call failed",
			"model", model,
			"attempt", attempt+1,
			"error", err)

		if attempt >= g.maxRetries {
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				generation.ErrTransientFailure, g.maxRetries, err)
		}

		// delay = baseDelay * 2^attempt * jitter in [0.5, 1.0)
		backoff := float64(g.retryDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("call cancelled during retry delay: %w", ctx.Err())
		}
	}
}

// extractText validates a generate-content response and returns its text.
func extractText(response *genai.GenerateContentResponse) (string, error) {
	if response == nil || len(response.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := response.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: generation stopped by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}

	text := sb.String()
	if text == "" {
		return "", fmt.Errorf("%w: response contained no text", generation.ErrInvalidResponse)
	}
	return text, nil
}

// buildContents converts a transcript into Gemini content turns. System
// messages are folded into a single system instruction rather than
// appearing as turns.
func buildContents(messages []*domain.Message) ([]*genai.Content, *genai.Content, error) {
	if len(messages) == 0 {
		return nil, nil, ErrEmptyTranscript
	}

	var systemParts []*genai.Part
	contents := make([]*genai.Content, 0, len(messages))

	for _, message := range messages {
		part := genai.NewPartFromText(message.Content)

		switch message.Role {
		case domain.MessageRoleSystem:
			systemParts = append(systemParts, part)
		case domain.MessageRoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{part},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{part},
			})
		}
	}

	if len(contents) == 0 {
		return nil, nil, ErrEmptyTranscript
	}

	var systemInstruction *genai.Content
	if len(systemParts) > 0 {
		systemInstruction = &genai.Content{Parts: systemParts}
	}
	return contents, systemInstruction, nil
}

// formatTranscript renders a transcript as plain role-prefixed lines for
// prompt embedding.
func formatTranscript(messages []*domain.Message) string {
	var sb strings.Builder
	for _, message := range messages {
		sb.WriteString(string(message.Role))
		sb.WriteString(": ")
		sb.WriteString(message.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
