package outbound

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/store"
)

// DefaultUploadTimeout is the ceiling on waiting for one upload to reach
// a terminal state.
const DefaultUploadTimeout = 2 * time.Minute

// ChatService is the message-send pipeline the worker delegates to. It
// also tracks which conversation is currently active on the client, which
// gates conversation activation and post-hoc title updates.
type ChatService interface {
	// SendMessage sends text through the message pipeline, optionally
	// constrained to the given attachments and tools.
	SendMessage(ctx context.Context, conversationID uuid.UUID, text string, attachmentIDs, toolIDs []string) error

	// ActivateConversation fetches the conversation and makes it the
	// active one.
	ActivateConversation(ctx context.Context, conversationID uuid.UUID) error

	// ActiveConversationID returns the currently active conversation, or
	// uuid.Nil when none is active.
	ActiveConversationID() uuid.UUID

	// SetImageGenerationEnabled flips the shared image-generation flag and
	// returns the previous value so callers can restore it.
	SetImageGenerationEnabled(enabled bool) bool

	// InvalidateConversationList drops any cached conversation list so the
	// next read refetches it.
	InvalidateConversationList()
}

// Tool is one entry in the API's tool catalog.
type Tool struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolCatalog looks up the tools available to the remote model.
type ToolCatalog interface {
	GetAvailableTools(ctx context.Context) ([]Tool, error)
}

// ImageGenerator calls a dedicated image-generation endpoint. The raw
// response shape varies by provider and is normalized by the worker.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (json.RawMessage, error)
}

// TitleMessage is the minimal message shape sent to the title-generation
// endpoint.
type TitleMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// TitleGenerator produces a short conversation title from a transcript.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, conversationID uuid.UUID, messages []TitleMessage, model string) (string, error)
}

// ConversationPusher mirrors the full local transcript to the server.
// This capability is optional: deployments that keep conversation state
// server-side leave it unconfigured and the save-conversation task fails
// with a descriptive message.
type ConversationPusher interface {
	PushConversation(
		ctx context.Context,
		conversationID uuid.UUID,
		messages []*domain.Message,
		title string,
		model string,
	) error
}

// WorkerConfig holds the collaborators and settings for a Worker. The
// conversation and attachment stores are required; every other
// collaborator is an optional capability whose absence fails only the
// task kinds that need it.
type WorkerConfig struct {
	Chat          ChatService
	Tools         ToolCatalog
	Images        ImageGenerator
	Titles        TitleGenerator
	Pusher        ConversationPusher
	Uploader      Uploader
	Conversations store.ConversationStore
	Attachments   store.AttachmentStore

	// UploadTimeout bounds the wait for one upload; zero means
	// DefaultUploadTimeout.
	UploadTimeout time.Duration
}

// Common worker construction errors
var (
	ErrNilConversationStore = errors.New("conversation store cannot be nil")
	ErrNilAttachmentStore   = errors.New("attachment store cannot be nil")
	ErrNilLogger            = errors.New("logger cannot be nil")
)

// Worker executes one outbound task at a time by delegating to external
// collaborators. The queue wraps every Execute call: a returned error
// becomes the task's failure message, a nil return marks it succeeded.
// Secondary, best-effort side effects (list refresh, auto-titling) are
// swallowed here and never fail the primary task.
type Worker struct {
	chat          ChatService
	tools         ToolCatalog
	images        ImageGenerator
	titles        TitleGenerator
	pusher        ConversationPusher
	uploader      Uploader
	conversations store.ConversationStore
	attachments   store.AttachmentStore
	uploadTimeout time.Duration
	logger        *slog.Logger
}

// NewWorker creates a Worker from the given configuration.
func NewWorker(config WorkerConfig, logger *slog.Logger) (*Worker, error) {
	if config.Conversations == nil {
		return nil, ErrNilConversationStore
	}
	if config.Attachments == nil {
		return nil, ErrNilAttachmentStore
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	uploadTimeout := config.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}

	return &Worker{
		chat:          config.Chat,
		tools:         config.Tools,
		images:        config.Images,
		titles:        config.Titles,
		pusher:        config.Pusher,
		uploader:      config.Uploader,
		conversations: config.Conversations,
		attachments:   config.Attachments,
		uploadTimeout: uploadTimeout,
		logger:        logger.With("component", "outbound_worker"),
	}, nil
}

// Execute dispatches one task to its kind-specific handler.
func (w *Worker) Execute(ctx context.Context, task *domain.OutboundTask) error {
	log := w.logger.With("task_id", task.ID, "task_kind", task.Kind)
	log.Info("executing task")

	switch task.Kind {
	case domain.TaskKindSendTextMessage:
		return w.executeSendText(ctx, task, log)
	case domain.TaskKindUploadMedia:
		return w.executeUploadMedia(ctx, task, log)
	case domain.TaskKindExecuteToolCall:
		return w.executeToolCall(ctx, task, log)
	case domain.TaskKindGenerateImage:
		return w.executeGenerateImage(ctx, task, log)
	case domain.TaskKindImageToDataURL:
		return w.executeImageToDataURL(ctx, task, log)
	case domain.TaskKindSaveConversation:
		return w.executeSaveConversation(ctx, task, log)
	case domain.TaskKindGenerateTitle:
		return w.executeGenerateTitle(ctx, task, log)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTaskKind, task.Kind)
	}
}

// executeSendText delivers a text message through the chat pipeline. If
// the target conversation differs from the active one it is activated
// first; activation failure is tolerated and the send falls through to
// create-new-conversation semantics.
func (w *Worker) executeSendText(ctx context.Context, task *domain.OutboundTask, log *slog.Logger) error {
	if w.chat == nil {
		return ErrChatUnavailable
	}

	if task.ConversationID != uuid.Nil && task.ConversationID != w.chat.ActiveConversationID() {
		if err := w.chat.ActivateConversation(ctx, task.ConversationID); err != nil {
			log.Warn("failed to activate conversation, send will create a new one",
				"conversation_id", task.ConversationID,
				"error", err)
		}
	}

	return w.chat.SendMessage(
		ctx,
		task.ConversationID,
		task.Payload.Text,
		task.Payload.AttachmentIDs,
		task.Payload.ToolIDs,
	)
}

// executeUploadMedia runs one upload through a dedicated sub-queue and
// bridges its push-based progress stream to this task's pull-based
// completion: each status change is mirrored into the shared attachment
// state keyed by file path, and the handler returns once the item reaches
// a terminal state. A timed-out upload fails the task so retry can handle
// it.
func (w *Worker) executeUploadMedia(ctx context.Context, task *domain.OutboundTask, log *slog.Logger) error {
	if w.uploader == nil {
		return ErrUploaderUnavailable
	}

	filePath := task.Payload.FilePath
	w.ensureAttachment(ctx, task, log)

	// A derived context lets the handler abandon the uploader stream on
	// timeout; the deferred cancel runs before Close so the sub-queue's
	// drain goroutine always unblocks.
	uploadCtx, cancelUpload := context.WithCancel(ctx)
	uploads := NewUploadQueue(w.uploader, w.logger)
	defer uploads.Close()
	defer cancelUpload()

	itemID, err := uploads.Enqueue(uploadCtx, filePath, task.Payload.FileName)
	if err != nil {
		return fmt.Errorf("failed to enqueue upload: %w", err)
	}

	timeout := time.NewTimer(w.uploadTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timeout.C:
			w.mirrorAttachmentStatus(ctx, filePath, domain.FileUploadStatusFailed, "", "upload timed out", log)
			return fmt.Errorf("%w after %s", ErrUploadTimeout, w.uploadTimeout)

		case item, ok := <-uploads.Events():
			if !ok {
				return fmt.Errorf("%w: upload stream closed", ErrUploadFailed)
			}
			if item.ID != itemID {
				continue
			}

			status := MapQueuedAttachmentStatus(item.Status)
			w.mirrorAttachmentStatus(ctx, filePath, status, item.FileID, item.LastError, log)

			switch item.Status {
			case QueuedAttachmentCompleted:
				log.Info("upload completed", "file_id", item.FileID)
				return nil
			case QueuedAttachmentFailed:
				return fmt.Errorf("%w: %s", ErrUploadFailed, item.LastError)
			case QueuedAttachmentCancelled:
				return ErrUploadCancelled
			}
		}
	}
}

// executeToolCall resolves a tool against the catalog (case-insensitive
// match on name or id) and delegates execution to the remote model by
// sending a synthetic instruction constrained to the resolved tool.
func (w *Worker) executeToolCall(ctx context.Context, task *domain.OutboundTask, log *slog.Logger) error {
	if w.chat == nil {
		return ErrChatUnavailable
	}
	if w.tools == nil {
		return ErrToolCatalogUnavailable
	}

	catalog, err := w.tools.GetAvailableTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch tool catalog: %w", err)
	}

	var toolIDs []string
	for _, tool := range catalog {
		if strings.EqualFold(tool.Name, task.Payload.ToolName) ||
			strings.EqualFold(tool.ID, task.Payload.ToolName) {
			toolIDs = []string{tool.ID}
			break
		}
	}
	if toolIDs == nil {
		log.Warn("tool not found in catalog, sending unconstrained",
			"tool_name", task.Payload.ToolName)
	}

	instruction := buildToolInstruction(task.Payload.ToolName, task.Payload.ToolArgs)
	return w.chat.SendMessage(ctx, task.ConversationID, instruction, nil, toolIDs)
}

// executeGenerateImage produces images for a prompt. With a dedicated
// image endpoint configured it calls that directly, normalizes the
// response, records an assistant message carrying the images, and makes a
// best-effort attempt at titling the conversation. Otherwise it falls
// back to the chat pipeline with the shared image-generation flag flipped
// on for the duration of the send; the deferred restore runs even when
// the send fails.
func (w *Worker) executeGenerateImage(ctx context.Context, task *domain.OutboundTask, log *slog.Logger) error {
	if w.images != nil {
		return w.generateImageDirect(ctx, task, log)
	}

	if w.chat == nil {
		return ErrImageUnavailable
	}

	previous := w.chat.SetImageGenerationEnabled(true)
	defer w.chat.SetImageGenerationEnabled(previous)

	return w.chat.SendMessage(ctx, task.ConversationID, task.Payload.Prompt, nil, nil)
}

// generateImageDirect is the direct-endpoint image generation path.
func (w *Worker) generateImageDirect(ctx context.Context, task *domain.OutboundTask, log *slog.Logger) error {
	raw, err := w.images.GenerateImage(ctx, task.Payload.Prompt)
	if err != nil {
		return fmt.Errorf("image generation failed: %w", err)
	}

	images, err := NormalizeImageResponse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse image response: %w", err)
	}

	if task.ConversationID != uuid.Nil {
		message, err := domain.NewMessage(task.ConversationID, domain.MessageRoleAssistant, "")
		if err != nil {
			return fmt.Errorf("failed to build assistant message: %w", err)
		}
		for _, image := range images {
			message.AttachmentIDs = append(message.AttachmentIDs, image.URL)
		}

		if err := w.conversations.AppendMessage(ctx, message); err != nil {
			return fmt.Errorf("failed to record generated images: %w", err)
		}

		// Auto-titling is best-effort and never fails the task.
		w.generateTitleBestEffort(ctx, task.ConversationID, log)
	}

	log.Info("image generation completed", "image_count", len(images))
	return nil
}

// executeImageToDataURL encodes a local file as a data: URL and records
// it as the attachment's file ID, reflecting uploading/completed progress
// the same way a real upload does. No network is involved.
func (w *Worker) executeImageToDataURL(ctx context.Context, task *domain.OutboundTask, log *slog.Logger) error {
	filePath := task.Payload.FilePath
	w.ensureAttachment(ctx, task, log)

	if err := w.attachments.UpdateAttachmentStatus(
		ctx, filePath, domain.FileUploadStatusUploading, "", "",
	); err != nil {
		return fmt.Errorf("failed to mark attachment uploading: %w", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		w.mirrorAttachmentStatus(ctx, filePath, domain.FileUploadStatusFailed, "", err.Error(), log)
		return fmt.Errorf("failed to read file: %w", err)
	}

	dataURL := fmt.Sprintf(
		"data:%s;base64,%s",
		mimeTypeForFile(task.Payload.FileName),
		base64.StdEncoding.EncodeToString(data),
	)

	if err := w.attachments.UpdateAttachmentStatus(
		ctx, filePath, domain.FileUploadStatusCompleted, dataURL, "",
	); err != nil {
		return fmt.Errorf("failed to record data URL: %w", err)
	}

	log.Info("encoded attachment as data URL", "file_name", task.Payload.FileName, "bytes", len(data))
	return nil
}

// executeSaveConversation pushes the full transcript to the server,
// skipping the round-trip when the transcript ends with an empty
// assistant placeholder (the streaming slot for a reply that has not
// arrived yet).
func (w *Worker) executeSaveConversation(ctx context.Context, task *domain.OutboundTask, log *slog.Logger) error {
	if w.pusher == nil {
		return ErrPushUnavailable
	}

	messages, err := w.conversations.GetMessages(ctx, task.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}

	if len(messages) > 0 && messages[len(messages)-1].IsEmptyAssistantPlaceholder() {
		log.Debug("skipping push, transcript ends with empty assistant placeholder")
		return nil
	}

	conversation, err := w.conversations.GetConversation(ctx, task.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	if err := w.pusher.PushConversation(
		ctx, task.ConversationID, messages, conversation.Title, conversation.Model,
	); err != nil {
		return fmt.Errorf("failed to push conversation: %w", err)
	}

	if w.chat != nil {
		w.chat.InvalidateConversationList()
	}

	log.Info("conversation pushed", "message_count", len(messages))
	return nil
}

// executeGenerateTitle asks the title endpoint for a short title built
// from a minimal transcript shape. The result is applied only when the
// conversation is still the active one and the returned title is neither
// empty nor the default placeholder.
func (w *Worker) executeGenerateTitle(ctx context.Context, task *domain.OutboundTask, log *slog.Logger) error {
	if w.titles == nil {
		return ErrTitleUnavailable
	}

	conversation, err := w.conversations.GetConversation(ctx, task.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	messages, err := w.conversations.GetMessages(ctx, task.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}

	title, err := w.titles.GenerateTitle(
		ctx, task.ConversationID, formatTitleMessages(messages), conversation.Model,
	)
	if err != nil {
		return fmt.Errorf("title generation failed: %w", err)
	}

	if title == "" || title == domain.DefaultConversationTitle {
		log.Debug("discarding unusable generated title", "title", title)
		return nil
	}

	if w.chat != nil && w.chat.ActiveConversationID() != task.ConversationID {
		log.Debug("conversation no longer active, skipping title update")
		return nil
	}

	conversation.SetTitle(title)
	if err := w.conversations.UpdateConversation(ctx, conversation); err != nil {
		return fmt.Errorf("failed to save title: %w", err)
	}

	if w.chat != nil {
		w.chat.InvalidateConversationList()
	}

	log.Info("conversation titled", "title", conversation.Title)
	return nil
}

// generateTitleBestEffort attempts a title generation and swallows every
// failure.
func (w *Worker) generateTitleBestEffort(ctx context.Context, conversationID uuid.UUID, log *slog.Logger) {
	if w.titles == nil {
		return
	}

	titleTask := domain.OutboundTask{
		ID:             uuid.New(),
		Kind:           domain.TaskKindGenerateTitle,
		ConversationID: conversationID,
		Status:         domain.TaskStatusRunning,
	}
	if err := w.executeGenerateTitle(ctx, &titleTask, log); err != nil {
		log.Debug("best-effort title generation failed", "error", err)
	}
}

// ensureAttachment registers a pending attachment record for the task's
// file if none exists yet. Registration failures are logged, not fatal:
// the attachment row is observability state, not the upload itself.
func (w *Worker) ensureAttachment(ctx context.Context, task *domain.OutboundTask, log *slog.Logger) {
	_, err := w.attachments.GetAttachmentByPath(ctx, task.Payload.FilePath)
	if err == nil {
		return
	}
	if !store.IsNotFoundError(err) {
		log.Warn("failed to look up attachment", "file_path", task.Payload.FilePath, "error", err)
		return
	}

	attachment, err := domain.NewAttachment(task.ConversationID, task.Payload.FilePath, task.Payload.FileName)
	if err != nil {
		log.Warn("failed to build attachment record", "error", err)
		return
	}
	attachment.FileSize = task.Payload.FileSize
	attachment.MimeType = task.Payload.MimeType

	if err := w.attachments.CreateAttachment(ctx, attachment); err != nil {
		log.Warn("failed to register attachment", "file_path", task.Payload.FilePath, "error", err)
	}
}

// mirrorAttachmentStatus reflects an upload status change into shared
// attachment state. Mirror failures are logged, not fatal.
func (w *Worker) mirrorAttachmentStatus(
	ctx context.Context,
	filePath string,
	status domain.FileUploadStatus,
	fileID string,
	lastError string,
	log *slog.Logger,
) {
	if err := w.attachments.UpdateAttachmentStatus(ctx, filePath, status, fileID, lastError); err != nil {
		log.Warn("failed to mirror attachment status",
			"file_path", filePath,
			"status", status,
			"error", err)
	}
}

// buildToolInstruction builds the synthetic natural-language instruction
// that delegates tool execution to the remote model.
func buildToolInstruction(toolName string, args json.RawMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Execute the tool %q", toolName)

	if len(args) > 0 {
		var parsed any
		if err := json.Unmarshal(args, &parsed); err == nil {
			if pretty, err := json.MarshalIndent(parsed, "", "  "); err == nil {
				sb.WriteString(" with the following arguments:\n```json\n")
				sb.Write(pretty)
				sb.WriteString("\n```")
				return sb.String()
			}
		}
	}

	sb.WriteString(" with no arguments.")
	return sb.String()
}

// formatTitleMessages reduces a transcript to the minimal shape the title
// endpoint accepts, with epoch-second timestamps.
func formatTitleMessages(messages []*domain.Message) []TitleMessage {
	out := make([]TitleMessage, 0, len(messages))
	for _, message := range messages {
		out = append(out, TitleMessage{
			ID:        message.ID.String(),
			Role:      string(message.Role),
			Content:   message.Content,
			Timestamp: message.CreatedAt.Unix(),
		})
	}
	return out
}

// mimeTypeForFile infers an image MIME type from the file extension.
func mimeTypeForFile(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
