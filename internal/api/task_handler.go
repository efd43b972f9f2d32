package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phrazzld/relay-api/internal/api/shared"
	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/outbound"
)

// TaskHandler exposes the outbound task queue over HTTP: enqueueing,
// listing, cancel and retry. Enqueue responds 202 Accepted with the task
// ID; execution happens in the queue's workers.
type TaskHandler struct {
	queue     *outbound.Queue
	validator *validator.Validate
}

// NewTaskHandler creates a new TaskHandler with the given dependencies.
func NewTaskHandler(queue *outbound.Queue) *TaskHandler {
	return &TaskHandler{
		queue:     queue,
		validator: validator.New(),
	}
}

// Enqueue handles POST /tasks. The request kind selects which task is
// appended; the task is admitted by the scheduler according to its
// conversation's thread.
func (h *TaskHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueTaskRequest

	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	conversationID, err := parseOptionalUUID(req.ConversationID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	ctx := r.Context()
	var taskID uuid.UUID

	switch domain.TaskKind(req.Kind) {
	case domain.TaskKindSendTextMessage:
		taskID, err = h.queue.EnqueueSendText(
			ctx, conversationID, req.Text, req.AttachmentIDs, req.ToolIDs, req.IdempotencyKey)
	case domain.TaskKindUploadMedia:
		taskID, err = h.queue.EnqueueUploadMedia(
			ctx, conversationID, req.FilePath, req.FileName, req.FileSize, req.MimeType, req.Checksum)
	case domain.TaskKindExecuteToolCall:
		taskID, err = h.queue.EnqueueExecuteToolCall(
			ctx, conversationID, req.ToolName, req.ToolArgs, req.IdempotencyKey)
	case domain.TaskKindGenerateImage:
		taskID, err = h.queue.EnqueueGenerateImage(
			ctx, conversationID, req.Prompt, req.IdempotencyKey)
	case domain.TaskKindImageToDataURL:
		taskID, err = h.queue.EnqueueImageToDataURL(
			ctx, conversationID, req.FilePath, req.FileName, req.IdempotencyKey)
	case domain.TaskKindSaveConversation:
		taskID, err = h.queue.EnqueueSaveConversation(ctx, conversationID, req.IdempotencyKey)
	case domain.TaskKindGenerateTitle:
		taskID, err = h.queue.EnqueueGenerateTitle(ctx, conversationID, req.IdempotencyKey)
	default:
		// The validator's oneof already rejects unknown kinds; this guards
		// against the two lists drifting apart.
		HandleAPIError(w, r, domain.ErrInvalidTaskKind, "")
		return
	}

	if err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueTaskResponse{
		TaskID: taskID,
		Status: string(domain.TaskStatusQueued),
	})
}

// List handles GET /tasks with optional conversation_id and status query
// filters.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationFilter, err := parseOptionalUUID(r.URL.Query().Get("conversation_id"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	statusFilter := r.URL.Query().Get("status")

	tasks := h.queue.Tasks()
	responses := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		if conversationFilter != uuid.Nil && task.ConversationID != conversationFilter {
			continue
		}
		if statusFilter != "" && string(task.Status) != statusFilter {
			continue
		}
		responses = append(responses, newTaskResponse(task))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks:   responses,
		Running: h.queue.RunningCount(),
	})
}

// Get handles GET /tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.queue.GetTask(taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newTaskResponse(task))
}

// Cancel handles POST /tasks/{id}/cancel. Cancelling a running task does
// not interrupt the in-flight provider call; its result is discarded when
// it completes.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if err := h.queue.Cancel(r.Context(), taskID); err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}

	task, err := h.queue.GetTask(taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newTaskResponse(task))
}

// Retry handles POST /tasks/{id}/retry. Only failed tasks are retryable;
// the task re-enters the queue with its attempt counter advanced.
func (h *TaskHandler) Retry(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if err := h.queue.Retry(r.Context(), taskID); err != nil {
		HandleAPIError(w, r, err, "Failed to retry task")
		return
	}

	task, err := h.queue.GetTask(taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newTaskResponse(task))
}

// CancelConversation handles POST /conversations/{id}/cancel-tasks,
// cancelling every non-terminal task bound to the conversation.
func (h *TaskHandler) CancelConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	cancelled := h.queue.CancelByConversation(r.Context(), conversationID)

	shared.RespondWithJSON(w, r, http.StatusOK, CancelConversationResponse{
		Cancelled: cancelled,
	})
}
