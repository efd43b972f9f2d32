package api

import (
	"net/http"
	"strconv"

	"github.com/phrazzld/relay-api/internal/api/shared"
	"github.com/phrazzld/relay-api/internal/service"
	"github.com/phrazzld/relay-api/internal/store"
)

// defaultListLimit is the page size used when the client does not pass one.
const defaultListLimit = 20

// ConversationHandler serves read access to conversations, transcripts and
// attachment upload state. All mutation flows through the task queue.
type ConversationHandler struct {
	chat          *service.ChatService
	conversations store.ConversationStore
	attachments   store.AttachmentStore
}

// NewConversationHandler creates a new ConversationHandler with the given
// dependencies.
func NewConversationHandler(
	chat *service.ChatService,
	conversations store.ConversationStore,
	attachments store.AttachmentStore,
) *ConversationHandler {
	return &ConversationHandler{
		chat:          chat,
		conversations: conversations,
		attachments:   attachments,
	}
}

// List handles GET /conversations with optional limit and offset query
// parameters. Reads go through the chat service so repeated polls hit its
// list cache.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)

	conversations, err := h.chat.ListConversations(r.Context(), limit, offset)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list conversations")
		return
	}

	responses := make([]ConversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		responses = append(responses, newConversationResponse(conversation))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// Get handles GET /conversations/{id}.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	conversation, err := h.conversations.GetConversation(r.Context(), conversationID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newConversationResponse(conversation))
}

// Messages handles GET /conversations/{id}/messages, returning the
// transcript in chronological order.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	// Distinguish an empty transcript from an unknown conversation.
	if _, err := h.conversations.GetConversation(r.Context(), conversationID); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	messages, err := h.conversations.GetMessages(r.Context(), conversationID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load messages")
		return
	}

	responses := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		responses = append(responses, newMessageResponse(message))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// AttachmentStatus handles GET /attachments?path=..., the polling endpoint
// for upload progress mirrored by the upload queue.
func (h *ConversationHandler) AttachmentStatus(w http.ResponseWriter, r *http.Request) {
	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "path query parameter is required")
		return
	}

	attachment, err := h.attachments.GetAttachmentByPath(r.Context(), filePath)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newAttachmentResponse(attachment))
}

// queryInt parses an integer query parameter, falling back to the default
// when absent or malformed.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
