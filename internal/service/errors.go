// Package service provides application-level services orchestrating
// conversations, generation providers and the outbound task queue.
package service

import "errors"

// Common service errors - sentinel errors used across service implementations.
// Callers check for these with errors.Is(); the API layer maps them to
// HTTP status codes.
var (
	// ErrEmptyMessage indicates a send was attempted with no text and no
	// attachments. API layer should map this to HTTP 400 Bad Request.
	ErrEmptyMessage = errors.New("message has no content")

	// ErrNoActiveConversation indicates an operation that needs an active
	// conversation was called while none is active.
	ErrNoActiveConversation = errors.New("no active conversation")
)
