package outbound

import "errors"

// Common errors returned by the Queue
var (
	// ErrTaskNotFound is returned when the referenced task ID is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotRetryable is returned when retry is called on a task that
	// is not in the failed state.
	ErrTaskNotRetryable = errors.New("task is not retryable")

	// ErrQueueStopped is returned when an operation is attempted after the
	// queue has been stopped.
	ErrQueueStopped = errors.New("task queue is stopped")

	// ErrMissingConversation is returned when an enqueue operation that
	// requires a conversation is called without one.
	ErrMissingConversation = errors.New("conversation ID is required")
)

// Collaborator-availability errors. These surface as task failures with a
// descriptive message when a handler runs without its required capability
// configured.
var (
	ErrChatUnavailable        = errors.New("chat service is not configured")
	ErrToolCatalogUnavailable = errors.New("tool catalog is not configured")
	ErrImageUnavailable       = errors.New("no image generation capability is configured")
	ErrTitleUnavailable       = errors.New("title generator is not configured")
	ErrPushUnavailable        = errors.New("conversation push is not configured")
	ErrUploaderUnavailable    = errors.New("uploader is not configured")
	ErrUnknownTaskKind        = errors.New("unknown task kind")
)

// Upload bridge errors
var (
	// ErrUploadTimeout is returned when an upload does not reach a terminal
	// state within the configured ceiling. The task fails so that retry can
	// handle it, rather than silently reporting success.
	ErrUploadTimeout = errors.New("upload timed out")

	// ErrUploadFailed is returned when the upload sub-queue reports failure.
	ErrUploadFailed = errors.New("upload failed")

	// ErrUploadCancelled is returned when the upload sub-queue reports the
	// item was cancelled before completing.
	ErrUploadCancelled = errors.New("upload cancelled")
)
