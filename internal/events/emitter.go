package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// InMemoryEventEmitter is a simple implementation of the EventEmitter
// interface that stores registered handlers in memory and dispatches events
// to them.
type InMemoryEventEmitter struct {
	handlers []EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		handlers: make([]EventHandler, 0),
		logger:   logger.With("component", "in_memory_event_emitter"),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// EmitEvent publishes the given event to all registered handlers.
// If any handler returns an error, the event will still be sent to all other
// handlers, and the first error encountered will be returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskStatusEvent) error {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Debug("no handlers registered for event",
			"event_id", event.ID,
			"task_id", event.TaskID,
			"status", event.Status)
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"task_id", event.TaskID,
				"status", event.Status)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// LoggingHandler logs every task status transition it receives. It is the
// default handler wired at startup so task progress shows up in the server
// logs even with no other subscribers.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a LoggingHandler writing to the given logger.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	return &LoggingHandler{
		logger: logger.With("component", "task_status_log"),
	}
}

// HandleEvent implements EventHandler.
func (h *LoggingHandler) HandleEvent(_ context.Context, event *TaskStatusEvent) error {
	attrs := []any{
		"task_id", event.TaskID,
		"task_kind", event.Kind,
		"status", event.Status,
		"attempt", event.Attempt,
	}
	if event.ConversationID != uuid.Nil {
		attrs = append(attrs, "conversation_id", event.ConversationID)
	}

	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
		h.logger.Warn("task status changed", attrs...)
		return nil
	}

	h.logger.Info("task status changed", attrs...)
	return nil
}
