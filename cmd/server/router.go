package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/relay-api/internal/api"
	apiMiddleware "github.com/phrazzld/relay-api/internal/api/middleware"
)

// setupRouter configures the HTTP routes and middleware.
func (app *application) setupRouter() http.Handler {
	// Create a router
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware) // Add trace IDs for improved error handling

	// Create API handlers using the application's services
	authHandler := api.NewAuthHandler(
		app.tokenService,
		app.keyVerifier,
		&app.config.Auth,
	)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.tokenService)

	taskHandler := api.NewTaskHandler(app.queue)
	conversationHandler := api.NewConversationHandler(
		app.chatService,
		app.conversationStore,
		app.attachmentStore,
	)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		// Authentication endpoint (public)
		r.Post("/auth/token", authHandler.IssueToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			// Task queue endpoints
			r.Post("/tasks", taskHandler.Enqueue)
			r.Get("/tasks", taskHandler.List)
			r.Get("/tasks/{id}", taskHandler.Get)
			r.Post("/tasks/{id}/cancel", taskHandler.Cancel)
			r.Post("/tasks/{id}/retry", taskHandler.Retry)

			// Conversation endpoints
			r.Get("/conversations", conversationHandler.List)
			r.Get("/conversations/{id}", conversationHandler.Get)
			r.Get("/conversations/{id}/messages", conversationHandler.Messages)
			r.Post("/conversations/{id}/cancel-tasks", taskHandler.CancelConversation)

			// Attachment upload state
			r.Get("/attachments", conversationHandler.AttachmentStatus)
		})
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
