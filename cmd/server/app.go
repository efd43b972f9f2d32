package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/relay-api/internal/config"
	"github.com/phrazzld/relay-api/internal/events"
	"github.com/phrazzld/relay-api/internal/outbound"
	"github.com/phrazzld/relay-api/internal/platform/gemini"
	"github.com/phrazzld/relay-api/internal/platform/postgres"
	"github.com/phrazzld/relay-api/internal/service"
	"github.com/phrazzld/relay-api/internal/service/auth"
	"github.com/phrazzld/relay-api/internal/store"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	conversationStore store.ConversationStore
	attachmentStore   store.AttachmentStore
	snapshotStore     store.SnapshotStore

	// Service interfaces
	tokenService auth.TokenService
	keyVerifier  auth.KeyVerifier
	generator    *gemini.GeminiGenerator
	chatService  *service.ChatService

	// Task handling
	queue *outbound.Queue
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Initialize token service
	var err error
	app.tokenService, err = auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	logger.Info("Token authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	// Initialize API key verifier
	app.keyVerifier = auth.NewBcryptVerifier()

	// Initialize stores
	app.conversationStore = postgres.NewPostgresConversationStore(db, logger)
	app.attachmentStore = postgres.NewPostgresAttachmentStore(db, logger)
	app.snapshotStore = postgres.NewPostgresSnapshotStore(db, logger)

	// Create the Gemini generator and file uploader
	app.generator, err = gemini.NewGeminiGenerator(
		ctx,
		logger.With("component", "llm_generator"),
		cfg.LLM,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM generator: %w", err)
	}
	logger.Info("LLM generator initialized successfully")

	uploader, err := gemini.NewGeminiUploader(app.generator.Client(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file uploader: %w", err)
	}

	// Initialize the chat service
	app.chatService = service.NewChatService(
		app.conversationStore,
		app.generator,
		service.ChatConfig{
			DefaultModel:   cfg.LLM.ChatModel,
			ImageChatModel: cfg.LLM.ImageModel,
		},
		logger,
	)

	// Conversation pushes are optional; without a pusher the save task
	// reports its unavailability instead of silently dropping work.
	var pusher outbound.ConversationPusher
	if cfg.Outbound.EnableConversationPush {
		pusher = service.NewStorePusher(app.conversationStore, logger)
	}

	// Direct image generation requires an image-capable model; without one
	// the worker falls back to the flag-toggle chat path.
	var images outbound.ImageGenerator
	if cfg.LLM.ImageModel != "" {
		images = service.NewImageGeneratorAdapter(app.generator, cfg.LLM.ImageModel)
	}

	worker, err := outbound.NewWorker(outbound.WorkerConfig{
		Chat:          app.chatService,
		Tools:         service.NewStaticToolCatalog(nil),
		Images:        images,
		Titles:        service.NewTitleGeneratorAdapter(app.generator),
		Pusher:        pusher,
		Uploader:      uploader,
		Conversations: app.conversationStore,
		Attachments:   app.attachmentStore,
		UploadTimeout: time.Duration(cfg.Outbound.UploadTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task worker: %w", err)
	}

	// Task status transitions flow through the event emitter; the logging
	// handler makes task progress visible in the server logs.
	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewLoggingHandler(logger))

	// Initialize the task queue and restore any persisted tasks
	app.queue = outbound.NewQueue(app.snapshotStore, worker, outbound.QueueConfig{
		MaxParallel: cfg.Outbound.MaxParallel,
		Events:      emitter,
	}, logger)

	if err := app.queue.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore task queue: %w", err)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	err := app.startHTTPServer(ctx, router)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources. The queue
// stops first so in-flight tasks settle and the final snapshot is written
// before the database connection closes.
func (app *application) cleanup() {
	if app.queue != nil {
		app.queue.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
