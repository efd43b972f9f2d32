package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/relay-api/internal/outbound"
)

// pollInterval is how often a processing file's state is re-checked.
const pollInterval = time.Second

// GeminiUploader implements the outbound.Uploader interface using the
// Gemini Files API. Uploaded files are referenced by URI in subsequent
// generation calls.
type GeminiUploader struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiUploader creates a GeminiUploader sharing the generator's
// client.
func NewGeminiUploader(client *genai.Client, logger *slog.Logger) (*GeminiUploader, error) {
	if client == nil {
		return nil, errors.New("genai client cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &GeminiUploader{
		client: client,
		logger: logger.With("component", "gemini_uploader"),
	}, nil
}

// Client exposes the underlying genai client so the uploader and
// generator can be constructed from one connection.
func (g *GeminiGenerator) Client() *genai.Client {
	return g.client
}

// UploadFile uploads a local file and streams progress until the file is
// active on the API side. The returned channel is closed after a terminal
// event.
func (u *GeminiUploader) UploadFile(ctx context.Context, filePath, fileName string) (<-chan outbound.UploadProgress, error) {
	if filePath == "" {
		return nil, errors.New("file path cannot be empty")
	}

	progress := make(chan outbound.UploadProgress, 8)

	go func() {
		defer close(progress)

		progress <- outbound.UploadProgress{Status: outbound.QueuedAttachmentUploading}

		file, err := u.client.Files.UploadFromPath(ctx, filePath, &genai.UploadFileConfig{
			DisplayName: fileName,
		})
		if err != nil {
			u.logger.ErrorContext(ctx, "file upload failed",
				"file_path", filePath,
				"error", err)
			progress <- outbound.UploadProgress{
				Status: outbound.QueuedAttachmentFailed,
				Err:    err.Error(),
			}
			return
		}

		// Large files stay in the processing state for a while after the
		// bytes land; poll until the API finishes ingesting them.
		for file.State == genai.FileStateProcessing {
			select {
			case <-ctx.Done():
				progress <- outbound.UploadProgress{
					Status: outbound.QueuedAttachmentCancelled,
					Err:    ctx.Err().Error(),
				}
				return
			case <-time.After(pollInterval):
			}

			file, err = u.client.Files.Get(ctx, file.Name, nil)
			if err != nil {
				progress <- outbound.UploadProgress{
					Status: outbound.QueuedAttachmentFailed,
					Err:    fmt.Sprintf("failed to poll file state: %v", err),
				}
				return
			}
		}

		if file.State == genai.FileStateFailed {
			progress <- outbound.UploadProgress{
				Status: outbound.QueuedAttachmentFailed,
				Err:    "file processing failed on the API side",
			}
			return
		}

		u.logger.InfoContext(ctx, "file upload completed",
			"file_path", filePath,
			"file_uri", file.URI)
		progress <- outbound.UploadProgress{
			Status: outbound.QueuedAttachmentCompleted,
			FileID: file.URI,
		}
	}()

	return progress, nil
}
