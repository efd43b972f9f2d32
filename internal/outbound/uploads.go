package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/relay-api/internal/domain"
)

// QueuedAttachmentStatus is the internal state of one item in the upload
// sub-queue. It is bridged to the client-visible domain.FileUploadStatus
// by the worker.
type QueuedAttachmentStatus string

// Possible upload sub-queue item states
const (
	QueuedAttachmentPending   QueuedAttachmentStatus = "pending"
	QueuedAttachmentUploading QueuedAttachmentStatus = "uploading"
	QueuedAttachmentCompleted QueuedAttachmentStatus = "completed"
	QueuedAttachmentFailed    QueuedAttachmentStatus = "failed"
	QueuedAttachmentCancelled QueuedAttachmentStatus = "cancelled"
)

// QueuedAttachment is one upload sub-queue item. FileID carries the
// server-assigned identifier once the upload completes.
type QueuedAttachment struct {
	ID        uuid.UUID
	FilePath  string
	FileName  string
	Status    QueuedAttachmentStatus
	FileID    string
	LastError string
}

// UploadProgress is one event on an uploader's progress stream.
type UploadProgress struct {
	Status QueuedAttachmentStatus
	FileID string
	Err    string
}

// Uploader is the API capability the upload sub-queue is bound to. The
// returned channel emits progress events and is closed by the uploader
// once the upload reaches a terminal state.
type Uploader interface {
	UploadFile(ctx context.Context, filePath, fileName string) (<-chan UploadProgress, error)
}

// UploadQueue is the secondary bounded pipeline created per upload task.
// It drives one uploader stream per enqueued item, maintains item state
// independent of the outer task queue's persistence, and republishes each
// status change on a single events channel the worker subscribes to.
type UploadQueue struct {
	uploader Uploader
	logger   *slog.Logger

	mu     sync.Mutex
	items  map[uuid.UUID]*QueuedAttachment
	events chan QueuedAttachment
	closed bool
	wg     sync.WaitGroup
}

// NewUploadQueue creates an UploadQueue bound to the given uploader.
func NewUploadQueue(uploader Uploader, logger *slog.Logger) *UploadQueue {
	return &UploadQueue{
		uploader: uploader,
		logger:   logger.With("component", "upload_queue"),
		items:    make(map[uuid.UUID]*QueuedAttachment),
		events:   make(chan QueuedAttachment, 16),
	}
}

// Enqueue starts uploading the given file and returns the sub-queue item
// ID. Progress is published on Events until the item reaches a terminal
// state.
func (u *UploadQueue) Enqueue(ctx context.Context, filePath, fileName string) (uuid.UUID, error) {
	if u.uploader == nil {
		return uuid.Nil, ErrUploaderUnavailable
	}

	item := &QueuedAttachment{
		ID:       uuid.New(),
		FilePath: filePath,
		FileName: fileName,
		Status:   QueuedAttachmentPending,
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return uuid.Nil, fmt.Errorf("upload queue is closed")
	}
	u.items[item.ID] = item
	u.mu.Unlock()

	u.publish(*item)

	progress, err := u.uploader.UploadFile(ctx, filePath, fileName)
	if err != nil {
		u.setStatus(item.ID, QueuedAttachmentFailed, "", err.Error())
		return item.ID, nil
	}

	u.wg.Add(1)
	go u.drain(ctx, item.ID, progress)

	return item.ID, nil
}

// Events returns the stream of item status changes.
func (u *UploadQueue) Events() <-chan QueuedAttachment {
	return u.events
}

// Get returns a copy of the item with the given ID.
func (u *UploadQueue) Get(itemID uuid.UUID) (QueuedAttachment, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	item, ok := u.items[itemID]
	if !ok {
		return QueuedAttachment{}, false
	}
	return *item, true
}

// Close stops the queue after in-flight uploads settle and closes the
// events channel.
func (u *UploadQueue) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	u.mu.Unlock()

	u.wg.Wait()
	close(u.events)
}

// drain consumes one uploader progress stream, updating the item and
// republishing each change. If the stream ends without a terminal event,
// the item is marked failed so subscribers never wait forever.
func (u *UploadQueue) drain(ctx context.Context, itemID uuid.UUID, progress <-chan UploadProgress) {
	defer u.wg.Done()

	terminal := false
	for {
		select {
		case <-ctx.Done():
			if !terminal {
				u.setStatus(itemID, QueuedAttachmentCancelled, "", ctx.Err().Error())
			}
			return

		case p, ok := <-progress:
			if !ok {
				if !terminal {
					u.setStatus(itemID, QueuedAttachmentFailed, "", "upload stream ended without result")
				}
				return
			}

			u.setStatus(itemID, p.Status, p.FileID, p.Err)
			switch p.Status {
			case QueuedAttachmentCompleted, QueuedAttachmentFailed, QueuedAttachmentCancelled:
				terminal = true
			}
		}
	}
}

// setStatus updates one item and publishes the change.
func (u *UploadQueue) setStatus(itemID uuid.UUID, status QueuedAttachmentStatus, fileID, lastError string) {
	u.mu.Lock()
	item, ok := u.items[itemID]
	if !ok {
		u.mu.Unlock()
		return
	}
	item.Status = status
	if fileID != "" {
		item.FileID = fileID
	}
	item.LastError = lastError
	snapshot := *item
	u.mu.Unlock()

	u.publish(snapshot)
}

// publish emits an event without ever blocking an uploader goroutine; if
// the subscriber is gone, the event is dropped and the item state remains
// queryable via Get.
func (u *UploadQueue) publish(item QueuedAttachment) {
	u.mu.Lock()
	closed := u.closed
	u.mu.Unlock()
	if closed {
		return
	}

	select {
	case u.events <- item:
	default:
		u.logger.Debug("dropping upload event, subscriber not keeping up",
			"item_id", item.ID,
			"status", item.Status)
	}
}

// MapQueuedAttachmentStatus converts a sub-queue item state to the
// client-visible upload status.
func MapQueuedAttachmentStatus(status QueuedAttachmentStatus) domain.FileUploadStatus {
	switch status {
	case QueuedAttachmentPending:
		return domain.FileUploadStatusPending
	case QueuedAttachmentUploading:
		return domain.FileUploadStatusUploading
	case QueuedAttachmentCompleted:
		return domain.FileUploadStatusCompleted
	case QueuedAttachmentFailed:
		return domain.FileUploadStatusFailed
	case QueuedAttachmentCancelled:
		return domain.FileUploadStatusCancelled
	default:
		return domain.FileUploadStatusPending
	}
}
