package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/events"
	"github.com/phrazzld/relay-api/internal/store"
)

// QueueConfig holds configuration for the outbound task queue.
type QueueConfig struct {
	// MaxParallel bounds the number of tasks in the running state at any
	// time, across all conversations.
	MaxParallel int

	// SnapshotKey is the fixed storage key for the persisted task list.
	SnapshotKey string

	// Events receives a TaskStatusEvent for every status transition.
	// Optional; nil disables notifications.
	Events events.EventEmitter
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxParallel: 2,
		SnapshotKey: DefaultSnapshotKey,
	}
}

// Executor runs one task to completion. A returned error becomes the
// task's failure message; a nil return marks the task succeeded. Worker
// is the production implementation.
type Executor interface {
	Execute(ctx context.Context, task *domain.OutboundTask) error
}

// taskHandle tracks one launched execution so shutdown and tests can wait
// on it explicitly instead of relying on implicit callback chains.
type taskHandle struct {
	taskID uuid.UUID
	done   chan struct{}
}

// Queue owns the authoritative in-memory task list, persists every state
// transition to a snapshot store, and admits queued tasks to the executor
// under two constraints: the global MaxParallel bound and at most one
// running task per thread key.
//
// All scheduler state (active thread handles, the re-entrancy guard) is
// internal to the Queue and protected by its mutex; callers only see the
// enqueue/cancel/retry surface and read-only task listings.
type Queue struct {
	mu            sync.Mutex
	tasks         []*domain.OutboundTask
	activeThreads map[string]*taskHandle
	scheduling    bool
	stopped       bool

	snapshots store.SnapshotStore
	executor  Executor
	config    QueueConfig
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a new Queue. It does not read persisted state; call
// Load to restore a previous snapshot and begin scheduling.
func NewQueue(
	snapshots store.SnapshotStore,
	executor Executor,
	config QueueConfig,
	logger *slog.Logger,
) *Queue {
	if config.MaxParallel <= 0 {
		config.MaxParallel = DefaultQueueConfig().MaxParallel
	}
	if config.SnapshotKey == "" {
		config.SnapshotKey = DefaultSnapshotKey
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		tasks:         make([]*domain.OutboundTask, 0),
		activeThreads: make(map[string]*taskHandle),
		snapshots:     snapshots,
		executor:      executor,
		config:        config,
		logger:        logger.With("component", "outbound_queue"),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Load restores the persisted snapshot and re-triggers scheduling so work
// interrupted by a restart resumes. A missing snapshot is not an error.
func (q *Queue) Load(ctx context.Context) error {
	data, err := q.snapshots.LoadSnapshot(ctx, q.config.SnapshotKey)
	if err != nil {
		if store.IsNotFoundError(err) {
			q.logger.Debug("no task snapshot to restore")
			return nil
		}
		return fmt.Errorf("failed to load task snapshot: %w", err)
	}

	restored, err := decodeSnapshot(data, q.logger)
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.tasks = restored
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.logger.Info("restored task snapshot", "task_count", len(restored))

	q.schedule()
	return nil
}

// Stop prevents further scheduling and waits for in-flight executions to
// finish. In-flight work is not interrupted beyond context cancellation;
// tasks still running when Stop returns were persisted as running and will
// be demoted to queued on the next Load.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// EnqueueSendText appends a queued send-text-message task and triggers
// scheduling. Returns the new task's ID.
func (q *Queue) EnqueueSendText(
	ctx context.Context,
	conversationID uuid.UUID,
	text string,
	attachmentIDs []string,
	toolIDs []string,
	idempotencyKey string,
) (uuid.UUID, error) {
	return q.enqueue(ctx, domain.TaskKindSendTextMessage, conversationID, domain.TaskPayload{
		Text:          text,
		AttachmentIDs: attachmentIDs,
		ToolIDs:       toolIDs,
	}, idempotencyKey)
}

// EnqueueUploadMedia appends a queued upload-media task for the given
// local file and triggers scheduling.
func (q *Queue) EnqueueUploadMedia(
	ctx context.Context,
	conversationID uuid.UUID,
	filePath string,
	fileName string,
	fileSize int64,
	mimeType string,
	checksum string,
) (uuid.UUID, error) {
	return q.enqueue(ctx, domain.TaskKindUploadMedia, conversationID, domain.TaskPayload{
		FilePath: filePath,
		FileName: fileName,
		FileSize: fileSize,
		MimeType: mimeType,
		Checksum: checksum,
	}, "")
}

// EnqueueExecuteToolCall appends a queued tool-call task and triggers
// scheduling.
func (q *Queue) EnqueueExecuteToolCall(
	ctx context.Context,
	conversationID uuid.UUID,
	toolName string,
	toolArgs json.RawMessage,
	idempotencyKey string,
) (uuid.UUID, error) {
	return q.enqueue(ctx, domain.TaskKindExecuteToolCall, conversationID, domain.TaskPayload{
		ToolName: toolName,
		ToolArgs: toolArgs,
	}, idempotencyKey)
}

// EnqueueGenerateImage appends a queued image-generation task and triggers
// scheduling.
func (q *Queue) EnqueueGenerateImage(
	ctx context.Context,
	conversationID uuid.UUID,
	prompt string,
	idempotencyKey string,
) (uuid.UUID, error) {
	return q.enqueue(ctx, domain.TaskKindGenerateImage, conversationID, domain.TaskPayload{
		Prompt: prompt,
	}, idempotencyKey)
}

// EnqueueImageToDataURL appends a queued local data-URL encoding task, the
// network-free variant of uploading for backends that accept inline data
// URLs.
func (q *Queue) EnqueueImageToDataURL(
	ctx context.Context,
	conversationID uuid.UUID,
	filePath string,
	fileName string,
	idempotencyKey string,
) (uuid.UUID, error) {
	return q.enqueue(ctx, domain.TaskKindImageToDataURL, conversationID, domain.TaskPayload{
		FilePath: filePath,
		FileName: fileName,
	}, idempotencyKey)
}

// EnqueueSaveConversation appends a queued conversation-push task.
func (q *Queue) EnqueueSaveConversation(
	ctx context.Context,
	conversationID uuid.UUID,
	idempotencyKey string,
) (uuid.UUID, error) {
	return q.enqueue(ctx, domain.TaskKindSaveConversation, conversationID, domain.TaskPayload{}, idempotencyKey)
}

// EnqueueGenerateTitle appends a queued title-generation task for the
// given conversation. The conversation ID is required.
func (q *Queue) EnqueueGenerateTitle(
	ctx context.Context,
	conversationID uuid.UUID,
	idempotencyKey string,
) (uuid.UUID, error) {
	if conversationID == uuid.Nil {
		return uuid.Nil, ErrMissingConversation
	}
	return q.enqueue(ctx, domain.TaskKindGenerateTitle, conversationID, domain.TaskPayload{}, idempotencyKey)
}

// Cancel marks a queued or running task cancelled. Cancelling a running
// task does not interrupt the in-flight call; the cooperative checks in
// the completion path discard its result instead. Cancelling a task that
// is already terminal is a no-op.
func (q *Queue) Cancel(ctx context.Context, taskID uuid.UUID) error {
	q.mu.Lock()

	task := q.findLocked(taskID)
	if task == nil {
		q.mu.Unlock()
		return ErrTaskNotFound
	}

	if task.Terminal() {
		q.mu.Unlock()
		return nil
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusCancelled
	task.CompletedAt = &now
	q.persistLocked(ctx)
	cancelled := *task
	q.mu.Unlock()

	q.logger.Info("task cancelled", "task_id", taskID)
	q.notify(ctx, cancelled)
	return nil
}

// CancelByConversation cancels every queued or running task sharing the
// conversation's thread key, e.g. when the user deletes the conversation.
// Returns the number of tasks cancelled.
func (q *Queue) CancelByConversation(ctx context.Context, conversationID uuid.UUID) int {
	threadKey := conversationThreadKey(conversationID)

	q.mu.Lock()

	var cancelled []domain.OutboundTask
	now := time.Now().UTC()
	for _, task := range q.tasks {
		if task.Terminal() || task.ThreadKey() != threadKey {
			continue
		}
		task.Status = domain.TaskStatusCancelled
		completedAt := now
		task.CompletedAt = &completedAt
		cancelled = append(cancelled, *task)
	}

	if len(cancelled) > 0 {
		q.persistLocked(ctx)
	}
	q.mu.Unlock()

	if len(cancelled) > 0 {
		q.logger.Info("cancelled conversation tasks",
			"conversation_id", conversationID,
			"count", len(cancelled))
	}
	for _, task := range cancelled {
		q.notify(ctx, task)
	}
	return len(cancelled)
}

// Retry resets a failed task to queued, increments its attempt counter,
// clears its error and timestamps, and re-triggers scheduling.
func (q *Queue) Retry(ctx context.Context, taskID uuid.UUID) error {
	q.mu.Lock()

	task := q.findLocked(taskID)
	if task == nil {
		q.mu.Unlock()
		return ErrTaskNotFound
	}

	if task.Status != domain.TaskStatusFailed {
		q.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrTaskNotRetryable, task.Status)
	}

	task.Status = domain.TaskStatusQueued
	task.Attempt++
	task.Error = ""
	task.StartedAt = nil
	task.CompletedAt = nil
	q.persistLocked(ctx)
	requeued := *task
	q.mu.Unlock()

	q.logger.Info("task requeued for retry", "task_id", taskID, "attempt", requeued.Attempt)
	q.notify(ctx, requeued)

	q.schedule()
	return nil
}

// Tasks returns a copy of the full task list in enqueue order, including
// completed and cancelled tasks, for history display and retry
// affordances.
func (q *Queue) Tasks() []domain.OutboundTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.OutboundTask, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, *task)
	}
	return out
}

// GetTask returns a copy of the task with the given ID.
func (q *Queue) GetTask(taskID uuid.UUID) (domain.OutboundTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task := q.findLocked(taskID)
	if task == nil {
		return domain.OutboundTask{}, ErrTaskNotFound
	}
	return *task, nil
}

// RunningCount returns the number of tasks currently in the running state.
func (q *Queue) RunningCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.activeThreads)
}

// enqueue appends a new queued task, persists the snapshot, and triggers
// scheduling.
func (q *Queue) enqueue(
	ctx context.Context,
	kind domain.TaskKind,
	conversationID uuid.UUID,
	payload domain.TaskPayload,
	idempotencyKey string,
) (uuid.UUID, error) {
	task, err := domain.NewOutboundTask(kind, conversationID, payload, idempotencyKey)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create task: %w", err)
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return uuid.Nil, ErrQueueStopped
	}
	q.tasks = append(q.tasks, task)
	q.persistLocked(ctx)
	created := *task
	q.mu.Unlock()

	q.logger.Debug("task enqueued",
		"task_id", task.ID,
		"task_kind", task.Kind,
		"thread_key", task.ThreadKey())
	q.notify(ctx, created)

	q.schedule()
	return task.ID, nil
}

// schedule runs the admission loop: while capacity remains, admit the
// first queued task whose thread key is idle and launch its execution
// without waiting. A guard collapses re-entrant calls; the pass already in
// progress exhausts all currently admittable work, and completion
// callbacks re-invoke scheduling for the rest.
func (q *Queue) schedule() {
	q.mu.Lock()
	if q.scheduling || q.stopped {
		q.mu.Unlock()
		return
	}
	q.scheduling = true

	type launch struct {
		task   domain.OutboundTask
		handle *taskHandle
	}
	var launches []launch
	for len(q.activeThreads) < q.config.MaxParallel {
		task := q.nextAdmittableLocked()
		if task == nil {
			// Either nothing is queued or every queued task's thread is
			// busy. Not a deadlock: completions re-run this loop.
			break
		}

		now := time.Now().UTC()
		task.Status = domain.TaskStatusRunning
		startedAt := now
		task.StartedAt = &startedAt

		handle := &taskHandle{
			taskID: task.ID,
			done:   make(chan struct{}),
		}
		q.activeThreads[task.ThreadKey()] = handle
		q.persistLocked(q.ctx)

		q.logger.Debug("task admitted",
			"task_id", task.ID,
			"task_kind", task.Kind,
			"thread_key", task.ThreadKey(),
			"running", len(q.activeThreads))

		q.wg.Add(1)
		launches = append(launches, launch{task: *task, handle: handle})
	}

	q.scheduling = false
	q.mu.Unlock()

	// Notify before launching so the running event always precedes the
	// completion event of the same task.
	for _, l := range launches {
		q.notify(q.ctx, l.task)
		go q.run(l.task, l.handle)
	}
}

// nextAdmittableLocked scans queued tasks in enqueue order and returns the
// first whose thread key has no running task. Must be called with the
// mutex held.
func (q *Queue) nextAdmittableLocked() *domain.OutboundTask {
	for _, task := range q.tasks {
		if task.Status != domain.TaskStatusQueued {
			continue
		}
		if _, busy := q.activeThreads[task.ThreadKey()]; busy {
			continue
		}
		return task
	}
	return nil
}

// run executes one admitted task and records its completion. It receives
// a copy of the task so the executor can never mutate queue-owned state.
func (q *Queue) run(task domain.OutboundTask, handle *taskHandle) {
	defer q.wg.Done()
	defer close(handle.done)

	// Cooperative cancellation checkpoint: the task may have been
	// cancelled between admission and this goroutine starting.
	if q.statusOf(task.ID) == domain.TaskStatusCancelled {
		q.release(task.ThreadKey())
		q.schedule()
		return
	}

	err := q.executor.Execute(q.ctx, &task)
	q.complete(task.ID, task.ThreadKey(), err)
}

// complete records a finished execution, releases the thread key, and
// re-invokes the scheduling loop. Results for tasks cancelled while in
// flight are discarded: the terminal cancelled state is never overwritten.
func (q *Queue) complete(taskID uuid.UUID, threadKey string, execErr error) {
	q.mu.Lock()

	delete(q.activeThreads, threadKey)

	task := q.findLocked(taskID)
	if task == nil {
		q.mu.Unlock()
		q.logger.Error("completed task missing from queue", "task_id", taskID)
		q.schedule()
		return
	}

	if task.Status == domain.TaskStatusCancelled {
		q.mu.Unlock()
		q.logger.Info("discarding result of cancelled task",
			"task_id", taskID,
			"had_error", execErr != nil)
		q.schedule()
		return
	}

	// A failure caused by queue shutdown is not a real outcome: leave the
	// task persisted as running so the next Load demotes it to queued and
	// the work resumes.
	if q.stopped && execErr != nil && errors.Is(execErr, context.Canceled) {
		q.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	task.CompletedAt = &now
	if execErr != nil {
		task.Status = domain.TaskStatusFailed
		task.Error = execErr.Error()
	} else {
		task.Status = domain.TaskStatusSucceeded
	}
	q.persistLocked(q.ctx)
	finished := *task
	q.mu.Unlock()

	q.notify(q.ctx, finished)

	if execErr != nil {
		q.logger.Error("task execution failed",
			"task_id", taskID,
			"error", execErr)
	} else {
		q.logger.Info("task completed", "task_id", taskID)
	}

	q.schedule()
}

// notify publishes a task's current status to the configured emitter. Must
// be called without the mutex held, with a copy of the task.
func (q *Queue) notify(ctx context.Context, task domain.OutboundTask) {
	if q.config.Events == nil {
		return
	}

	event := events.NewTaskStatusEvent(
		task.ID,
		task.ConversationID,
		string(task.Kind),
		string(task.Status),
		task.Attempt,
		task.Error,
	)
	if err := q.config.Events.EmitEvent(ctx, event); err != nil {
		q.logger.Warn("task status notification failed",
			"task_id", task.ID,
			"error", err)
	}
}

// release frees a thread key without touching task state. Used when a
// launch is abandoned before execution.
func (q *Queue) release(threadKey string) {
	q.mu.Lock()
	delete(q.activeThreads, threadKey)
	q.mu.Unlock()
}

// statusOf returns the current status of the task with the given ID.
func (q *Queue) statusOf(taskID uuid.UUID) domain.TaskStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task := q.findLocked(taskID); task != nil {
		return task.Status
	}
	return ""
}

// findLocked returns the task with the given ID, or nil. Must be called
// with the mutex held.
func (q *Queue) findLocked(taskID uuid.UUID) *domain.OutboundTask {
	for _, task := range q.tasks {
		if task.ID == taskID {
			return task
		}
	}
	return nil
}

// persistLocked serializes the full task list to the snapshot store.
// Persistence failures are logged, not propagated: the in-memory queue
// remains authoritative for the running process, and the next successful
// write repairs the snapshot. Must be called with the mutex held.
func (q *Queue) persistLocked(ctx context.Context) {
	data, err := encodeSnapshot(q.tasks)
	if err != nil {
		q.logger.Error("failed to encode task snapshot", "error", err)
		return
	}

	if err := q.snapshots.SaveSnapshot(ctx, q.config.SnapshotKey, data); err != nil {
		q.logger.Error("failed to persist task snapshot", "error", err)
	}
}

// conversationThreadKey derives the thread key for a conversation ID the
// same way OutboundTask.ThreadKey does.
func conversationThreadKey(conversationID uuid.UUID) string {
	if conversationID == uuid.Nil {
		return domain.GlobalThreadKey
	}
	return conversationID.String()
}
