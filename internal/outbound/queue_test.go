package outbound

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/events"
	"github.com/phrazzld/relay-api/internal/store"
)

// memorySnapshotStore is an in-memory store.SnapshotStore for tests.
type memorySnapshotStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{data: make(map[string][]byte)}
}

func (s *memorySnapshotStore) SaveSnapshot(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	s.saves++
	return nil
}

func (s *memorySnapshotStore) LoadSnapshot(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, store.ErrSnapshotNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memorySnapshotStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// mockExecutor delegates to an overridable function, succeeding by
// default.
type mockExecutor struct {
	ExecuteFn func(ctx context.Context, task *domain.OutboundTask) error
}

func (m *mockExecutor) Execute(ctx context.Context, task *domain.OutboundTask) error {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, task)
	}
	return nil
}

// blockingExecutor reports each started task on a channel and blocks until
// the test releases it with a result.
type blockingExecutor struct {
	started chan uuid.UUID
	release chan error
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		started: make(chan uuid.UUID, 16),
		release: make(chan error, 16),
	}
}

func (e *blockingExecutor) Execute(ctx context.Context, task *domain.OutboundTask) error {
	e.started <- task.ID
	select {
	case err := <-e.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *blockingExecutor) waitStarted(t *testing.T) uuid.UUID {
	t.Helper()
	select {
	case id := <-e.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a task to start")
		return uuid.Nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForStatus(t *testing.T, q *Queue, taskID uuid.UUID, want domain.TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := q.GetTask(taskID)
		return err == nil && task.Status == want
	}, 2*time.Second, 10*time.Millisecond, "task never reached status %s", want)
}

func TestQueueExecutesEnqueuedTask(t *testing.T) {
	t.Parallel()

	snapshots := newMemorySnapshotStore()
	var executed []domain.TaskKind
	var mu sync.Mutex
	executor := &mockExecutor{
		ExecuteFn: func(_ context.Context, task *domain.OutboundTask) error {
			mu.Lock()
			executed = append(executed, task.Kind)
			mu.Unlock()
			return nil
		},
	}

	q := NewQueue(snapshots, executor, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	taskID, err := q.EnqueueSendText(context.Background(), uuid.New(), "hello", nil, nil, "")
	require.NoError(t, err)

	waitForStatus(t, q, taskID, domain.TaskStatusSucceeded)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.TaskKind{domain.TaskKindSendTextMessage}, executed)

	task, err := q.GetTask(taskID)
	require.NoError(t, err)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.CompletedAt)
	assert.Empty(t, task.Error)
}

func TestQueueFailureRecordsError(t *testing.T) {
	t.Parallel()

	executor := &mockExecutor{
		ExecuteFn: func(_ context.Context, _ *domain.OutboundTask) error {
			return fmt.Errorf("upstream unavailable")
		},
	}

	q := NewQueue(newMemorySnapshotStore(), executor, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	taskID, err := q.EnqueueSendText(context.Background(), uuid.New(), "hello", nil, nil, "")
	require.NoError(t, err)

	waitForStatus(t, q, taskID, domain.TaskStatusFailed)

	task, err := q.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, "upstream unavailable", task.Error)
	assert.NotNil(t, task.CompletedAt)
}

func TestQueueSerializesTasksPerConversation(t *testing.T) {
	t.Parallel()

	executor := newBlockingExecutor()
	q := NewQueue(newMemorySnapshotStore(), executor, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	conversationID := uuid.New()
	ctx := context.Background()

	first, err := q.EnqueueSendText(ctx, conversationID, "first", nil, nil, "")
	require.NoError(t, err)
	second, err := q.EnqueueSendText(ctx, conversationID, "second", nil, nil, "")
	require.NoError(t, err)

	assert.Equal(t, first, executor.waitStarted(t))

	// The second task shares the conversation's thread key and must wait
	// even though global capacity remains.
	waitForStatus(t, q, first, domain.TaskStatusRunning)
	secondTask, err := q.GetTask(second)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, secondTask.Status)
	assert.Equal(t, 1, q.RunningCount())

	executor.release <- nil
	waitForStatus(t, q, first, domain.TaskStatusSucceeded)

	assert.Equal(t, second, executor.waitStarted(t))
	executor.release <- nil
	waitForStatus(t, q, second, domain.TaskStatusSucceeded)
}

func TestQueueBoundsGlobalParallelism(t *testing.T) {
	t.Parallel()

	executor := newBlockingExecutor()
	config := QueueConfig{MaxParallel: 2}
	q := NewQueue(newMemorySnapshotStore(), executor, config, testLogger())
	defer q.Stop()

	ctx := context.Background()
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		id, err := q.EnqueueSendText(ctx, uuid.New(), "msg", nil, nil, "")
		require.NoError(t, err)
		ids[i] = id
	}

	executor.waitStarted(t)
	executor.waitStarted(t)

	assert.Equal(t, 2, q.RunningCount())
	third, err := q.GetTask(ids[2])
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, third.Status)

	executor.release <- nil
	assert.Equal(t, ids[2], executor.waitStarted(t))

	executor.release <- nil
	executor.release <- nil
	for _, id := range ids {
		waitForStatus(t, q, id, domain.TaskStatusSucceeded)
	}
}

func TestQueueAdmissionSkipsBusyThread(t *testing.T) {
	t.Parallel()

	executor := newBlockingExecutor()
	config := QueueConfig{MaxParallel: 2}
	q := NewQueue(newMemorySnapshotStore(), executor, config, testLogger())
	defer q.Stop()

	ctx := context.Background()
	conversationA := uuid.New()
	conversationB := uuid.New()

	firstA, err := q.EnqueueSendText(ctx, conversationA, "a1", nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, firstA, executor.waitStarted(t))

	// a2 is older than b1 but its thread is busy, so b1 is admitted first.
	secondA, err := q.EnqueueSendText(ctx, conversationA, "a2", nil, nil, "")
	require.NoError(t, err)
	firstB, err := q.EnqueueSendText(ctx, conversationB, "b1", nil, nil, "")
	require.NoError(t, err)

	assert.Equal(t, firstB, executor.waitStarted(t))

	executor.release <- nil
	executor.release <- nil
	assert.Equal(t, secondA, executor.waitStarted(t))
	executor.release <- nil

	for _, id := range []uuid.UUID{firstA, secondA, firstB} {
		waitForStatus(t, q, id, domain.TaskStatusSucceeded)
	}
}

func TestQueueCancelQueuedTask(t *testing.T) {
	t.Parallel()

	executor := newBlockingExecutor()
	q := NewQueue(newMemorySnapshotStore(), executor, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	conversationID := uuid.New()
	ctx := context.Background()

	running, err := q.EnqueueSendText(ctx, conversationID, "first", nil, nil, "")
	require.NoError(t, err)
	queued, err := q.EnqueueSendText(ctx, conversationID, "second", nil, nil, "")
	require.NoError(t, err)

	executor.waitStarted(t)

	require.NoError(t, q.Cancel(ctx, queued))
	waitForStatus(t, q, queued, domain.TaskStatusCancelled)

	executor.release <- nil
	waitForStatus(t, q, running, domain.TaskStatusSucceeded)

	// The cancelled task was never handed to the executor.
	select {
	case id := <-executor.started:
		t.Fatalf("cancelled task %s was executed", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueueCancelRunningTaskDiscardsResult(t *testing.T) {
	t.Parallel()

	executor := newBlockingExecutor()
	q := NewQueue(newMemorySnapshotStore(), executor, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	ctx := context.Background()
	conversationID := uuid.New()

	first, err := q.EnqueueSendText(ctx, conversationID, "first", nil, nil, "")
	require.NoError(t, err)
	executor.waitStarted(t)

	require.NoError(t, q.Cancel(ctx, first))
	waitForStatus(t, q, first, domain.TaskStatusCancelled)

	// The in-flight call finishes successfully, but the cancelled state
	// must not be overwritten and the thread key must be freed.
	executor.release <- nil

	second, err := q.EnqueueSendText(ctx, conversationID, "second", nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, second, executor.waitStarted(t))
	executor.release <- nil
	waitForStatus(t, q, second, domain.TaskStatusSucceeded)

	task, err := q.GetTask(first)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)
}

func TestQueueCancelEdgeCases(t *testing.T) {
	t.Parallel()

	q := NewQueue(newMemorySnapshotStore(), &mockExecutor{}, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	ctx := context.Background()

	t.Run("unknown task", func(t *testing.T) {
		err := q.Cancel(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("terminal task is a no-op", func(t *testing.T) {
		taskID, err := q.EnqueueSendText(ctx, uuid.New(), "hello", nil, nil, "")
		require.NoError(t, err)
		waitForStatus(t, q, taskID, domain.TaskStatusSucceeded)

		require.NoError(t, q.Cancel(ctx, taskID))

		task, err := q.GetTask(taskID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusSucceeded, task.Status)
	})
}

func TestQueueCancelByConversation(t *testing.T) {
	t.Parallel()

	executor := newBlockingExecutor()
	q := NewQueue(newMemorySnapshotStore(), executor, QueueConfig{MaxParallel: 1}, testLogger())
	defer q.Stop()

	ctx := context.Background()
	target := uuid.New()
	other := uuid.New()

	running, err := q.EnqueueSendText(ctx, target, "t1", nil, nil, "")
	require.NoError(t, err)
	queued, err := q.EnqueueSendText(ctx, target, "t2", nil, nil, "")
	require.NoError(t, err)
	unrelated, err := q.EnqueueSendText(ctx, other, "o1", nil, nil, "")
	require.NoError(t, err)

	executor.waitStarted(t)

	assert.Equal(t, 2, q.CancelByConversation(ctx, target))
	waitForStatus(t, q, running, domain.TaskStatusCancelled)
	waitForStatus(t, q, queued, domain.TaskStatusCancelled)

	executor.release <- nil
	assert.Equal(t, unrelated, executor.waitStarted(t))
	executor.release <- nil
	waitForStatus(t, q, unrelated, domain.TaskStatusSucceeded)

	assert.Equal(t, 0, q.CancelByConversation(ctx, target))
}

func TestQueueRetry(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	executor := &mockExecutor{
		ExecuteFn: func(_ context.Context, _ *domain.OutboundTask) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return fmt.Errorf("transient failure")
			}
			return nil
		},
	}

	q := NewQueue(newMemorySnapshotStore(), executor, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	ctx := context.Background()
	taskID, err := q.EnqueueSendText(ctx, uuid.New(), "hello", nil, nil, "")
	require.NoError(t, err)

	waitForStatus(t, q, taskID, domain.TaskStatusFailed)

	require.NoError(t, q.Retry(ctx, taskID))
	waitForStatus(t, q, taskID, domain.TaskStatusSucceeded)

	task, err := q.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attempt)
	assert.Empty(t, task.Error)

	t.Run("only failed tasks are retryable", func(t *testing.T) {
		err := q.Retry(ctx, taskID)
		assert.ErrorIs(t, err, ErrTaskNotRetryable)
	})

	t.Run("unknown task", func(t *testing.T) {
		err := q.Retry(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestQueuePersistsEveryMutation(t *testing.T) {
	t.Parallel()

	snapshots := newMemorySnapshotStore()
	q := NewQueue(snapshots, &mockExecutor{}, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	ctx := context.Background()
	taskID, err := q.EnqueueSendText(ctx, uuid.New(), "hello", nil, nil, "")
	require.NoError(t, err)
	waitForStatus(t, q, taskID, domain.TaskStatusSucceeded)

	// At minimum: enqueue, admit, complete.
	assert.GreaterOrEqual(t, snapshots.saveCount(), 3)

	data, err := snapshots.LoadSnapshot(ctx, DefaultSnapshotKey)
	require.NoError(t, err)
	assert.Contains(t, string(data), taskID.String())
	assert.Contains(t, string(data), string(domain.TaskStatusSucceeded))
}

func TestQueueLoadRestoresSnapshot(t *testing.T) {
	t.Parallel()

	conversationID := uuid.New()
	queuedTask, err := domain.NewOutboundTask(
		domain.TaskKindSendTextMessage, conversationID, domain.TaskPayload{Text: "queued"}, "")
	require.NoError(t, err)

	runningTask, err := domain.NewOutboundTask(
		domain.TaskKindSaveConversation, conversationID, domain.TaskPayload{}, "")
	require.NoError(t, err)
	now := time.Now().UTC()
	runningTask.Status = domain.TaskStatusRunning
	runningTask.StartedAt = &now

	doneTask, err := domain.NewOutboundTask(
		domain.TaskKindGenerateTitle, conversationID, domain.TaskPayload{}, "")
	require.NoError(t, err)
	doneTask.Status = domain.TaskStatusSucceeded
	doneTask.CompletedAt = &now

	data, err := encodeSnapshot([]*domain.OutboundTask{queuedTask, runningTask, doneTask})
	require.NoError(t, err)

	snapshots := newMemorySnapshotStore()
	require.NoError(t, snapshots.SaveSnapshot(context.Background(), DefaultSnapshotKey, data))

	executor := newBlockingExecutor()
	q := NewQueue(snapshots, executor, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	require.NoError(t, q.Load(context.Background()))

	tasks := q.Tasks()
	require.Len(t, tasks, 2, "terminal tasks are dropped on restore")

	// The first enqueued task is admitted; the second shares the thread
	// key and waits. The formerly running task was demoted to queued.
	assert.Equal(t, queuedTask.ID, executor.waitStarted(t))

	restored, err := q.GetTask(runningTask.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, restored.Status)
	assert.Nil(t, restored.StartedAt)

	executor.release <- nil
	assert.Equal(t, runningTask.ID, executor.waitStarted(t))
	executor.release <- nil

	waitForStatus(t, q, queuedTask.ID, domain.TaskStatusSucceeded)
	waitForStatus(t, q, runningTask.ID, domain.TaskStatusSucceeded)
}

func TestQueueLoadWithoutSnapshot(t *testing.T) {
	t.Parallel()

	q := NewQueue(newMemorySnapshotStore(), &mockExecutor{}, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	require.NoError(t, q.Load(context.Background()))
	assert.Empty(t, q.Tasks())
}

func TestQueueRejectsEnqueueAfterStop(t *testing.T) {
	t.Parallel()

	q := NewQueue(newMemorySnapshotStore(), &mockExecutor{}, DefaultQueueConfig(), testLogger())
	q.Stop()

	_, err := q.EnqueueSendText(context.Background(), uuid.New(), "hello", nil, nil, "")
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestQueueGenerateTitleRequiresConversation(t *testing.T) {
	t.Parallel()

	q := NewQueue(newMemorySnapshotStore(), &mockExecutor{}, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	_, err := q.EnqueueGenerateTitle(context.Background(), uuid.Nil, "")
	assert.ErrorIs(t, err, ErrMissingConversation)
}

func TestQueueTasksWithoutConversationShareGlobalThread(t *testing.T) {
	t.Parallel()

	executor := newBlockingExecutor()
	q := NewQueue(newMemorySnapshotStore(), executor, DefaultQueueConfig(), testLogger())
	defer q.Stop()

	ctx := context.Background()
	first, err := q.EnqueueGenerateImage(ctx, uuid.Nil, "a red fox", "")
	require.NoError(t, err)
	second, err := q.EnqueueGenerateImage(ctx, uuid.Nil, "a blue fox", "")
	require.NoError(t, err)

	assert.Equal(t, first, executor.waitStarted(t))
	assert.Equal(t, 1, q.RunningCount())

	executor.release <- nil
	assert.Equal(t, second, executor.waitStarted(t))
	executor.release <- nil

	waitForStatus(t, q, first, domain.TaskStatusSucceeded)
	waitForStatus(t, q, second, domain.TaskStatusSucceeded)
}

// recordingEmitter captures emitted status events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.TaskStatusEvent
}

func (r *recordingEmitter) EmitEvent(_ context.Context, event *events.TaskStatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Status)
	}
	return out
}

func TestQueueEmitsStatusEvents(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	config := DefaultQueueConfig()
	config.Events = emitter

	q := NewQueue(newMemorySnapshotStore(), &mockExecutor{}, config, testLogger())
	defer q.Stop()

	conversationID := uuid.New()
	taskID, err := q.EnqueueSendText(context.Background(), conversationID, "hello", nil, nil, "")
	require.NoError(t, err)

	waitForStatus(t, q, taskID, domain.TaskStatusSucceeded)

	require.Eventually(t, func() bool {
		return len(emitter.statuses()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"queued", "running", "succeeded"}, emitter.statuses())

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	for _, event := range emitter.events {
		assert.Equal(t, taskID, event.TaskID)
		assert.Equal(t, conversationID, event.ConversationID)
		assert.Equal(t, string(domain.TaskKindSendTextMessage), event.Kind)
	}
}

func TestQueueEmitsFailureEvent(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	config := DefaultQueueConfig()
	config.Events = emitter

	executor := &mockExecutor{
		ExecuteFn: func(context.Context, *domain.OutboundTask) error {
			return fmt.Errorf("upstream unavailable")
		},
	}
	q := NewQueue(newMemorySnapshotStore(), executor, config, testLogger())
	defer q.Stop()

	taskID, err := q.EnqueueGenerateImage(context.Background(), uuid.New(), "a fox", "")
	require.NoError(t, err)

	waitForStatus(t, q, taskID, domain.TaskStatusFailed)

	require.Eventually(t, func() bool {
		statuses := emitter.statuses()
		return len(statuses) > 0 && statuses[len(statuses)-1] == "failed"
	}, 2*time.Second, 10*time.Millisecond)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	last := emitter.events[len(emitter.events)-1]
	assert.Equal(t, "upstream unavailable", last.Error)
}
