package api

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/relay-api/internal/domain"
	"github.com/phrazzld/relay-api/internal/outbound"
	"github.com/phrazzld/relay-api/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memorySnapshots is an in-memory store.SnapshotStore for handler tests.
type memorySnapshots struct {
	mu   sync.Mutex
	blob map[string][]byte
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{blob: make(map[string][]byte)}
}

func (s *memorySnapshots) SaveSnapshot(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.blob[key] = stored
	return nil
}

func (s *memorySnapshots) LoadSnapshot(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blob[key]
	if !ok {
		return nil, store.ErrSnapshotNotFound
	}
	return data, nil
}

// stubExecutor lets tests control task outcomes.
type stubExecutor struct {
	ExecuteFn func(ctx context.Context, task *domain.OutboundTask) error
}

func (e *stubExecutor) Execute(ctx context.Context, task *domain.OutboundTask) error {
	if e.ExecuteFn != nil {
		return e.ExecuteFn(ctx, task)
	}
	return nil
}

// newTestQueue builds a queue backed by in-memory persistence whose tasks
// complete with the given executor behavior.
func newTestQueue(t *testing.T, executor outbound.Executor) *outbound.Queue {
	t.Helper()
	if executor == nil {
		executor = &stubExecutor{}
	}
	queue := outbound.NewQueue(
		newMemorySnapshots(), executor, outbound.DefaultQueueConfig(), testLogger())
	t.Cleanup(queue.Stop)
	return queue
}

// waitForTaskStatus polls the queue until the task reaches the wanted
// status or the deadline passes.
func waitForTaskStatus(
	t *testing.T,
	queue *outbound.Queue,
	taskID uuid.UUID,
	want domain.TaskStatus,
) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := queue.GetTask(taskID)
		return err == nil && task.Status == want
	}, 2*time.Second, 10*time.Millisecond)
}
