package outbound

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/relay-api/internal/domain"
)

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	task, err := domain.NewOutboundTask(
		domain.TaskKindSendTextMessage,
		uuid.New(),
		domain.TaskPayload{Text: "hello", AttachmentIDs: []string{"file-1"}},
		"idem-1",
	)
	require.NoError(t, err)

	data, err := encodeSnapshot([]*domain.OutboundTask{task})
	require.NoError(t, err)

	restored, err := decodeSnapshot(data, testLogger())
	require.NoError(t, err)
	require.Len(t, restored, 1)

	assert.Equal(t, task.ID, restored[0].ID)
	assert.Equal(t, task.Kind, restored[0].Kind)
	assert.Equal(t, "hello", restored[0].Payload.Text)
	assert.Equal(t, []string{"file-1"}, restored[0].Payload.AttachmentIDs)
	assert.Equal(t, "idem-1", restored[0].IdempotencyKey)
	assert.Equal(t, domain.TaskStatusQueued, restored[0].Status)
}

func TestDecodeSnapshotDemotesRunningTasks(t *testing.T) {
	t.Parallel()

	task, err := domain.NewOutboundTask(
		domain.TaskKindSaveConversation, uuid.New(), domain.TaskPayload{}, "")
	require.NoError(t, err)

	now := time.Now().UTC()
	task.Status = domain.TaskStatusRunning
	task.StartedAt = &now
	task.Attempt = 2

	data, err := encodeSnapshot([]*domain.OutboundTask{task})
	require.NoError(t, err)

	restored, err := decodeSnapshot(data, testLogger())
	require.NoError(t, err)
	require.Len(t, restored, 1)

	assert.Equal(t, domain.TaskStatusQueued, restored[0].Status)
	assert.Nil(t, restored[0].StartedAt)
	assert.Nil(t, restored[0].CompletedAt)
	assert.Equal(t, 2, restored[0].Attempt, "attempt counter survives the restart")
}

func TestDecodeSnapshotDropsTerminalTasks(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	tasks := make([]*domain.OutboundTask, 0, 4)
	for _, status := range []domain.TaskStatus{
		domain.TaskStatusSucceeded,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled,
	} {
		task, err := domain.NewOutboundTask(
			domain.TaskKindGenerateTitle, uuid.New(), domain.TaskPayload{}, "")
		require.NoError(t, err)
		task.Status = status
		task.CompletedAt = &now
		tasks = append(tasks, task)
	}

	kept, err := domain.NewOutboundTask(
		domain.TaskKindSendTextMessage, uuid.New(), domain.TaskPayload{Text: "hi"}, "")
	require.NoError(t, err)
	tasks = append(tasks, kept)

	data, err := encodeSnapshot(tasks)
	require.NoError(t, err)

	restored, err := decodeSnapshot(data, testLogger())
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, kept.ID, restored[0].ID)
}

func TestDecodeSnapshotSkipsInvalidEntries(t *testing.T) {
	t.Parallel()

	valid, err := domain.NewOutboundTask(
		domain.TaskKindSendTextMessage, uuid.New(), domain.TaskPayload{Text: "hi"}, "")
	require.NoError(t, err)

	validJSON, err := json.Marshal(valid)
	require.NoError(t, err)

	// A task kind introduced by a newer app version must not abort the
	// whole restore.
	blob := []byte(`{"version": 1, "tasks": [` +
		`{"id": "` + uuid.NewString() + `", "kind": "teleport_user", "status": "queued"},` +
		string(validJSON) + `]}`)

	restored, err := decodeSnapshot(blob, testLogger())
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, valid.ID, restored[0].ID)
}

func TestDecodeSnapshotRejectsMalformedBlob(t *testing.T) {
	t.Parallel()

	_, err := decodeSnapshot([]byte(`not json`), testLogger())
	assert.Error(t, err)
}
