package outbound

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/relay-api/internal/domain"
)

// DefaultSnapshotKey is the fixed storage key under which the queue
// persists its serialized task list.
const DefaultSnapshotKey = "outbound_tasks"

// snapshotVersion is written into every snapshot so future versions can
// migrate old blobs if the shape ever changes.
const snapshotVersion = 1

// snapshot is the JSON shape persisted to the snapshot store. Decoding
// tolerates unknown fields so snapshots written by newer app versions
// still load.
type snapshot struct {
	Version int                    `json:"version"`
	Tasks   []*domain.OutboundTask `json:"tasks"`
}

// encodeSnapshot serializes the full task list.
func encodeSnapshot(tasks []*domain.OutboundTask) ([]byte, error) {
	data, err := json.Marshal(snapshot{
		Version: snapshotVersion,
		Tasks:   tasks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot deserializes a snapshot and applies the restore rules:
// only non-terminal tasks are kept, any task that was running when the
// snapshot was written is demoted to queued (no execution survives a
// restart), and its execution timestamps are cleared. Entries that fail
// validation are skipped with a warning rather than aborting the load.
func decodeSnapshot(data []byte, logger *slog.Logger) ([]*domain.OutboundTask, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode task snapshot: %w", err)
	}

	restored := make([]*domain.OutboundTask, 0, len(snap.Tasks))
	for _, task := range snap.Tasks {
		if task == nil {
			continue
		}

		if err := task.Validate(); err != nil {
			logger.Warn("skipping invalid task in snapshot",
				"task_id", task.ID,
				"task_kind", task.Kind,
				"error", err)
			continue
		}

		if task.Terminal() {
			continue
		}

		if task.Status == domain.TaskStatusRunning {
			task.Status = domain.TaskStatusQueued
			task.StartedAt = nil
			task.CompletedAt = nil
		}

		restored = append(restored, task)
	}

	return restored, nil
}
