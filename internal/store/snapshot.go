package store

import "context"

// SnapshotStore persists the outbound task queue's serialized state as an
// opaque blob under a fixed string key. The queue writes the full snapshot
// on every mutation and reads it back once at construction, so the
// interface is deliberately a plain durable key-value pair rather than a
// row-per-task table: the queue owns the schema of the blob.
type SnapshotStore interface {
	// SaveSnapshot durably stores data under the given key, replacing any
	// previous value.
	SaveSnapshot(ctx context.Context, key string, data []byte) error

	// LoadSnapshot returns the data stored under the given key.
	// Returns ErrSnapshotNotFound if nothing has been stored yet.
	LoadSnapshot(ctx context.Context, key string) ([]byte, error)
}
