package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/relay-api/internal/platform/logger"
	"github.com/phrazzld/relay-api/internal/store"
)

// PostgresSnapshotStore implements the store.SnapshotStore interface
// using a PostgreSQL database as the storage backend. Each snapshot is a
// single row keyed by name; the task queue overwrites it on every mutation.
type PostgresSnapshotStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSnapshotStore creates a new PostgreSQL implementation of the
// SnapshotStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresSnapshotStore(db store.DBTX, logger *slog.Logger) *PostgresSnapshotStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSnapshotStore{
		db:     db,
		logger: logger.With(slog.String("component", "snapshot_store")),
	}
}

// Ensure PostgresSnapshotStore implements store.SnapshotStore interface
var _ store.SnapshotStore = (*PostgresSnapshotStore)(nil)

// SaveSnapshot implements store.SnapshotStore.SaveSnapshot.
// It upserts the blob under the given key so the row always reflects the
// most recent queue state.
func (s *PostgresSnapshotStore) SaveSnapshot(ctx context.Context, key string, data []byte) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO task_snapshots (key, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, key, data, time.Now().UTC())
	if err != nil {
		log.Error("failed to save task snapshot",
			slog.String("key", key),
			slog.Int("size_bytes", len(data)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to save task snapshot: %w", MapError(err))
	}

	return nil
}

// LoadSnapshot implements store.SnapshotStore.LoadSnapshot.
// Returns store.ErrSnapshotNotFound when no snapshot has been saved yet.
func (s *PostgresSnapshotStore) LoadSnapshot(ctx context.Context, key string) ([]byte, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT data FROM task_snapshots WHERE key = $1`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSnapshotNotFound
		}
		log.Error("failed to load task snapshot",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to load task snapshot: %w", MapError(err))
	}

	return data, nil
}
