package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/relay-api/internal/platform/postgres"
	"github.com/phrazzld/relay-api/internal/store"
)

func newPgError(code, constraint string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "constraint violated",
		SchemaName:     "public",
		ConstraintName: constraint,
	}
}

// fakeResult implements sql.Result for CheckRowsAffected tests.
type fakeResult struct {
	rowsAffected int64
	err          error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }

func (r fakeResult) RowsAffected() (int64, error) {
	return r.rowsAffected, r.err
}

func TestViolationPredicates(t *testing.T) {
	t.Parallel()

	uniqueErr := newPgError("23505", "attachments_file_path_key")
	fkErr := newPgError("23503", "messages_conversation_id_fkey")
	checkErr := newPgError("23514", "messages_role_check")
	notNullErr := newPgError("23502", "")
	plainErr := errors.New("connection reset")

	tests := []struct {
		name      string
		predicate func(error) bool
		match     error
	}{
		{"unique violation", postgres.IsUniqueViolation, uniqueErr},
		{"foreign key violation", postgres.IsForeignKeyViolation, fkErr},
		{"check constraint violation", postgres.IsCheckConstraintViolation, checkErr},
		{"not null violation", postgres.IsNotNullViolation, notNullErr},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.True(t, tc.predicate(tc.match))
			assert.True(t, tc.predicate(fmt.Errorf("insert failed: %w", tc.match)))
			assert.False(t, tc.predicate(plainErr))
			assert.False(t, tc.predicate(nil))

			// Each predicate matches only its own code
			for _, other := range tests {
				if other.name != tc.name {
					assert.False(t, tc.predicate(other.match))
				}
			}
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	assert.True(t, postgres.IsNotFoundError(sql.ErrNoRows))
	assert.True(t, postgres.IsNotFoundError(store.ErrNotFound))
	assert.True(t, postgres.IsNotFoundError(store.ErrConversationNotFound))
	assert.True(t, postgres.IsNotFoundError(fmt.Errorf("lookup: %w", sql.ErrNoRows)))
	assert.False(t, postgres.IsNotFoundError(errors.New("boom")))
	assert.False(t, postgres.IsNotFoundError(nil))
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      error
		wantIs  error
		wantNil bool
	}{
		{
			name:    "nil stays nil",
			in:      nil,
			wantNil: true,
		},
		{
			name:   "no rows maps to not found",
			in:     sql.ErrNoRows,
			wantIs: store.ErrNotFound,
		},
		{
			name:   "unique violation maps to duplicate",
			in:     newPgError("23505", "attachments_file_path_key"),
			wantIs: store.ErrDuplicate,
		},
		{
			name:   "foreign key violation maps to invalid entity",
			in:     newPgError("23503", "messages_conversation_id_fkey"),
			wantIs: store.ErrInvalidEntity,
		},
		{
			name:   "check violation maps to invalid entity",
			in:     newPgError("23514", "messages_role_check"),
			wantIs: store.ErrInvalidEntity,
		},
		{
			name:   "not null violation maps to invalid entity",
			in:     newPgError("23502", ""),
			wantIs: store.ErrInvalidEntity,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := postgres.MapError(tc.in)
			if tc.wantNil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.wantIs)
		})
	}

	t.Run("unmapped errors pass through", func(t *testing.T) {
		t.Parallel()

		plain := errors.New("connection reset")
		assert.Equal(t, plain, postgres.MapError(plain))
	})
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	t.Run("nil result", func(t *testing.T) {
		assert.Error(t, postgres.CheckRowsAffected(nil, "conversation"))
	})

	t.Run("zero rows without entity name", func(t *testing.T) {
		err := postgres.CheckRowsAffected(fakeResult{rowsAffected: 0}, "")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("zero rows names the entity", func(t *testing.T) {
		err := postgres.CheckRowsAffected(fakeResult{rowsAffected: 0}, "conversation")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Contains(t, err.Error(), "conversation not found")
	})

	t.Run("affected rows pass", func(t *testing.T) {
		assert.NoError(t, postgres.CheckRowsAffected(fakeResult{rowsAffected: 1}, "attachment"))
	})

	t.Run("rows affected error surfaces", func(t *testing.T) {
		err := postgres.CheckRowsAffected(fakeResult{err: errors.New("driver gone")}, "")
		assert.ErrorContains(t, err, "failed to get rows affected")
	})
}

func TestMapUniqueViolation(t *testing.T) {
	t.Parallel()

	uniqueErr := newPgError("23505", "attachments_file_path_key")

	t.Run("non-violations pass through", func(t *testing.T) {
		plain := errors.New("connection reset")
		assert.Equal(t, plain, postgres.MapUniqueViolation(plain, "Attachment", "", nil))
	})

	t.Run("specific error wins", func(t *testing.T) {
		specific := errors.New("attachment for this path already registered")
		got := postgres.MapUniqueViolation(uniqueErr, "Attachment", "attachments_file_path_key", specific)
		assert.ErrorIs(t, got, specific)
	})

	t.Run("entity name message", func(t *testing.T) {
		got := postgres.MapUniqueViolation(uniqueErr, "Attachment", "", nil)
		assert.ErrorIs(t, got, store.ErrDuplicate)
		assert.Contains(t, got.Error(), "Attachment already exists")
	})

	t.Run("constraint name message", func(t *testing.T) {
		got := postgres.MapUniqueViolation(uniqueErr, "", "attachments_file_path_key", nil)
		assert.ErrorIs(t, got, store.ErrDuplicate)
		assert.Contains(t, got.Error(), "duplicate value for constraint: attachments_file_path_key")
	})

	t.Run("fallback message", func(t *testing.T) {
		got := postgres.MapUniqueViolation(uniqueErr, "", "", nil)
		assert.ErrorIs(t, got, store.ErrDuplicate)
		assert.Contains(t, got.Error(), "duplicate entry")
	})
}
