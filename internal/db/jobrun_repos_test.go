package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"linkedai/internal/types"
)

// --- JobLockRepository Tests ---

func TestJobLockRepository_Acquire_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(context.Background(), "cycle_reconcile:2026-08-30T03", "worker_1", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

func TestJobLockRepository_Acquire_HeldByOther(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)

	// Zero rows: lock exists and has not expired.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	acquired, err := repo.Acquire(context.Background(), "sweep:2026-08-30T03", "worker_2", 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestJobLockRepository_Acquire_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.Acquire(context.Background(), "sweep:2026-08-30T03", "worker_1", time.Minute)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

// --- JobHistoryRepository Tests ---

func TestJobHistoryRepository_Start_ReturnsID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 42
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	id, err := repo.Start(context.Background(), "cycle_reconcile")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestJobHistoryRepository_Finish_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Finish(context.Background(), 42, "success", 17, nil)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Finish_MissingEntry(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Finish(context.Background(), 99, "failed", 0, errors.New("boom"))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalUnexpected, appErr.Code)
}
