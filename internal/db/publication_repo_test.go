package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"linkedai/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- PublicationRepository Tests ---

func TestPublicationRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPublicationRepository(db)

	scheduledFor := time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "pub_1"
			*dest[1].(*string) = "user_1"
			*dest[2].(*string) = "Shipping our Q1 roadmap today."
			*dest[3].(**string) = nil
			*dest[4].(*string) = "urn:li:person:abc"
			*dest[5].(*string) = "cred_1"
			*dest[6].(*types.PublicationStatus) = types.PublicationScheduled
			*dest[7].(**time.Time) = &scheduledFor
			*dest[8].(**time.Time) = nil
			*dest[9].(**string) = nil
			*dest[10].(**string) = nil
			*dest[11].(*time.Time) = now
			*dest[12].(*time.Time) = now
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	pub, err := repo.GetByID(context.Background(), "pub_1")
	require.NoError(t, err)
	assert.Equal(t, "pub_1", pub.ID)
	assert.Equal(t, types.PublicationScheduled, pub.Status)
	require.NotNil(t, pub.ScheduledFor)
	assert.Equal(t, scheduledFor, *pub.ScheduledFor)
	assert.Empty(t, pub.MediaURL)
}

func TestPublicationRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPublicationRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.GetByID(context.Background(), "pub_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPublication, appErr.Code)
}

func TestPublicationRepository_SetScheduled_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPublicationRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.SetScheduled(context.Background(), "pub_1", "user_1",
		time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPublicationRepository_SetScheduled_AlreadyPublished(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPublicationRepository(db)

	// Zero rows: the status guard rejected the transition.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.SetScheduled(context.Background(), "pub_1", "user_1", time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictStatus, appErr.Code)
}

func TestPublicationRepository_CancelToDraft_NotScheduled(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPublicationRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.CancelToDraft(context.Background(), "pub_1", "user_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictStatus, appErr.Code)
}

func TestPublicationRepository_MarkPublished_Applied(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPublicationRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	applied, err := repo.MarkPublished(context.Background(), "pub_1", "urn:li:share:123",
		time.Date(2026, 2, 6, 9, 0, 1, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestPublicationRepository_MarkPublished_AlreadySettled(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPublicationRepository(db)

	// Concurrent actor already moved the row out of 'scheduled'.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	applied, err := repo.MarkPublished(context.Background(), "pub_1", "urn:li:share:123", time.Now())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestPublicationRepository_MarkFailed_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPublicationRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.MarkFailed(context.Background(), "pub_1", "publish rejected")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestPublicationRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPublicationRepository(db)

	scheduledFor := time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC)
	pub := &types.ScheduledPublication{
		ID:           "pub_new",
		UserID:       "user_1",
		Content:      "Draft content",
		AccountURN:   "urn:li:person:abc",
		CredentialID: "cred_1",
		Status:       types.PublicationScheduled,
		ScheduledFor: &scheduledFor,
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), pub)
	require.NoError(t, err)
	db.AssertExpectations(t)
}
