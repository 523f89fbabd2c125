package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"linkedai/internal/types"
)

func TestAuditRepository_Record_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	meta := json.RawMessage(`{"external_post_id":"urn:li:share:123"}`)
	err := repo.Record(context.Background(), "user_1", types.AuditPublicationPublished, "pub_1", meta)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAuditRepository_Record_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Record(context.Background(), "user_1", types.AuditCycleReset, "sub_1", nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestAuditRepository_ListByUser(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)

	created := time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)
	rows := newMockRows(func(dest ...any) error {
		*dest[0].(*string) = "audit_1"
		*dest[1].(*string) = "user_1"
		*dest[2].(*types.AuditAction) = types.AuditPublicationScheduled
		*dest[3].(*string) = "pub_1"
		*dest[4].(*json.RawMessage) = nil
		*dest[5].(*time.Time) = created
		return nil
	})

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	entries, err := repo.ListByUser(context.Background(), "user_1", 20)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.AuditPublicationScheduled, entries[0].Action)
	assert.Equal(t, "pub_1", entries[0].TargetID)
}
