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

// subRow builds a scan function for a subscription fixture in
// subscriptionColumns order.
func subRow(id string, plan types.PlanTier, status types.SubscriptionStatus, nextBilling time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "user_" + id
		*dest[2].(*types.PlanTier) = plan
		*dest[3].(*types.SubscriptionStatus) = status
		*dest[4].(*int) = 5
		*dest[5].(*int) = 12
		*dest[6].(*int) = 0
		*dest[7].(*int) = 2
		*dest[8].(*int) = 15
		*dest[9].(*time.Time) = nextBilling.AddDate(0, -1, 0)
		*dest[10].(*time.Time) = nextBilling
		*dest[11].(*time.Time) = nextBilling
		*dest[12].(*bool) = false
		*dest[13].(**time.Time) = nil
		*dest[14].(*string) = "billing@example.com"
		*dest[15].(**string) = nil
		*dest[16].(**string) = nil
		*dest[17].(*time.Time) = nextBilling.AddDate(0, -6, 0)
		*dest[18].(*time.Time) = nextBilling.AddDate(0, -1, 0)
		return nil
	}
}

func TestSubscriptionRepository_ListDueForReset(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	nextBilling := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	rows := newMockRows(
		subRow("sub_1", types.PlanPro, types.SubStatusActive, nextBilling),
		subRow("sub_2", types.PlanStarter, types.SubStatusPastDue, nextBilling),
	)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	subs, err := repo.ListDueForReset(context.Background(), nextBilling.Add(time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "sub_1", subs[0].ID)
	assert.Equal(t, types.PlanPro, subs[0].Plan)
	assert.Equal(t, 5, subs[0].PostsUsed)
	assert.Equal(t, 15, subs[0].BillingAnniversaryDay)
}

func TestSubscriptionRepository_ResetCycle_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	start := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	err := repo.ResetCycle(context.Background(), "sub_1",
		start, start.AddDate(0, 1, 0), start.AddDate(0, 1, 0))
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_ResetCycle_AlreadyAdvanced(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	// A concurrent run already advanced the period; no-op, no error.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	start := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	err := repo.ResetCycle(context.Background(), "sub_1",
		start, start.AddDate(0, 1, 0), start.AddDate(0, 1, 0))
	require.NoError(t, err)
}

func TestSubscriptionRepository_MarkReminderSent_WinsFlip(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	sent, err := repo.MarkReminderSent(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestSubscriptionRepository_MarkReminderSent_AlreadySent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	sent, err := repo.MarkReminderSent(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestSubscriptionRepository_Downgrade_AlreadyFree(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	// Subscription recovered (paid) between listing and downgrade.
	applied, err := repo.Downgrade(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSubscriptionRepository_UpdateSubscriptionStatus_StaleEvent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	// Zero rows: optimistic lock rejected the out-of-order webhook.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	staleEventTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := repo.UpdateSubscriptionStatus(context.Background(), "user_1",
		types.PlanStarter, types.SubStatusActive, staleEventTime)
	// Stale events are silently ignored (idempotent no-op).
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_UpdatePaymentFailure_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdatePaymentFailure(context.Background(), "user_ghost", time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
}

func TestSubscriptionRepository_IncrementPostsUsed_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("timeout"))

	err := repo.IncrementPostsUsed(context.Background(), "user_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestSubscriptionRepository_ConfirmPayment_ClearsDunning(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.ConfirmPayment(context.Background(), "user_1")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_ConfirmPayment_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.ConfirmPayment(context.Background(), "user_ghost")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundSubscription))
}

func TestSubscriptionRepository_GetBillingInfo_NoCustomerYet(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(**string) = nil
			*dest[1].(*string) = "billing@example.com"
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	customerID, email, err := repo.GetBillingInfo(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Empty(t, customerID)
	assert.Equal(t, "billing@example.com", email)
}

func TestSubscriptionRepository_UpdateStripeCustomerID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateStripeCustomerID(context.Background(), "user_1", "cus_42")
	require.NoError(t, err)
	db.AssertExpectations(t)
}
