package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"linkedai/internal/types"
)

// SubscriptionRepository manages billing state for the cycle reconciler and
// the Stripe webhook handler.
//
// Key invariants:
//   - UpdateSubscriptionStatus uses optimistic locking via
//     last_subscription_event_at to handle out-of-order Stripe webhooks.
//   - Reconciler mutations (ResetCycle, MarkReminderSent, Downgrade) are
//     conditional UPDATEs so a re-run of the same phase is an idempotent
//     no-op rather than a double application.
type SubscriptionRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed by
// the given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX, logger *slog.Logger) *SubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepository{db: db, logger: logger}
}

const subscriptionColumns = `id, user_id, plan, status,
       posts_used, ai_generations_used, leads_used, predictions_used,
       billing_anniversary_day, current_period_start, current_period_end,
       next_billing_date, payment_reminder_sent, payment_failed_at,
       billing_email, stripe_customer_id, stripe_subscription_id,
       created_at, updated_at`

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var sub types.Subscription
	var stripeCustomerID, stripeSubscriptionID *string

	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Plan,
		&sub.Status,
		&sub.PostsUsed,
		&sub.AIGenerationsUsed,
		&sub.LeadsUsed,
		&sub.PredictionsUsed,
		&sub.BillingAnniversaryDay,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.NextBillingDate,
		&sub.PaymentReminderSent,
		&sub.PaymentFailedAt,
		&sub.BillingEmail,
		&stripeCustomerID,
		&stripeSubscriptionID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if stripeCustomerID != nil {
		sub.StripeCustomerID = *stripeCustomerID
	}
	if stripeSubscriptionID != nil {
		sub.StripeSubscriptionID = *stripeSubscriptionID
	}
	return &sub, nil
}

// GetByUserID fetches the subscription for a user.
func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*types.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = $1`,
		userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch subscription", err)
	}
	return sub, nil
}

// ListDueForReset returns subscriptions whose billing cycle has rolled over
// (next_billing_date has passed), capped at limit, oldest first.
func (r *SubscriptionRepository) ListDueForReset(ctx context.Context, now time.Time, limit int) ([]*types.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = 'active'
		   AND plan <> 'free'
		   AND next_billing_date <= $1
		 ORDER BY next_billing_date
		 LIMIT $2`,
		now, limit)
}

// ListDueForReminder returns active subscriptions whose next billing date
// falls inside (from, to] and which have not been reminded in the current
// cycle. The caller passes a band one run-cadence wide so subscriptions
// entering the window late are not reminded off-schedule.
func (r *SubscriptionRepository) ListDueForReminder(ctx context.Context, from, to time.Time, limit int) ([]*types.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = 'active'
		   AND plan <> 'free'
		   AND payment_reminder_sent = FALSE
		   AND next_billing_date > $1
		   AND next_billing_date <= $2
		 ORDER BY next_billing_date
		 LIMIT $3`,
		from, to, limit)
}

// ListDueForDowngrade returns paid subscriptions whose renewal is strictly
// older than the grace period. A subscription one day into arrears is left
// untouched until the grace window lapses.
func (r *SubscriptionRepository) ListDueForDowngrade(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*types.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status IN ('active', 'past_due')
		   AND plan <> 'free'
		   AND next_billing_date < $1
		 ORDER BY next_billing_date
		 LIMIT $2`,
		now.Add(-grace), limit)
}

func (r *SubscriptionRepository) list(ctx context.Context, sql string, args ...any) ([]*types.Subscription, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query subscriptions", err)
	}
	defer rows.Close()

	var subs []*types.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating subscriptions", err)
	}
	return subs, nil
}

// ResetCycle rolls a subscription into a new billing period: usage counters
// zeroed, reminder flag cleared, period bounds and next billing date advanced.
// The WHERE next_billing_date <= $2 guard makes a duplicate reset attempt
// (reconciler re-run, overlapping invocation) a no-op.
func (r *SubscriptionRepository) ResetCycle(ctx context.Context, subID string, periodStart, periodEnd, nextBilling time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET posts_used = 0,
		     ai_generations_used = 0,
		     leads_used = 0,
		     predictions_used = 0,
		     payment_reminder_sent = FALSE,
		     current_period_start = $2,
		     current_period_end = $3,
		     next_billing_date = $4,
		     updated_at = NOW()
		 WHERE id = $1
		   AND next_billing_date <= $2`,
		subID,
		periodStart,
		periodEnd,
		nextBilling,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset billing cycle", err)
	}
	if tag.RowsAffected() == 0 {
		// Already reset by a concurrent run.
		r.logger.InfoContext(ctx, "cycle reset skipped; period already advanced",
			slog.String("subscription_id", subID),
		)
	}
	return nil
}

// MarkReminderSent flips the reminder flag for the current cycle. Conditional
// on the flag being clear so duplicate reminder runs send nothing twice.
// Returns whether this call won the flip.
func (r *SubscriptionRepository) MarkReminderSent(ctx context.Context, subID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET payment_reminder_sent = TRUE,
		     updated_at = NOW()
		 WHERE id = $1
		   AND payment_reminder_sent = FALSE`,
		subID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark reminder sent", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Downgrade drops a lapsed paid subscription to the free plan in a single
// atomic statement and clears the dunning fields. Returns false when another
// run already downgraded the row or a payment landed in the meantime.
func (r *SubscriptionRepository) Downgrade(ctx context.Context, subID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET plan = 'free',
		     status = 'active',
		     payment_failed_at = NULL,
		     payment_reminder_sent = FALSE,
		     updated_at = NOW()
		 WHERE id = $1
		   AND plan <> 'free'
		   AND status IN ('active', 'past_due')`,
		subID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to downgrade subscription", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementPostsUsed counts a successful publish against the user's cycle
// quota. Called by the publish worker after the publication settles.
func (r *SubscriptionRepository) IncrementPostsUsed(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET posts_used = posts_used + 1,
		     updated_at = NOW()
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment posts used", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// ConfirmPayment clears the dunning state after a successful payment:
// status back to active, payment_failed_at cleared. The billing period roll
// stays with the cycle reset phase so usage counters always reset.
func (r *SubscriptionRepository) ConfirmPayment(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = 'active',
		     payment_failed_at = NULL,
		     updated_at = NOW()
		 WHERE user_id = $1
		   AND status IN ('active', 'past_due')`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to confirm payment", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// UpdateSubscriptionStatus atomically applies a Stripe-driven plan/status
// change. Optimistic locking via last_subscription_event_at rejects stale
// out-of-order webhook events as silent no-ops.
func (r *SubscriptionRepository) UpdateSubscriptionStatus(
	ctx context.Context,
	userID string,
	newPlan types.PlanTier,
	status types.SubscriptionStatus,
	eventTimestamp time.Time,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET plan = $1,
		     status = $2,
		     payment_failed_at = CASE WHEN $2 = 'active' THEN NULL ELSE payment_failed_at END,
		     last_subscription_event_at = $3,
		     updated_at = NOW()
		 WHERE user_id = $4
		   AND (last_subscription_event_at IS NULL OR last_subscription_event_at < $3)`,
		newPlan,
		status,
		eventTimestamp,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}

	if tag.RowsAffected() == 0 {
		// Event is older than or equal to what we already have; idempotent no-op.
		r.logger.InfoContext(ctx, "stale subscription event ignored (optimistic lock)",
			slog.String("user_id", userID),
			slog.Time("event_timestamp", eventTimestamp),
		)
	}
	return nil
}

// UpdatePaymentFailure records the dunning state by setting payment_failed_at
// and moving the subscription to past_due. Called when an
// invoice.payment_failed webhook arrives. The COALESCE keeps the original
// failure time across repeated failure events so the grace period does not
// restart.
func (r *SubscriptionRepository) UpdatePaymentFailure(ctx context.Context, userID string, failedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = 'past_due',
		     payment_failed_at = COALESCE(payment_failed_at, $1),
		     updated_at = NOW()
		 WHERE user_id = $2`,
		failedAt,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update payment failure state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// GetBillingInfo returns the Stripe customer linkage for a user. An empty
// customer ID with a nil error means the user has no Stripe customer yet.
func (r *SubscriptionRepository) GetBillingInfo(ctx context.Context, userID string) (string, string, error) {
	var customerID *string
	var email string
	err := r.db.QueryRow(ctx,
		`SELECT stripe_customer_id, billing_email
		 FROM subscriptions
		 WHERE user_id = $1`,
		userID,
	).Scan(&customerID, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return "", "", types.NewAppError(types.ErrCodeInternalDB, "failed to load billing info", err)
	}
	if customerID == nil {
		return "", email, nil
	}
	return *customerID, email, nil
}

// UpdateStripeCustomerID persists the Stripe customer linkage created on
// first checkout.
func (r *SubscriptionRepository) UpdateStripeCustomerID(ctx context.Context, userID string, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET stripe_customer_id = $1,
		     updated_at = NOW()
		 WHERE user_id = $2`,
		customerID,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to persist stripe customer id", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}
