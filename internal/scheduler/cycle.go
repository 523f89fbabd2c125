package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"linkedai/internal/billing"
	"linkedai/internal/external"
	"linkedai/internal/metrics"
	"linkedai/internal/types"
)

const (
	// defaultCycleBatch bounds one list query; the reconciler keeps pulling
	// batches until a pass makes no progress.
	defaultCycleBatch = 50

	// reminderWindow is how far ahead of next_billing_date the payment
	// reminder goes out.
	reminderWindow = 72 * time.Hour

	// reminderCadence matches the daily schedule: each run picks up only the
	// subscriptions that crossed the three-day mark since the previous run,
	// so a subscription created inside the window is never reminded
	// off-schedule.
	reminderCadence = 24 * time.Hour

	// downgradeGrace is how long past next_billing_date a subscription may
	// sit before it drops to the free plan.
	downgradeGrace = 72 * time.Hour
)

// SubscriptionCycleStore is the subscription repository surface the
// reconciler runs against.
type SubscriptionCycleStore interface {
	ListDueForReset(ctx context.Context, now time.Time, limit int) ([]*types.Subscription, error)
	ResetCycle(ctx context.Context, subID string, periodStart, periodEnd, nextBilling time.Time) error
	ListDueForReminder(ctx context.Context, from, to time.Time, limit int) ([]*types.Subscription, error)
	MarkReminderSent(ctx context.Context, subID string) (bool, error)
	ListDueForDowngrade(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*types.Subscription, error)
	Downgrade(ctx context.Context, subID string) (bool, error)
}

// ConnectedAccountStore trims a user's connected LinkedIn accounts down to a
// plan's cap.
type ConnectedAccountStore interface {
	DeactivateBeyondCap(ctx context.Context, userID string, keep int) (int, error)
}

// Reconciler runs the daily billing-cycle pass: resetting usage counters on
// rolled-over periods, sending payment reminders three days out, and
// downgrading subscriptions whose grace period has lapsed. Each phase
// processes its matches independently; one bad subscription never blocks the
// rest of the batch.
type Reconciler struct {
	subs     SubscriptionCycleStore
	email    external.EmailProvider
	billing  external.BillingService
	accounts ConnectedAccountStore
	plans    billing.PlanRegistry
	audit    AuditRecorder
	metrics  metrics.EngineMetrics
	from     types.SenderIdentity
	logger   *slog.Logger
	now      func() time.Time
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerClock overrides the clock, for tests.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithBillingService lets the downgrade phase cancel the provider
// subscription. Without it the downgrade is local only.
func WithBillingService(svc external.BillingService) ReconcilerOption {
	return func(r *Reconciler) { r.billing = svc }
}

// WithConnectedAccounts lets the downgrade phase revoke credentials beyond
// the free tier's connected-account cap.
func WithConnectedAccounts(accounts ConnectedAccountStore, plans billing.PlanRegistry) ReconcilerOption {
	return func(r *Reconciler) {
		r.accounts = accounts
		r.plans = plans
	}
}

// NewReconciler wires the cycle reconciler.
func NewReconciler(
	subs SubscriptionCycleStore,
	email external.EmailProvider,
	audit AuditRecorder,
	m metrics.EngineMetrics,
	from types.SenderIdentity,
	logger *slog.Logger,
	opts ...ReconcilerOption,
) *Reconciler {
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		subs:    subs,
		email:   email,
		audit:   audit,
		metrics: m,
		from:    from,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the phases selected by task. A nil refTime means the current
// wall clock; manual invocations pass a pinned reference time for
// deterministic re-runs. Phase failures are tallied, not returned: the only
// errors Run surfaces are unknown tasks and context cancellation.
func (r *Reconciler) Run(ctx context.Context, task TaskType, refTime *time.Time) (*ReconcileSummary, error) {
	now := r.now().UTC()
	if refTime != nil {
		now = refTime.UTC()
	}

	summary := &ReconcileSummary{}

	switch task {
	case TaskCycleReconcile:
		summary.Reset = r.runReset(ctx, now)
		summary.Reminder = r.runReminder(ctx, now)
		summary.Downgrade = r.runDowngrade(ctx, now)
	case TaskCycleReset:
		summary.Reset = r.runReset(ctx, now)
	case TaskCycleReminder:
		summary.Reminder = r.runReminder(ctx, now)
	case TaskCycleDowngrade:
		summary.Downgrade = r.runDowngrade(ctx, now)
	default:
		return nil, types.NewAppError(types.ErrCodeValidationInvalidInput,
			fmt.Sprintf("unknown reconciler task: %s", task), nil)
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	r.logger.InfoContext(ctx, "cycle reconciliation finished",
		"task", task,
		"reference_time", now,
		"reset_processed", summary.Reset.Processed,
		"reminder_processed", summary.Reminder.Processed,
		"downgrade_processed", summary.Downgrade.Processed,
		"failed", summary.Reset.Failed+summary.Reminder.Failed+summary.Downgrade.Failed,
	)
	return summary, nil
}

// runReset rolls the billing period forward and zeroes usage counters for
// every active paid subscription whose next_billing_date has arrived.
func (r *Reconciler) runReset(ctx context.Context, now time.Time) PhaseTally {
	tally := r.runPhase(ctx, "reset", func(batch int) ([]*types.Subscription, error) {
		return r.subs.ListDueForReset(ctx, now, batch)
	}, func(sub *types.Subscription) error {
		periodStart, periodEnd, nextBilling := advanceCycle(sub.NextBillingDate, sub.BillingAnniversaryDay, now)

		if err := r.subs.ResetCycle(ctx, sub.ID, periodStart, periodEnd, nextBilling); err != nil {
			return err
		}

		r.recordCycleAudit(ctx, sub, types.AuditCycleReset, map[string]any{
			"period_start":      periodStart.Format(time.RFC3339),
			"period_end":        periodEnd.Format(time.RFC3339),
			"next_billing_date": nextBilling.Format(time.RFC3339),
		})
		return nil
	})
	r.metrics.RecordCyclePhase(ctx, "reset", tally.Processed)
	return tally
}

// runReminder sends the upcoming-payment email to paid subscriptions whose
// next billing date crosses the three-day mark this run. The reminder flag
// is claimed before the send, so a delivery failure costs one reminder
// rather than risking duplicates.
func (r *Reconciler) runReminder(ctx context.Context, now time.Time) PhaseTally {
	tally := r.runPhase(ctx, "reminder", func(batch int) ([]*types.Subscription, error) {
		return r.subs.ListDueForReminder(ctx, now.Add(reminderWindow-reminderCadence), now.Add(reminderWindow), batch)
	}, func(sub *types.Subscription) error {
		claimed, err := r.subs.MarkReminderSent(ctx, sub.ID)
		if err != nil {
			return err
		}
		if !claimed {
			// Another run got here first.
			return nil
		}

		if err := r.sendReminderEmail(ctx, sub); err != nil {
			r.logger.WarnContext(ctx, "payment reminder email failed, flag stays set",
				"subscription_id", sub.ID,
				"user_id", sub.UserID,
				"error", err,
			)
		}

		r.recordCycleAudit(ctx, sub, types.AuditCycleReminderSent, map[string]any{
			"next_billing_date": sub.NextBillingDate.UTC().Format(time.RFC3339),
		})
		return nil
	})
	r.metrics.RecordCyclePhase(ctx, "reminder", tally.Processed)
	return tally
}

// runDowngrade drops subscriptions whose billing date sits past the grace
// window to the free plan. A subscription one day into arrears is untouched.
func (r *Reconciler) runDowngrade(ctx context.Context, now time.Time) PhaseTally {
	tally := r.runPhase(ctx, "downgrade", func(batch int) ([]*types.Subscription, error) {
		return r.subs.ListDueForDowngrade(ctx, now, downgradeGrace, batch)
	}, func(sub *types.Subscription) error {
		applied, err := r.subs.Downgrade(ctx, sub.ID)
		if err != nil {
			return err
		}
		if !applied {
			// Payment landed or a concurrent run won; nothing to do.
			return nil
		}

		r.trimConnectedAccounts(ctx, sub)

		if r.billing != nil && sub.StripeSubscriptionID != "" {
			if err := r.billing.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
				// The local downgrade already holds; provider cleanup can be
				// retried out of band.
				r.logger.WarnContext(ctx, "failed to cancel provider subscription after downgrade",
					"subscription_id", sub.ID,
					"stripe_subscription_id", sub.StripeSubscriptionID,
					"error", err,
				)
			}
		}

		if err := r.sendDowngradeEmail(ctx, sub); err != nil {
			r.logger.WarnContext(ctx, "downgrade notification email failed",
				"subscription_id", sub.ID,
				"user_id", sub.UserID,
				"error", err,
			)
		}

		r.recordCycleAudit(ctx, sub, types.AuditCycleDowngraded, map[string]any{
			"previous_plan":     string(sub.Plan),
			"next_billing_date": sub.NextBillingDate.UTC().Format(time.RFC3339),
		})
		return nil
	})
	r.metrics.RecordCyclePhase(ctx, "downgrade", tally.Processed)
	return tally
}

// trimConnectedAccounts revokes credentials beyond the free tier's
// connected-account cap after a downgrade. A failure here is logged, not
// fatal: the plan change already holds and point-of-use checks still see the
// free limits.
func (r *Reconciler) trimConnectedAccounts(ctx context.Context, sub *types.Subscription) {
	if r.accounts == nil || r.plans == nil {
		return
	}
	keep := r.plans.GetLimits(types.PlanFree).MaxConnectedAccounts
	if keep <= 0 {
		// Zero means unlimited in the plan table; nothing to trim.
		return
	}

	trimmed, err := r.accounts.DeactivateBeyondCap(ctx, sub.UserID, keep)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to trim connected accounts after downgrade",
			"subscription_id", sub.ID,
			"user_id", sub.UserID,
			"error", err,
		)
		return
	}
	if trimmed > 0 {
		r.logger.InfoContext(ctx, "connected accounts trimmed to free tier cap",
			"user_id", sub.UserID,
			"deactivated", trimmed,
			"kept", keep,
		)
	}
}

// runPhase pulls batches from list and applies process to each subscription,
// continuing past individual failures. It stops when a batch comes back
// empty or a full pass makes no progress, so a persistently failing row
// cannot spin the loop.
func (r *Reconciler) runPhase(
	ctx context.Context,
	phase string,
	list func(batch int) ([]*types.Subscription, error),
	process func(sub *types.Subscription) error,
) PhaseTally {
	var tally PhaseTally

	for {
		if ctx.Err() != nil {
			return tally
		}

		batch, err := list(defaultCycleBatch)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to list subscriptions for cycle phase",
				"phase", phase,
				"error", err,
			)
			tally.Failed++
			return tally
		}
		if len(batch) == 0 {
			return tally
		}

		progressed := 0
		for _, sub := range batch {
			tally.Matched++
			if err := process(sub); err != nil {
				tally.Failed++
				r.logger.ErrorContext(ctx, "cycle phase failed for subscription",
					"phase", phase,
					"subscription_id", sub.ID,
					"user_id", sub.UserID,
					"error", err,
				)
				continue
			}
			tally.Processed++
			progressed++
		}

		if progressed == 0 || len(batch) < defaultCycleBatch {
			return tally
		}
	}
}

// advanceCycle rolls the billing period forward from the previous
// next_billing_date, pinned to the anniversary day. The day is clamped to 28
// so the date exists in every month. Missed runs catch up: the new billing
// date always lands after now.
func advanceCycle(from time.Time, anniversaryDay int, now time.Time) (periodStart, periodEnd, nextBilling time.Time) {
	day := anniversaryDay
	if day < 1 {
		day = 1
	}
	if day > 28 {
		day = 28
	}

	from = from.UTC()
	periodStart = from

	next := from
	for !next.After(now) {
		next = time.Date(next.Year(), next.Month()+1, day,
			from.Hour(), from.Minute(), from.Second(), 0, time.UTC)
	}

	return periodStart, next, next
}

func (r *Reconciler) sendReminderEmail(ctx context.Context, sub *types.Subscription) error {
	if r.email == nil || sub.BillingEmail == "" {
		return nil
	}
	date := sub.NextBillingDate.UTC().Format("January 2, 2006")
	_, err := r.email.Send(ctx, &types.SendInput{
		To:      sub.BillingEmail,
		From:    r.from,
		Subject: "Your LinkedAI subscription renews soon",
		BodyText: fmt.Sprintf(
			"Your %s plan renews on %s. No action is needed if your payment method is up to date.",
			sub.Plan, date),
		BodyHTML: fmt.Sprintf(
			"<p>Your <strong>%s</strong> plan renews on <strong>%s</strong>.</p><p>No action is needed if your payment method is up to date.</p>",
			sub.Plan, date),
		ReferenceID: sub.ID,
	})
	return err
}

func (r *Reconciler) sendDowngradeEmail(ctx context.Context, sub *types.Subscription) error {
	if r.email == nil || sub.BillingEmail == "" {
		return nil
	}
	_, err := r.email.Send(ctx, &types.SendInput{
		To:      sub.BillingEmail,
		From:    r.from,
		Subject: "Your LinkedAI subscription has been downgraded",
		BodyText: fmt.Sprintf(
			"We could not collect payment for your %s plan, so your account has moved to the free plan. Update your payment method any time to restore your plan.",
			sub.Plan),
		BodyHTML: fmt.Sprintf(
			"<p>We could not collect payment for your <strong>%s</strong> plan, so your account has moved to the free plan.</p><p>Update your payment method any time to restore your plan.</p>",
			sub.Plan),
		ReferenceID: sub.ID,
	})
	return err
}

func (r *Reconciler) recordCycleAudit(ctx context.Context, sub *types.Subscription, action types.AuditAction, meta map[string]any) {
	payload, _ := json.Marshal(meta)
	if err := r.audit.Record(ctx, sub.UserID, action, sub.ID, payload); err != nil {
		r.logger.WarnContext(ctx, "failed to record audit entry",
			"action", action,
			"subscription_id", sub.ID,
			"error", err,
		)
	}
}
