// Package main is the scheduled billing-cycle reconciler Lambda.
//
// EventBridge invokes it hourly with a ReconcilePayload selecting which
// phases to run (full reconcile by default). A per-hour advisory lock keeps
// overlapping invocations from double-running a phase, and each run is
// recorded in job_history for operator visibility.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"linkedai/internal/billing"
	"linkedai/internal/config"
	"linkedai/internal/db"
	"linkedai/internal/external"
	"linkedai/internal/metrics"
	"linkedai/internal/scheduler"
	"linkedai/internal/types"
)

// lockTTL bounds how long a crashed invocation holds the hour's lock.
const lockTTL = 50 * time.Minute

// taskRunner is the reconciler surface the handler drives.
type taskRunner interface {
	Run(ctx context.Context, task scheduler.TaskType, refTime *time.Time) (*scheduler.ReconcileSummary, error)
}

// lockAcquirer serializes invocations of the same task-hour.
type lockAcquirer interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// runHistory records run bookkeeping for operators.
type runHistory interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

type reconcilerApp struct {
	reconciler taskRunner
	locks      lockAcquirer
	history    runHistory
	workerID   string
	logger     *slog.Logger
	now        func() time.Time
}

func main() {
	app, err := newApp(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(app.handle)
}

func newApp(ctx context.Context) (*reconcilerApp, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}

	subs := db.NewSubscriptionRepository(pool, logger)
	audit := db.NewAuditRepository(pool)
	creds := db.NewCredentialRepository(pool)

	var m metrics.EngineMetrics = metrics.NoopMetrics{}
	emailSvc := external.NewSendGridClient(nil, external.SendGridClientConfig{
		APIKey: cfg.Email.SendGridAPIKey.Unmask(),
		Logger: logger,
	})
	billingSvc := external.NewStripeClient(nil, subs, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		Logger:    logger,
	})

	reconciler := scheduler.NewReconciler(subs, emailSvc, audit, m,
		types.SenderIdentity{Name: cfg.Email.FromName, Address: cfg.Email.FromAddress},
		logger,
		scheduler.WithBillingService(billingSvc),
		scheduler.WithConnectedAccounts(creds, billing.NewStaticPlanRegistry()),
	)

	return &reconcilerApp{
		reconciler: reconciler,
		locks:      db.NewJobLockRepository(pool),
		history:    db.NewJobHistoryRepository(pool),
		workerID:   uuid.NewString(),
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (a *reconcilerApp) handle(ctx context.Context, payload scheduler.ReconcilePayload) error {
	task := payload.Task
	if task == "" {
		task = scheduler.TaskCycleReconcile
	}

	now := a.now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	lockID := fmt.Sprintf("%s:%s", task, now.Format("2006-01-02T15"))
	acquired, err := a.locks.Acquire(ctx, lockID, a.workerID, lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		a.logger.InfoContext(ctx, "another worker holds this hour, skipping",
			"lock_id", lockID,
		)
		return nil
	}

	historyID, err := a.history.Start(ctx, string(task))
	if err != nil {
		// Run anyway; history is observability, not correctness.
		a.logger.WarnContext(ctx, "failed to open job history entry", "error", err)
	}

	summary, runErr := a.reconciler.Run(ctx, task, payload.ReferenceTime)

	items := 0
	status := "success"
	if summary != nil {
		items = summary.Reset.Processed + summary.Reminder.Processed + summary.Downgrade.Processed
	}
	if runErr != nil {
		status = "failed"
	}
	if historyID != 0 {
		if err := a.history.Finish(ctx, historyID, status, items, runErr); err != nil {
			a.logger.WarnContext(ctx, "failed to close job history entry", "error", err)
		}
	}

	if runErr != nil {
		a.logger.ErrorContext(ctx, "cycle reconciliation failed", "task", task, "error", runErr)
		return runErr
	}

	a.logger.InfoContext(ctx, "cycle reconciliation done",
		"task", task,
		"reset_processed", summary.Reset.Processed,
		"reminder_processed", summary.Reminder.Processed,
		"downgrade_processed", summary.Downgrade.Processed,
	)
	return nil
}
