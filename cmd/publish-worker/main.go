// Package main is the SQS-driven publish worker Lambda.
//
// Each SQS record carries one PublishJobMessage. The worker first claims the
// delay-store row (the sweeper hands jobs off while still 'ready'), runs the
// message through the shared publish executor, and settles the row: acked on
// success or staleness, nacked with backoff on transient failure, failed
// terminally when the retry budget is spent or the upstream rejected the
// post. Short retries are re-queued with an SQS delay so they come back
// without waiting for the next sweep; the delay-store row keeps the retry
// deadline as the fallback path.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"linkedai/internal/config"
	"linkedai/internal/db"
	"linkedai/internal/external"
	"linkedai/internal/metrics"
	"linkedai/internal/publish"
	"linkedai/internal/queue"
	"linkedai/internal/types"
)

const (
	// claimGrace absorbs DelaySeconds truncation: an SQS retry can land a
	// moment before the row's run_at.
	claimGrace = 2 * time.Second

	// claimLeaseTTL bounds how long a crashed invocation keeps its claim.
	claimLeaseTTL = 2 * time.Minute
)

// jobExecutor is the publish.Executor surface the worker drives.
type jobExecutor interface {
	Execute(ctx context.Context, msg *types.PublishJobMessage) publish.Outcome
	FailTerminal(ctx context.Context, msg *types.PublishJobMessage, reason string)
}

// jobSettler is the delay-store surface used to claim and settle job rows.
type jobSettler interface {
	Claim(ctx context.Context, jobID string, now time.Time, leaseTTL time.Duration) (bool, error)
	Ack(ctx context.Context, jobID string) (bool, error)
	Nack(ctx context.Context, jobID string, retryAt time.Time, cause string) (types.JobState, error)
	Fail(ctx context.Context, jobID string, cause string) (bool, error)
}

// retrySender re-queues transient failures with an SQS delay.
type retrySender interface {
	SendRetry(ctx context.Context, msg *types.PublishJobMessage, delay time.Duration, reason string) error
}

// worker bundles the per-invocation dependencies.
type worker struct {
	executor jobExecutor
	jobs     jobSettler
	trigger  retrySender
	policy   publish.RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
}

func main() {
	w, err := newWorker(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(w.handle)
}

func newWorker(ctx context.Context) (*worker, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg)
	m := metrics.NewCloudWatchMetrics(cwClient, cfg.AWS.MetricNamespace, logger)

	pubs := db.NewPublicationRepository(pool)
	subs := db.NewSubscriptionRepository(pool, logger)
	audit := db.NewAuditRepository(pool)
	creds := db.NewCredentialRepository(pool)

	linkedin := external.NewLinkedInClient(cfg.LinkedIn, creds)

	return &worker{
		executor: publish.NewExecutor(pubs, subs, audit, linkedin, m, logger),
		jobs:     db.NewJobStore(pool),
		trigger:  queue.NewPublishTrigger(sqsClient, cfg.Queue, logger),
		policy:   publish.DefaultRetryPolicy(),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// handle processes one SQS batch. Records whose settlement hit an
// infrastructure error are reported as batch item failures so SQS redelivers
// only those; everything else is consumed.
func (w *worker) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse

	for _, record := range event.Records {
		if err := w.processRecord(ctx, record); err != nil {
			w.logger.ErrorContext(ctx, "record processing failed, returning to queue",
				"message_id", record.MessageId,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	return resp, nil
}

func (w *worker) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.PublishJobMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// A malformed body never becomes valid; drop it rather than loop
		// through the redrive policy.
		w.logger.ErrorContext(ctx, "dropping malformed publish message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	claimed, err := w.jobs.Claim(ctx, msg.JobID, w.now().UTC().Add(claimGrace), claimLeaseTTL)
	if err != nil {
		return err
	}
	if !claimed {
		// Canceled, already settled, re-armed for a later time, or held by a
		// live sweep lease; whoever owns the row settles it.
		w.logger.InfoContext(ctx, "skipping unclaimable job",
			"job_id", msg.JobID,
			"message_id", record.MessageId,
		)
		return nil
	}

	outcome := w.executor.Execute(ctx, &msg)

	switch outcome {
	case publish.OutcomePublished, publish.OutcomeSkipped:
		_, err := w.jobs.Ack(ctx, msg.JobID)
		return err

	case publish.OutcomeRetry:
		return w.retry(ctx, &msg)

	default: // OutcomeFatal
		_, err := w.jobs.Fail(ctx, msg.JobID, "fatal publish failure")
		return err
	}
}

// retry nacks the delay-store row and, while the budget lasts, re-queues the
// message with an SQS delay so the retry lands back here quickly. The nacked
// row keeps the same deadline, so a lost SQS message is still recovered by
// the sweep.
func (w *worker) retry(ctx context.Context, msg *types.PublishJobMessage) error {
	delay := w.policy.NextDelay(msg.Attempt + 1)
	retryAt := w.now().UTC().Add(delay)

	state, err := w.jobs.Nack(ctx, msg.JobID, retryAt, "transient publish failure")
	if err != nil {
		return err
	}
	if state == types.JobStateFailed {
		w.executor.FailTerminal(ctx, msg, "retries exhausted")
		return nil
	}

	next := *msg
	next.Attempt++
	if err := w.trigger.SendRetry(ctx, &next, delay, "worker_retry"); err != nil {
		// Not fatal: the row is nacked with a deadline and the sweeper will
		// promote it.
		w.logger.WarnContext(ctx, "failed to re-queue retry, sweep will recover it",
			"job_id", msg.JobID,
			"error", err,
		)
	}
	return nil
}
