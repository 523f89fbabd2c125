// Package main is the EventBridge-driven sweep Lambda.
//
// Every invocation runs one promote-then-drain pass over the durable delay
// store: due delayed jobs flip to ready and are handed to the publish queue,
// and a bounded batch of ready jobs (including any whose queue hand-off was
// lost) is executed inline. The schedule rate bounds how late a publication
// can fire when the SQS path fails.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

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
	"linkedai/internal/scheduler"
)

// sweepRunner is the sweep surface the handler drives.
type sweepRunner interface {
	Sweep(ctx context.Context) (scheduler.SweepSummary, error)
}

type sweeperApp struct {
	sweeper sweepRunner
	logger  *slog.Logger
}

func main() {
	app, err := newApp(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(app.handle)
}

func (a *sweeperApp) handle(ctx context.Context) error {
	summary, err := a.sweeper.Sweep(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "sweep pass failed", "error", err)
		return err
	}
	a.logger.InfoContext(ctx, "sweep invocation done",
		"promoted", summary.Promoted,
		"executed", summary.Executed,
		"failed", summary.Failed,
	)
	return nil
}

func newApp(ctx context.Context) (*sweeperApp, error) {
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
	jobs := db.NewJobStore(pool)

	linkedin := external.NewLinkedInClient(cfg.LinkedIn, creds)
	executor := publish.NewExecutor(pubs, subs, audit, linkedin, m, logger)
	trigger := queue.NewPublishTrigger(sqsClient, cfg.Queue, logger)

	sweeper := scheduler.NewSweeper(jobs, trigger, executor, m, logger,
		scheduler.WithSweepLimits(cfg.Queue.SweepPromoteLimit, cfg.Queue.SweepDrainLimit),
	)
	return &sweeperApp{sweeper: sweeper, logger: logger}, nil
}
