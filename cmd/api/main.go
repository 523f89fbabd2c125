// Package main is the entry point for the LinkedAI engine API server.
//
// It loads configuration, connects the Postgres pool, wires the repositories
// and upstream clients, and mounts the HTTP surface: publication lifecycle,
// billing sessions, the Stripe webhook, and the token-protected internal
// trigger endpoints.
//
// In local mode (APP_ENV=local) the upstream providers are replaced with
// logging stubs and the SQS hand-off is disabled; ready jobs are then only
// executed by the sweep drain path.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"

	"linkedai/internal/api/handlers"
	"linkedai/internal/billing"
	"linkedai/internal/config"
	"linkedai/internal/core"
	"linkedai/internal/db"
	"linkedai/internal/external"
	"linkedai/internal/metrics"
	"linkedai/internal/publish"
	"linkedai/internal/queue"
	"linkedai/internal/scheduler"
	"linkedai/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("linkedai engine API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Connect(ctx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	pubs := db.NewPublicationRepository(pool)
	subs := db.NewSubscriptionRepository(pool, logger)
	jobs := db.NewJobStore(pool)
	audit := db.NewAuditRepository(pool)
	creds := db.NewCredentialRepository(pool)

	// Upstream providers and the AWS-backed pieces. Local mode swaps in
	// stubs so the server runs with nothing but Postgres.
	var (
		publishAPI external.PublishAPI
		emailSvc   external.EmailProvider
		billingSvc external.BillingService
		verifier   external.WebhookVerifier
		notifier   scheduler.ReadyNotifier
		m          metrics.EngineMetrics = metrics.NoopMetrics{}
	)

	if cfg.Environment == "local" {
		publishAPI = external.NewStubPublishAPI(logger)
		emailSvc = external.NewStubEmailProvider(logger)
		billingSvc = external.NewStubBillingService(logger)
		verifier = &external.StubWebhookVerifier{}
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.AWS.Region),
		)
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}

		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		notifier = queue.NewPublishTrigger(sqsClient, cfg.Queue, logger)

		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		m = metrics.NewCloudWatchMetrics(cwClient, cfg.AWS.MetricNamespace, logger)

		publishAPI = external.NewLinkedInClient(cfg.LinkedIn, creds)
		emailSvc = external.NewSendGridClient(nil, external.SendGridClientConfig{
			APIKey: cfg.Email.SendGridAPIKey.Unmask(),
			Logger: logger,
		})
		billingSvc = external.NewStripeClient(nil, subs, external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		})
		verifier = &external.StripeVerifier{}
	}

	// Domain services.
	enforcer := billing.NewUsageEnforcer(subs, billing.NewStaticPlanRegistry())
	executor := publish.NewExecutor(pubs, subs, audit, publishAPI, m, logger)
	enqueuer := scheduler.NewEnqueuer(pubs, jobs, enforcer, audit, logger)
	sweeper := scheduler.NewSweeper(jobs, notifier, executor, m, logger,
		scheduler.WithSweepLimits(cfg.Queue.SweepPromoteLimit, cfg.Queue.SweepDrainLimit),
	)
	reconciler := scheduler.NewReconciler(subs, emailSvc, audit, m,
		types.SenderIdentity{Name: cfg.Email.FromName, Address: cfg.Email.FromAddress},
		logger,
		scheduler.WithBillingService(billingSvc),
		scheduler.WithConnectedAccounts(creds, billing.NewStaticPlanRegistry()),
	)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	pubHandler := handlers.NewPublicationHandler(pubs, enqueuer, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(billingSvc, subs, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(subs, verifier, audit,
		cfg.Billing.StripeWebhookSecret, logger)
	internalHandler := handlers.NewInternalHandler(sweeper, reconciler, jobs, logger)

	srv.Router().Route("/v1", func(r chi.Router) {
		pubHandler.RegisterRoutes(r)
		billingHandler.RegisterRoutes(r)
	})
	webhookHandler.RegisterRoutes(srv.Router())
	srv.Router().Route("/internal", func(r chi.Router) {
		r.Use(core.InternalAuthMiddleware(cfg.Security.InternalToken))
		internalHandler.RegisterRoutes(r)
	})

	return serve(srv, cfg, logger)
}

// serve runs the HTTP server until SIGINT/SIGTERM, then drains gracefully.
func serve(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates the process-wide structured logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
