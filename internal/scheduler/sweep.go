package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"linkedai/internal/metrics"
	"linkedai/internal/publish"
	"linkedai/internal/types"
)

// Sweep batch sizes and the lease granted to drained jobs.
const (
	DefaultPromoteLimit = 100
	DefaultDrainLimit   = 10
	drainConcurrency    = 4
	drainLeaseTTL       = 2 * time.Minute
)

// SweepStore is the delay-store surface the sweeper needs.
type SweepStore interface {
	PromoteDue(ctx context.Context, now time.Time, limit int) ([]*types.PublishJob, error)
	Lease(ctx context.Context, now time.Time, leaseTTL time.Duration, limit int) ([]*types.PublishJob, error)
	Ack(ctx context.Context, jobID string) (bool, error)
	Nack(ctx context.Context, jobID string, retryAt time.Time, cause string) (types.JobState, error)
	Fail(ctx context.Context, jobID string, cause string) (bool, error)
	Stats(ctx context.Context) (*types.QueueStats, error)
}

// ReadyNotifier pushes promoted jobs onto the hand-off queue so the
// long-lived worker picks them up without waiting for the next lease poll.
type ReadyNotifier interface {
	SendPublishJob(ctx context.Context, msg *types.PublishJobMessage, reason string) error
}

// Sweeper is the periodic safety net of the pipeline: it promotes due
// delayed jobs to ready and drains a bounded batch of ready jobs through the
// same executor the worker uses. Racing the worker, or a concurrent sweep,
// is safe: promotion and leasing are conditional row claims, and delivery
// re-checks the publication status.
type Sweeper struct {
	store    SweepStore
	notifier ReadyNotifier
	executor *publish.Executor
	policy   publish.RetryPolicy
	metrics  metrics.EngineMetrics
	logger   *slog.Logger

	promoteLimit int
	drainLimit   int
	now          func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepLimits overrides the promote and drain batch sizes.
func WithSweepLimits(promote, drain int) SweeperOption {
	return func(s *Sweeper) {
		if promote > 0 {
			s.promoteLimit = promote
		}
		if drain > 0 {
			s.drainLimit = drain
		}
	}
}

// WithSweepClock overrides the time source, for tests.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper wires the sweep pass. The notifier may be nil when no hand-off
// queue is configured (local mode); promoted jobs are then only picked up by
// the drain path.
func NewSweeper(
	store SweepStore,
	notifier ReadyNotifier,
	executor *publish.Executor,
	m metrics.EngineMetrics,
	logger *slog.Logger,
	opts ...SweeperOption,
) *Sweeper {
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:        store,
		notifier:     notifier,
		executor:     executor,
		policy:       publish.DefaultRetryPolicy(),
		metrics:      m,
		logger:       logger,
		promoteLimit: DefaultPromoteLimit,
		drainLimit:   DefaultDrainLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one promote-then-drain pass and reports the tally.
func (s *Sweeper) Sweep(ctx context.Context) (SweepSummary, error) {
	now := s.now().UTC()
	summary := SweepSummary{}

	promoted, err := s.store.PromoteDue(ctx, now, s.promoteLimit)
	if err != nil {
		return summary, err
	}
	summary.Promoted = len(promoted)

	if s.notifier != nil {
		for _, job := range promoted {
			if err := s.notifier.SendPublishJob(ctx, &job.Message, "sweep_promote"); err != nil {
				// The job stays ready; the drain below or the next sweep
				// picks it up.
				s.logger.WarnContext(ctx, "failed to hand promoted job to queue",
					"job_id", job.Message.JobID,
					"error", err,
				)
			}
		}
	}

	executed, failed, err := s.drain(ctx)
	summary.Executed = executed
	summary.Failed = failed
	if err != nil {
		return summary, err
	}

	s.metrics.RecordSweep(ctx, summary.Promoted)
	if stats, statsErr := s.store.Stats(ctx); statsErr == nil {
		s.metrics.RecordQueueStats(ctx, stats)
	}

	s.logger.InfoContext(ctx, "sweep pass complete",
		"promoted", summary.Promoted,
		"executed", summary.Executed,
		"failed", summary.Failed,
	)
	return summary, nil
}

// drain leases a bounded batch of ready jobs and runs them through the
// executor with bounded concurrency. Lease reclamation makes a crash here
// recoverable: expired leases are re-leased by a later pass.
func (s *Sweeper) drain(ctx context.Context) (executed, failed int, err error) {
	now := s.now().UTC()

	jobs, err := s.store.Lease(ctx, now, drainLeaseTTL, s.drainLimit)
	if err != nil {
		return 0, 0, err
	}
	if len(jobs) == 0 {
		return 0, 0, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(drainConcurrency)

	for _, job := range jobs {
		g.Go(func() error {
			didFail := s.deliver(gctx, job)
			mu.Lock()
			executed++
			if didFail {
				failed++
			}
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; the group is used for its bounded
	// concurrency and context plumbing.
	_ = g.Wait()

	return executed, failed, nil
}

// deliver runs one leased job through the executor and settles the queue
// entry. Returns true when the attempt counted as a failure.
func (s *Sweeper) deliver(ctx context.Context, job *types.PublishJob) bool {
	outcome := s.executor.Execute(ctx, &job.Message)

	switch outcome {
	case publish.OutcomePublished, publish.OutcomeSkipped:
		if _, err := s.store.Ack(ctx, job.Message.JobID); err != nil {
			s.logger.WarnContext(ctx, "failed to ack job after delivery",
				"job_id", job.Message.JobID,
				"error", err,
			)
		}
		return false

	case publish.OutcomeRetry:
		retryAt := s.now().UTC().Add(s.policy.NextDelay(job.Attempts + 1))
		state, err := s.store.Nack(ctx, job.Message.JobID, retryAt, "transient publish failure")
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to nack job",
				"job_id", job.Message.JobID,
				"error", err,
			)
			return true
		}
		if state == types.JobStateFailed {
			// Retry budget spent; surface the terminal state on the row.
			s.executor.FailTerminal(ctx, &job.Message, "retries exhausted")
		}
		return true

	default: // OutcomeFatal: publication already marked failed by the executor.
		if _, err := s.store.Fail(ctx, job.Message.JobID, "fatal publish failure"); err != nil {
			s.logger.WarnContext(ctx, "failed to settle fatal job",
				"job_id", job.Message.JobID,
				"error", err,
			)
		}
		return true
	}
}
