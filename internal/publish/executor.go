// Package publish contains the delivery executor shared by the long-lived
// worker and the sweep drain path.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"linkedai/internal/external"
	"linkedai/internal/metrics"
	"linkedai/internal/types"
)

// Outcome classifies the result of one delivery attempt so the caller can
// decide between ack, nack and terminal failure handling.
type Outcome string

const (
	// OutcomePublished means the post is live and the publication settled.
	OutcomePublished Outcome = "published"
	// OutcomeSkipped means the job was stale (canceled, already settled, or
	// lost the settle race) and was dropped without an external call taking
	// effect twice.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRetry means a transient failure; the caller should nack with
	// backoff.
	OutcomeRetry Outcome = "retry"
	// OutcomeFatal means a terminal failure; the publication was marked
	// failed and the job must not be retried.
	OutcomeFatal Outcome = "fatal"
)

// PublicationStore is the slice of the publication repository the executor
// needs.
type PublicationStore interface {
	GetByID(ctx context.Context, id string) (*types.ScheduledPublication, error)
	MarkPublished(ctx context.Context, id, externalPostID string, publishedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
}

// UsageCounter records a successful publish against the user's cycle quota.
type UsageCounter interface {
	IncrementPostsUsed(ctx context.Context, userID string) error
}

// AuditRecorder appends activity records on terminal transitions.
type AuditRecorder interface {
	Record(ctx context.Context, userID string, action types.AuditAction, targetID string, metadata json.RawMessage) error
}

// ProgressFunc receives advisory completion milestones (10/30/70/90/100).
// Reporting is best-effort and never gates correctness.
type ProgressFunc func(ctx context.Context, jobID string, percent int)

// Executor runs one publish attempt end to end. It is safe for concurrent
// use; the status re-read plus conditional settle makes racing deliveries of
// the same job converge on a single external post.
type Executor struct {
	pubs    PublicationStore
	usage   UsageCounter
	audit   AuditRecorder
	api     external.PublishAPI
	metrics metrics.EngineMetrics
	logger  *slog.Logger

	publishTimeout time.Duration
	progress       ProgressFunc
	now            func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithProgressFunc installs a milestone reporting hook.
func WithProgressFunc(fn ProgressFunc) ExecutorOption {
	return func(e *Executor) { e.progress = fn }
}

// WithPublishTimeout bounds the external publish call.
func WithPublishTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.publishTimeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor wires the executor. Metrics may be nil; a noop sink is used.
func NewExecutor(
	pubs PublicationStore,
	usage UsageCounter,
	audit AuditRecorder,
	api external.PublishAPI,
	m metrics.EngineMetrics,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		pubs:           pubs,
		usage:          usage,
		audit:          audit,
		api:            api,
		metrics:        m,
		logger:         logger,
		publishTimeout: 30 * time.Second,
		progress:       func(context.Context, string, int) {},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs one delivery attempt for the message.
//
// The publication row is re-read first and is the only status authority: a
// job whose row is no longer 'scheduled' is dropped as a benign no-op, which
// is what makes racing the sweep path against the long-lived worker safe.
func (e *Executor) Execute(ctx context.Context, msg *types.PublishJobMessage) Outcome {
	start := e.now()
	e.progress(ctx, msg.JobID, 10)

	pub, err := e.pubs.GetByID(ctx, msg.JobID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundPublication) {
			// No row to write a terminal status to; record the orphan and
			// drop the job for good.
			e.logger.ErrorContext(ctx, "publish job references missing publication",
				"job_id", msg.JobID,
				"user_id", msg.UserID,
			)
			e.recordAudit(ctx, msg.UserID, types.AuditPublicationFailed, msg.JobID,
				map[string]any{"reason": "publication record missing"})
			e.metrics.RecordPublish(ctx, metrics.ResultFailure, e.now().Sub(start))
			return OutcomeFatal
		}
		e.logger.ErrorContext(ctx, "failed to load publication for publish job",
			"job_id", msg.JobID,
			"error", err,
		)
		return OutcomeRetry
	}

	if pub.Status != types.PublicationScheduled {
		// Canceled or already settled between enqueue and delivery.
		e.logger.InfoContext(ctx, "skipping stale publish job",
			"job_id", msg.JobID,
			"status", pub.Status,
		)
		e.progress(ctx, msg.JobID, 100)
		e.metrics.RecordPublish(ctx, metrics.ResultSkipped, 0)
		return OutcomeSkipped
	}

	e.progress(ctx, msg.JobID, 30)

	pubCtx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	result, err := e.api.Publish(pubCtx, msg)
	cancel()

	if err != nil {
		if types.IsRetryable(err) {
			e.logger.WarnContext(ctx, "transient publish failure",
				"job_id", msg.JobID,
				"attempt", msg.Attempt+1,
				"error", err,
			)
			e.metrics.RecordPublish(ctx, metrics.ResultRetry, e.now().Sub(start))
			return OutcomeRetry
		}
		e.FailTerminal(ctx, msg, err.Error())
		e.metrics.RecordPublish(ctx, metrics.ResultFailure, e.now().Sub(start))
		return OutcomeFatal
	}

	e.progress(ctx, msg.JobID, 70)

	applied, err := e.pubs.MarkPublished(ctx, msg.JobID, result.ExternalPostID, e.now())
	if err != nil {
		// The post is live but the settle write failed; retrying is safe
		// because the next attempt's status re-read takes the no-op path
		// once a concurrent settle lands, and MarkPublished itself is
		// conditional.
		e.logger.ErrorContext(ctx, "publish succeeded but settle write failed",
			"job_id", msg.JobID,
			"external_post_id", result.ExternalPostID,
			"error", err,
		)
		return OutcomeRetry
	}
	if !applied {
		e.logger.WarnContext(ctx, "publication settled concurrently, dropping duplicate result",
			"job_id", msg.JobID,
			"external_post_id", result.ExternalPostID,
		)
		e.metrics.RecordPublish(ctx, metrics.ResultSkipped, 0)
		return OutcomeSkipped
	}

	if err := e.usage.IncrementPostsUsed(ctx, msg.UserID); err != nil {
		e.logger.WarnContext(ctx, "failed to count published post against quota",
			"job_id", msg.JobID,
			"user_id", msg.UserID,
			"error", err,
		)
	}

	e.progress(ctx, msg.JobID, 90)

	e.recordAudit(ctx, msg.UserID, types.AuditPublicationPublished, msg.JobID,
		map[string]any{"external_post_id": result.ExternalPostID})

	e.progress(ctx, msg.JobID, 100)
	e.metrics.RecordPublish(ctx, metrics.ResultSuccess, e.now().Sub(start))

	e.logger.InfoContext(ctx, "publication published",
		"job_id", msg.JobID,
		"user_id", msg.UserID,
		"external_post_id", result.ExternalPostID,
		"attempt", msg.Attempt+1,
	)
	return OutcomePublished
}

// FailTerminal writes the failed status to the publication and records the
// audit entry. Called for fatal errors and by workers after the retry budget
// is exhausted.
func (e *Executor) FailTerminal(ctx context.Context, msg *types.PublishJobMessage, reason string) {
	applied, err := e.pubs.MarkFailed(ctx, msg.JobID, reason)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to mark publication failed",
			"job_id", msg.JobID,
			"error", err,
		)
		return
	}
	if !applied {
		// Already settled by a racing delivery; nothing to record.
		return
	}
	e.recordAudit(ctx, msg.UserID, types.AuditPublicationFailed, msg.JobID,
		map[string]any{"reason": reason})
	e.logger.ErrorContext(ctx, "publication failed terminally",
		"job_id", msg.JobID,
		"user_id", msg.UserID,
		"reason", reason,
	)
}

func (e *Executor) recordAudit(ctx context.Context, userID string, action types.AuditAction, targetID string, meta map[string]any) {
	payload, err := json.Marshal(meta)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	if err := e.audit.Record(ctx, userID, action, targetID, payload); err != nil {
		e.logger.WarnContext(ctx, "failed to record audit entry",
			"action", action,
			"target_id", targetID,
			"error", err,
		)
	}
}
