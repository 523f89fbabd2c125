package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"linkedai/internal/billing"
	"linkedai/internal/publish"
	"linkedai/internal/types"
)

// maxContentLength is the LinkedIn post commentary limit.
const maxContentLength = 3000

// PublicationScheduler is the slice of the publication repository the
// enqueuer needs.
type PublicationScheduler interface {
	SetScheduled(ctx context.Context, id, userID string, scheduledFor time.Time) error
	CancelToDraft(ctx context.Context, id, userID string) error
}

// DelayStore is the durable delay-store surface used by the enqueuer.
type DelayStore interface {
	Enqueue(ctx context.Context, msg *types.PublishJobMessage, runAt time.Time, maxAttempts int) error
	Remove(ctx context.Context, jobID string) (bool, error)
}

// AuditRecorder appends activity entries for schedule and cancel actions.
type AuditRecorder interface {
	Record(ctx context.Context, userID string, action types.AuditAction, targetID string, metadata json.RawMessage) error
}

// ScheduleInput carries one schedule request.
type ScheduleInput struct {
	PublicationID string
	UserID        string
	Content       string
	MediaURL      string
	AccountURN    string
	CredentialID  string
	ScheduledFor  time.Time
}

// Enqueuer turns scheduled publications into durable delay-store jobs.
type Enqueuer struct {
	pubs     PublicationScheduler
	jobs     DelayStore
	enforcer billing.UsageEnforcer
	audit    AuditRecorder
	policy   publish.RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// NewEnqueuer wires the scheduling service with the standard retry policy.
func NewEnqueuer(
	pubs PublicationScheduler,
	jobs DelayStore,
	enforcer billing.UsageEnforcer,
	audit AuditRecorder,
	logger *slog.Logger,
) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{
		pubs:     pubs,
		jobs:     jobs,
		enforcer: enforcer,
		audit:    audit,
		policy:   publish.DefaultRetryPolicy(),
		logger:   logger,
		now:      time.Now,
	}
}

// Schedule validates the request, flips the publication to 'scheduled', and
// upserts the delay-store job keyed by the publication ID. Times in the past
// clamp to immediate execution. Re-scheduling before the job fires replaces
// the pending entry; there is never more than one queued job per publication.
func (e *Enqueuer) Schedule(ctx context.Context, input ScheduleInput) error {
	if err := validateScheduleInput(input); err != nil {
		return err
	}

	if err := e.enforcer.CheckCanSchedule(ctx, input.UserID, 1); err != nil {
		return err
	}

	if err := e.pubs.SetScheduled(ctx, input.PublicationID, input.UserID, input.ScheduledFor); err != nil {
		return err
	}

	now := e.now().UTC()
	runAt := input.ScheduledFor.UTC()
	if runAt.Before(now) {
		runAt = now
	}

	traceID := types.GetRequestID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}

	msg := &types.PublishJobMessage{
		JobID:        input.PublicationID,
		UserID:       input.UserID,
		Content:      input.Content,
		MediaURL:     input.MediaURL,
		AccountURN:   input.AccountURN,
		CredentialID: input.CredentialID,
		ScheduledFor: input.ScheduledFor.UTC(),
		TraceID:      traceID,
	}

	if err := e.jobs.Enqueue(ctx, msg, runAt, e.policy.MaxAttempts); err != nil {
		if types.HasCode(err, types.ErrCodeConflictConcurrent) {
			// A worker holds the job right now. The row must stay
			// 'scheduled' so the worker's write-back lands; flipping it to
			// draft here would orphan an in-flight publish.
			return err
		}
		// Compensate: without a queue entry the 'scheduled' status would
		// never resolve.
		if rbErr := e.pubs.CancelToDraft(ctx, input.PublicationID, input.UserID); rbErr != nil {
			e.logger.ErrorContext(ctx, "failed to roll back publication after enqueue failure",
				"publication_id", input.PublicationID,
				"error", rbErr,
			)
		}
		return err
	}

	e.recordAudit(ctx, input.UserID, types.AuditPublicationScheduled, input.PublicationID,
		map[string]any{"scheduled_for": input.ScheduledFor.UTC().Format(time.RFC3339)})

	e.logger.InfoContext(ctx, "publication scheduled",
		"publication_id", input.PublicationID,
		"user_id", input.UserID,
		"scheduled_for", input.ScheduledFor.UTC(),
		"delay_seconds", int(runAt.Sub(now).Seconds()),
	)
	return nil
}

// Cancel returns a scheduled publication to draft and removes its pending
// job. A job already consumed by a worker is left alone; the worker's status
// re-read takes the no-op path once the row reads 'draft'.
func (e *Enqueuer) Cancel(ctx context.Context, pubID, userID string) error {
	if err := e.pubs.CancelToDraft(ctx, pubID, userID); err != nil {
		return err
	}

	removed, err := e.jobs.Remove(ctx, pubID)
	if err != nil {
		// The publication is back in draft; a leftover job entry is harmless
		// because delivery re-checks the status.
		e.logger.WarnContext(ctx, "failed to remove pending job after cancel",
			"publication_id", pubID,
			"error", err,
		)
	} else if !removed {
		e.logger.InfoContext(ctx, "no pending job to remove, already consumed or completed",
			"publication_id", pubID,
		)
	}

	e.recordAudit(ctx, userID, types.AuditPublicationCanceled, pubID, nil)

	e.logger.InfoContext(ctx, "publication canceled",
		"publication_id", pubID,
		"user_id", userID,
	)
	return nil
}

func validateScheduleInput(input ScheduleInput) error {
	switch {
	case input.PublicationID == "":
		return types.NewAppError(types.ErrCodeValidationMissingField, "publication id is required", nil)
	case input.UserID == "":
		return types.NewAppError(types.ErrCodeValidationMissingField, "user id is required", nil)
	case input.Content == "":
		return types.NewAppError(types.ErrCodeValidationMissingField, "content is required", nil)
	case len(input.Content) > maxContentLength:
		return types.NewAppError(types.ErrCodeValidationContentLength, "content exceeds the 3000 character limit", nil)
	case input.AccountURN == "":
		return types.NewAppError(types.ErrCodeValidationInvalidAccount, "target account is required", nil)
	case input.CredentialID == "":
		return types.NewAppError(types.ErrCodeValidationInvalidAccount, "account credential is required", nil)
	case input.ScheduledFor.IsZero():
		return types.NewAppError(types.ErrCodeValidationInvalidTime, "scheduled time is required", nil)
	}
	return nil
}

func (e *Enqueuer) recordAudit(ctx context.Context, userID string, action types.AuditAction, targetID string, meta map[string]any) {
	var payload json.RawMessage
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	if err := e.audit.Record(ctx, userID, action, targetID, payload); err != nil {
		e.logger.WarnContext(ctx, "failed to record audit entry",
			"action", action,
			"target_id", targetID,
			"error", err,
		)
	}
}
