package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"linkedai/internal/types"
)

// PublicationRepository provides data access for the scheduled_publications
// table, the source of truth for the publish pipeline. Every state change is
// expressed as a single conditional UPDATE so that concurrent actors (user
// edits, the publish worker, the sweeper) cannot race each other into an
// invalid transition: a transition either applies atomically or affects zero
// rows and the caller observes that fact.
type PublicationRepository struct {
	db DBTX
}

// NewPublicationRepository creates a new PublicationRepository backed by the
// given database connection (pool or transaction).
func NewPublicationRepository(db DBTX) *PublicationRepository {
	return &PublicationRepository{db: db}
}

const publicationColumns = `id, user_id, content, media_url, account_urn, credential_id,
       status, scheduled_for, published_at, external_post_id, failure_reason,
       created_at, updated_at`

// Create inserts a new publication row. The caller supplies the ID (a UUID)
// and initial status.
func (r *PublicationRepository) Create(ctx context.Context, pub *types.ScheduledPublication) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO scheduled_publications
		 (id, user_id, content, media_url, account_urn, credential_id,
		  status, scheduled_for, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		pub.ID,
		pub.UserID,
		pub.Content,
		pub.MediaURL,
		pub.AccountURN,
		pub.CredentialID,
		pub.Status,
		pub.ScheduledFor,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create publication", err)
	}
	return nil
}

// GetByID fetches a publication row. Returns ErrCodeNotFoundPublication if no
// row exists; the publish worker treats that as a fatal (non-retryable) job
// outcome because a missing row can never become publishable.
func (r *PublicationRepository) GetByID(ctx context.Context, id string) (*types.ScheduledPublication, error) {
	var pub types.ScheduledPublication
	var mediaURL, externalPostID, failureReason *string

	err := r.db.QueryRow(ctx,
		`SELECT `+publicationColumns+`
		 FROM scheduled_publications
		 WHERE id = $1`,
		id,
	).Scan(
		&pub.ID,
		&pub.UserID,
		&pub.Content,
		&mediaURL,
		&pub.AccountURN,
		&pub.CredentialID,
		&pub.Status,
		&pub.ScheduledFor,
		&pub.PublishedAt,
		&externalPostID,
		&failureReason,
		&pub.CreatedAt,
		&pub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPublication, "publication not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch publication", err)
	}

	if mediaURL != nil {
		pub.MediaURL = *mediaURL
	}
	if externalPostID != nil {
		pub.ExternalPostID = *externalPostID
	}
	if failureReason != nil {
		pub.FailureReason = *failureReason
	}
	return &pub, nil
}

// SetScheduled transitions a publication into 'scheduled' with the given run
// time. Permitted from draft, failed (retry after a permanent failure), and
// scheduled (re-scheduling moves the timer). A published row can never be
// re-scheduled. Returns ErrCodeConflictStatus when the transition does not
// apply, so the caller can distinguish "row missing" from "wrong state".
func (r *PublicationRepository) SetScheduled(ctx context.Context, id, userID string, scheduledFor time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_publications
		 SET status = 'scheduled',
		     scheduled_for = $3,
		     failure_reason = NULL,
		     updated_at = NOW()
		 WHERE id = $1
		   AND user_id = $2
		   AND status IN ('draft', 'scheduled', 'failed')`,
		id,
		userID,
		scheduledFor,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to schedule publication", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictStatus,
			"publication is not in a schedulable state", nil)
	}
	return nil
}

// CancelToDraft reverts a scheduled publication back to draft, clearing the
// run time. Only applies while the row is still 'scheduled'; once the worker
// has published it the cancel arrives too late and is rejected.
func (r *PublicationRepository) CancelToDraft(ctx context.Context, id, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_publications
		 SET status = 'draft',
		     scheduled_for = NULL,
		     updated_at = NOW()
		 WHERE id = $1
		   AND user_id = $2
		   AND status = 'scheduled'`,
		id,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel publication", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictStatus,
			"publication is not scheduled; nothing to cancel", nil)
	}
	return nil
}

// MarkPublished records a successful publish. The WHERE status = 'scheduled'
// clause is the second half of the effectively-once guard: if a concurrent
// actor already moved the row out of 'scheduled', zero rows are affected and
// the caller must treat the publish as already settled rather than retry.
// Returns applied=false for that benign case.
func (r *PublicationRepository) MarkPublished(ctx context.Context, id, externalPostID string, publishedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_publications
		 SET status = 'published',
		     published_at = $3,
		     external_post_id = $2,
		     failure_reason = NULL,
		     updated_at = NOW()
		 WHERE id = $1
		   AND status = 'scheduled'`,
		id,
		externalPostID,
		publishedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark publication published", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records a terminal publish failure with a human-readable reason.
// Conditional on 'scheduled' for the same reason as MarkPublished. Returns
// applied=false when the row already left 'scheduled'.
func (r *PublicationRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_publications
		 SET status = 'failed',
		     failure_reason = $2,
		     updated_at = NOW()
		 WHERE id = $1
		   AND status = 'scheduled'`,
		id,
		reason,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark publication failed", err)
	}
	return tag.RowsAffected() > 0, nil
}
