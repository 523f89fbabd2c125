package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"linkedai/internal/types"
)

// JobStore is the durable delay store backing the publish pipeline. Jobs live
// in the publish_jobs table keyed by publication ID, which makes scheduling
// idempotent: enqueueing the same ID replaces the pending timer instead of
// creating a duplicate.
//
// State machine:
//
//	delayed -> ready -> active -> completed
//	                         \-> delayed (retry, run_at pushed forward)
//	                         \-> failed  (attempts exhausted)
//
// Promotion (delayed -> ready) and leasing (ready -> active) are single
// conditional UPDATEs, with FOR UPDATE SKIP LOCKED on the lease path so
// concurrent sweepers never double-deliver a job.
type JobStore struct {
	db DBTX
}

// NewJobStore creates a new JobStore backed by the given database connection
// (pool or transaction).
func NewJobStore(db DBTX) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, user_id, content, media_url, account_urn, credential_id,
       scheduled_for, trace_id, state, attempts, max_attempts, run_at,
       lease_expires, last_error, enqueued_at, completed_at`

// scanJob populates a PublishJob from a row in jobColumns order.
func scanJob(row pgx.Row) (*types.PublishJob, error) {
	var job types.PublishJob
	var mediaURL, lastError *string

	err := row.Scan(
		&job.Message.JobID,
		&job.Message.UserID,
		&job.Message.Content,
		&mediaURL,
		&job.Message.AccountURN,
		&job.Message.CredentialID,
		&job.Message.ScheduledFor,
		&job.Message.TraceID,
		&job.State,
		&job.Attempts,
		&job.MaxAttempts,
		&job.RunAt,
		&job.LeaseExpires,
		&lastError,
		&job.EnqueuedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if mediaURL != nil {
		job.Message.MediaURL = *mediaURL
	}
	if lastError != nil {
		job.LastError = *lastError
	}
	job.Message.Attempt = job.Attempts
	return &job, nil
}

// Enqueue inserts or replaces the delayed job for a publication. A conflicting
// row is overwritten (timer re-armed, attempts reset) unless a worker holds it
// in 'active', in which case the enqueue is rejected with a conflict error and
// the caller should surface it to the user.
func (s *JobStore) Enqueue(ctx context.Context, msg *types.PublishJobMessage, runAt time.Time, maxAttempts int) error {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO publish_jobs
		 (id, user_id, content, media_url, account_urn, credential_id,
		  scheduled_for, trace_id, state, attempts, max_attempts, run_at, enqueued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'delayed', 0, $9, $10, NOW())
		 ON CONFLICT (id) DO UPDATE
		   SET user_id = EXCLUDED.user_id,
		       content = EXCLUDED.content,
		       media_url = EXCLUDED.media_url,
		       account_urn = EXCLUDED.account_urn,
		       credential_id = EXCLUDED.credential_id,
		       scheduled_for = EXCLUDED.scheduled_for,
		       trace_id = EXCLUDED.trace_id,
		       state = 'delayed',
		       attempts = 0,
		       max_attempts = EXCLUDED.max_attempts,
		       run_at = EXCLUDED.run_at,
		       lease_expires = NULL,
		       last_error = NULL,
		       completed_at = NULL,
		       enqueued_at = EXCLUDED.enqueued_at
		   WHERE publish_jobs.state <> 'active'`,
		msg.JobID,
		msg.UserID,
		msg.Content,
		nilIfEmpty(msg.MediaURL),
		msg.AccountURN,
		msg.CredentialID,
		msg.ScheduledFor,
		msg.TraceID,
		maxAttempts,
		runAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue publish job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent,
			"publish job is being executed; cannot re-schedule now", nil)
	}
	return nil
}

// Remove deletes the pending timer for a publication. Only delayed and ready
// jobs can be removed; an active job belongs to its worker and completed or
// failed jobs are history. Returns whether a row was removed.
func (s *JobStore) Remove(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM publish_jobs
		 WHERE id = $1
		   AND state IN ('delayed', 'ready')`,
		jobID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to remove publish job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PromoteDue flips due delayed jobs to 'ready' and returns them, oldest first,
// capped at limit. The returned jobs are what the sweeper hands off to the
// worker queue.
func (s *JobStore) PromoteDue(ctx context.Context, now time.Time, limit int) ([]*types.PublishJob, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE publish_jobs
		 SET state = 'ready'
		 WHERE id IN (
		   SELECT id FROM publish_jobs
		   WHERE state = 'delayed' AND run_at <= $1
		   ORDER BY run_at
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to promote due jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Lease claims up to limit ready jobs for execution, moving them to 'active'
// with a lease deadline. Jobs whose previous lease expired (worker crashed
// mid-flight) are reclaimed by the same query. SKIP LOCKED keeps concurrent
// drains from colliding.
func (s *JobStore) Lease(ctx context.Context, now time.Time, leaseTTL time.Duration, limit int) ([]*types.PublishJob, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE publish_jobs
		 SET state = 'active', lease_expires = $2
		 WHERE id IN (
		   SELECT id FROM publish_jobs
		   WHERE (state = 'ready' AND run_at <= $1)
		      OR (state = 'active' AND lease_expires < $1)
		   ORDER BY run_at
		   LIMIT $3
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		now,
		now.Add(leaseTTL),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lease ready jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Claim takes ownership of a single job delivered through the hand-off
// queue. The sweeper leaves handed-off jobs in 'ready', so the worker must
// claim the row itself before publishing; Ack, Nack and Fail all require
// 'active'. A claim also reclaims an expired lease left by a crashed holder.
// Returns false when the row is gone, already settled, re-armed for a later
// time, or held under a live lease.
func (s *JobStore) Claim(ctx context.Context, jobID string, now time.Time, leaseTTL time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE publish_jobs
		 SET state = 'active', lease_expires = $3
		 WHERE id = $1
		   AND ((state IN ('ready', 'delayed') AND run_at <= $2)
		     OR (state = 'active' AND lease_expires < $2))`,
		jobID,
		now,
		now.Add(leaseTTL),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim publish job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Ack settles an active job as completed. A zero-row result means the lease
// was lost (reclaimed after expiry); that is logged by the caller, not an
// error, because the publication row is the arbiter of the real outcome.
func (s *JobStore) Ack(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE publish_jobs
		 SET state = 'completed', completed_at = NOW(), lease_expires = NULL
		 WHERE id = $1
		   AND state = 'active'`,
		jobID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to ack publish job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Fail settles an active job as terminally failed regardless of remaining
// attempts. Used for fatal errors where retrying cannot succeed.
func (s *JobStore) Fail(ctx context.Context, jobID string, cause string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE publish_jobs
		 SET state = 'failed', last_error = $2, completed_at = NOW(), lease_expires = NULL
		 WHERE id = $1
		   AND state = 'active'`,
		jobID,
		cause,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark publish job failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Nack records a failed attempt. The attempt counter is bumped and the job
// either returns to 'delayed' with the given retry time, or settles as
// 'failed' when attempts are exhausted. Returns the resulting state so the
// caller knows whether the job will run again.
func (s *JobStore) Nack(ctx context.Context, jobID string, retryAt time.Time, cause string) (types.JobState, error) {
	var state types.JobState
	err := s.db.QueryRow(ctx,
		`UPDATE publish_jobs
		 SET attempts = attempts + 1,
		     last_error = $2,
		     lease_expires = NULL,
		     state = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'delayed' END,
		     run_at = CASE WHEN attempts + 1 >= max_attempts THEN run_at ELSE $3 END,
		     completed_at = CASE WHEN attempts + 1 >= max_attempts THEN NOW() ELSE NULL END
		 WHERE id = $1
		   AND state = 'active'
		 RETURNING state`,
		jobID,
		cause,
		retryAt,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundJob, "active job not found for nack", err)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to nack publish job", err)
	}
	return state, nil
}

// ListDelayed returns delayed jobs ordered by due time, capped at limit.
func (s *JobStore) ListDelayed(ctx context.Context, limit int) ([]*types.PublishJob, error) {
	return s.listByState(ctx, types.JobStateDelayed, limit)
}

// ListReady returns ready jobs ordered by due time, capped at limit.
func (s *JobStore) ListReady(ctx context.Context, limit int) ([]*types.PublishJob, error) {
	return s.listByState(ctx, types.JobStateReady, limit)
}

func (s *JobStore) listByState(ctx context.Context, state types.JobState, limit int) ([]*types.PublishJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM publish_jobs
		 WHERE state = $1
		 ORDER BY run_at
		 LIMIT $2`,
		state,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list publish jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Stats returns a census of jobs by state. States with no rows report zero.
func (s *JobStore) Stats(ctx context.Context) (*types.QueueStats, error) {
	rows, err := s.db.Query(ctx,
		`SELECT state, COUNT(*)
		 FROM publish_jobs
		 GROUP BY state`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query job stats", err)
	}
	defer rows.Close()

	var stats types.QueueStats
	for rows.Next() {
		var state types.JobState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job stats", err)
		}
		switch state {
		case types.JobStateReady:
			stats.Waiting = count
		case types.JobStateActive:
			stats.Active = count
		case types.JobStateDelayed:
			stats.Delayed = count
		case types.JobStateCompleted:
			stats.Completed = count
		case types.JobStateFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job stats", err)
	}

	return &stats, nil
}

func collectJobs(rows pgx.Rows) ([]*types.PublishJob, error) {
	var jobs []*types.PublishJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan publish job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating publish jobs", err)
	}
	return jobs, nil
}

// nilIfEmpty maps "" to NULL for optional text columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
