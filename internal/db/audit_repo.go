package db

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"linkedai/internal/types"
)

// AuditRepository appends activity records for terminal pipeline transitions
// and reconciler actions. Audit writes are best-effort from the caller's
// perspective: a failed audit insert is logged, never allowed to fail the
// operation it describes.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new AuditRepository backed by the given
// database connection (pool or transaction).
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record appends an audit entry. Metadata may be nil.
func (r *AuditRepository) Record(ctx context.Context, userID string, action types.AuditAction, targetID string, metadata json.RawMessage) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_log (id, user_id, action, target_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.NewString(),
		userID,
		action,
		targetID,
		metadata,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record audit entry", err)
	}
	return nil
}

// ListByUser returns the most recent audit entries for a user.
func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]types.AuditEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, action, target_id, metadata, created_at
		 FROM audit_log
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query audit log", err)
	}
	defer rows.Close()

	var entries []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.TargetID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan audit entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating audit entries", err)
	}
	return entries, nil
}
