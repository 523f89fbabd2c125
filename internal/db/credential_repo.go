package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"linkedai/internal/types"
)

// CredentialRepository resolves stored LinkedIn OAuth credentials. Tokens are
// fetched at publish time so a revoked or rotated credential takes effect on
// the next attempt, not when the job was scheduled.
type CredentialRepository struct {
	db DBTX
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetAccessToken returns the access token for a credential. An expired token
// is a terminal publish error; refresh happens in the connect flow, not here.
func (r *CredentialRepository) GetAccessToken(ctx context.Context, credentialID string) (string, error) {
	var token string
	var expiresAt time.Time
	err := r.db.QueryRow(ctx,
		`SELECT access_token, expires_at
		 FROM linkedin_credentials
		 WHERE id = $1 AND revoked_at IS NULL`,
		credentialID,
	).Scan(&token, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodePublishRejected, "credential not found or revoked", nil)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to load credential", err)
	}

	if !expiresAt.IsZero() && expiresAt.Before(time.Now().UTC()) {
		return "", types.NewAppError(types.ErrCodePublishRejected, "credential token expired", nil)
	}

	return token, nil
}

// DeactivateBeyondCap revokes a user's newest credentials until at most keep
// remain, preserving the oldest connections. Used when a downgrade shrinks
// the connected-account cap. Returns how many credentials were revoked.
func (r *CredentialRepository) DeactivateBeyondCap(ctx context.Context, userID string, keep int) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE linkedin_credentials
		 SET revoked_at = NOW()
		 WHERE user_id = $1
		   AND revoked_at IS NULL
		   AND id NOT IN (
		     SELECT id FROM linkedin_credentials
		     WHERE user_id = $1 AND revoked_at IS NULL
		     ORDER BY created_at
		     LIMIT $2
		   )`,
		userID,
		keep,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate excess credentials", err)
	}
	return int(tag.RowsAffected()), nil
}
