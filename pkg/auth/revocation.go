package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RevocationStore keeps revoked refresh token IDs until their natural expiry.
// Logout revokes the refresh token; access tokens are short-lived and simply
// age out.
type RevocationStore struct {
	db *sql.DB
}

// NewRevocationStore creates a revocation store backed by the given database
func NewRevocationStore(db *sql.DB) *RevocationStore {
	return &RevocationStore{db: db}
}

// Revoke records a token ID as revoked and reports whether this call
// claimed it. False means the token was already revoked; the insert is the
// only arbiter, so concurrent revocations of the same ID resolve to exactly
// one claimant.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string, userID int64, expiresAt time.Time) (bool, error) {
	query := `
		INSERT INTO revoked_tokens (token_id, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, tokenID, userID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke token: rows affected: %w", err)
	}
	return n > 0, nil
}

// PurgeExpired removes revocation records whose tokens have expired anyway.
// Run periodically; the table only needs to cover the refresh token lifetime.
func (s *RevocationStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: rows affected: %w", err)
	}
	return n, nil
}
