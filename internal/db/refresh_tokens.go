package db

import (
	"context"
	"fmt"
	"time"

	"github.com/zlingapp/server-sub000/internal/models"
)

type RefreshTokenStore struct {
	db *DB
}

func NewRefreshTokenStore(db *DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db}
}

func (s *RefreshTokenStore) Insert(ctx context.Context, userID, nonceHash string, expiresAt time.Time, userAgent string) (*models.RefreshToken, error) {
	id, err := generateID("rft")
	if err != nil {
		return nil, fmt.Errorf("generating refresh token ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, nonce_hash, expires_at, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, nonceHash, expiresAt.UTC(), userAgent, now,
	)
	if err != nil {
		return nil, mapInsertErr(err, "creating refresh token")
	}

	return &models.RefreshToken{
		ID:        id,
		UserID:    userID,
		NonceHash: nonceHash,
		ExpiresAt: expiresAt,
		UserAgent: userAgent,
		CreatedAt: now,
	}, nil
}

// Rotate consumes the row matching (userID, nonceHash) and inserts a
// replacement in the same transaction. ErrNotFound means the nonce was
// already spent, never issued, or expired; the caller treats all three
// the same way.
func (s *RefreshTokenStore) Rotate(ctx context.Context, userID, consumedNonceHash, newNonceHash string, newExpiresAt time.Time, userAgent string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = ? AND nonce_hash = ? AND expires_at > ?`,
		userID, consumedNonceHash, now,
	)
	if err != nil {
		return fmt.Errorf("consuming refresh token: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return err
	}

	newID, err := generateID("rft")
	if err != nil {
		return fmt.Errorf("generating rotated refresh token ID: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, nonce_hash, expires_at, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		newID, userID, newNonceHash, newExpiresAt.UTC(), userAgent, now,
	); err != nil {
		return fmt.Errorf("creating rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}

	return nil
}

// Verify reports whether an unexpired row matches (userID, nonceHash)
// without consuming it. Bot reissue uses this: bot refresh tokens never
// rotate.
func (s *RefreshTokenStore) Verify(ctx context.Context, userID, nonceHash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = ? AND nonce_hash = ? AND expires_at > ?`,
		userID, nonceHash, time.Now().UTC(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("verifying refresh token: %w", err)
	}
	return count > 0, nil
}

func (s *RefreshTokenStore) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting user refresh tokens: %w", err)
	}
	return nil
}

func (s *RefreshTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return result.RowsAffected()
}
