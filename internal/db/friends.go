package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zlingapp/server-sub000/internal/models"
)

type FriendStore struct {
	db *DB
}

func NewFriendStore(db *DB) *FriendStore {
	return &FriendStore{db: db}
}

func (s *FriendStore) AreFriends(ctx context.Context, a, b string) (bool, error) {
	lo, hi := orderPair(a, b)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM friends WHERE user_min = ? AND user_max = ?`, lo, hi,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking friendship: %w", err)
	}
	return count > 0, nil
}

func (s *FriendStore) CreateRequest(ctx context.Context, senderID, recipientID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO friend_requests (sender_id, recipient_id, created_at) VALUES (?, ?, ?)`,
		senderID, recipientID, time.Now().UTC(),
	)
	return mapInsertErr(err, "creating friend request")
}

func (s *FriendStore) HasRequest(ctx context.Context, senderID, recipientID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM friend_requests WHERE sender_id = ? AND recipient_id = ?`,
		senderID, recipientID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking friend request: %w", err)
	}
	return count > 0, nil
}

func (s *FriendStore) DeleteRequest(ctx context.Context, senderID, recipientID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM friend_requests WHERE sender_id = ? AND recipient_id = ?`,
		senderID, recipientID,
	)
	if err != nil {
		return fmt.Errorf("deleting friend request: %w", err)
	}
	return checkRowsAffected(result)
}

// AddFriends consumes any pending requests between the pair and records
// the friendship, all in one transaction.
func (s *FriendStore) AddFriends(ctx context.Context, a, b string) error {
	lo, hi := orderPair(a, b)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM friend_requests
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)`,
		a, b, b, a,
	); err != nil {
		return fmt.Errorf("consuming friend requests: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO friends (user_min, user_max, created_at) VALUES (?, ?, ?)`,
		lo, hi, time.Now().UTC(),
	); err != nil {
		return mapInsertErr(err, "adding friendship")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *FriendStore) RemoveFriend(ctx context.Context, a, b string) error {
	lo, hi := orderPair(a, b)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM friends WHERE user_min = ? AND user_max = ?`, lo, hi,
	)
	if err != nil {
		return fmt.Errorf("removing friendship: %w", err)
	}
	return checkRowsAffected(result)
}

func (s *FriendStore) ListFriends(ctx context.Context, userID string) ([]models.PublicUserInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.avatar
		FROM users u
		JOIN friends f ON u.id = CASE WHEN f.user_min = ? THEN f.user_max ELSE f.user_min END
		WHERE ? IN (f.user_min, f.user_max)
		ORDER BY u.username`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying friends: %w", err)
	}
	defer rows.Close()

	return scanPublicUsers(rows)
}

func (s *FriendStore) ListIncomingRequests(ctx context.Context, userID string) ([]models.PublicUserInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.avatar
		FROM users u
		JOIN friend_requests fr ON fr.sender_id = u.id
		WHERE fr.recipient_id = ?
		ORDER BY fr.created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying incoming requests: %w", err)
	}
	defer rows.Close()

	return scanPublicUsers(rows)
}

func (s *FriendStore) ListOutgoingRequests(ctx context.Context, userID string) ([]models.PublicUserInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.avatar
		FROM users u
		JOIN friend_requests fr ON fr.recipient_id = u.id
		WHERE fr.sender_id = ?
		ORDER BY fr.created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying outgoing requests: %w", err)
	}
	defer rows.Close()

	return scanPublicUsers(rows)
}

func scanPublicUsers(rows *sql.Rows) ([]models.PublicUserInfo, error) {
	users := make([]models.PublicUserInfo, 0)
	for rows.Next() {
		var info models.PublicUserInfo
		var avatar sql.NullString
		if err := rows.Scan(&info.ID, &info.Username, &avatar); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		info.Avatar = nullStringToPtr(avatar)
		users = append(users, info)
	}
	return users, rows.Err()
}
