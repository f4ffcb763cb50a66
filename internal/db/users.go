package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zlingapp/server-sub000/internal/models"
)

type UserStore struct {
	db *DB
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, username, passwordHash string) (*models.User, error) {
	id, err := generateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		id, username, passwordHash, now,
	)
	if err != nil {
		return nil, mapInsertErr(err, "creating user")
	}

	return &models.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.getOne(ctx, `SELECT id, username, password_hash, avatar, created_at FROM users WHERE id = ?`, id)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getOne(ctx, `SELECT id, username, password_hash, avatar, created_at FROM users WHERE username = ?`, username)
}

// PublicInfoByID is the projection handlers embed in events; it avoids
// dragging the password hash through fan-out paths.
func (s *UserStore) PublicInfoByID(ctx context.Context, id string) (models.PublicUserInfo, error) {
	var info models.PublicUserInfo
	var avatar sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, avatar FROM users WHERE id = ?`, id,
	).Scan(&info.ID, &info.Username, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return info, ErrNotFound
	}
	if err != nil {
		return info, fmt.Errorf("querying user info: %w", err)
	}

	info.Avatar = nullStringToPtr(avatar)
	return info, nil
}

func (s *UserStore) UpdateAvatar(ctx context.Context, id string, avatar *string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET avatar = ? WHERE id = ?`, ptrToNullString(avatar), id,
	)
	if err != nil {
		return fmt.Errorf("updating avatar: %w", err)
	}
	return checkRowsAffected(result)
}

func (s *UserStore) getOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	var avatar sql.NullString

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&avatar,
		&u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.Avatar = nullStringToPtr(avatar)
	return &u, nil
}
