package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zlingapp/server-sub000/internal/models"
)

type GuildStore struct {
	db *DB
}

func NewGuildStore(db *DB) *GuildStore {
	return &GuildStore{db: db}
}

// Create inserts the guild and its owner's membership in one transaction.
func (s *GuildStore) Create(ctx context.Context, name, ownerID string) (*models.Guild, error) {
	id, err := generateID("gld")
	if err != nil {
		return nil, fmt.Errorf("generating guild ID: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO guilds (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		id, name, ownerID, now,
	); err != nil {
		return nil, fmt.Errorf("creating guild: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO guild_members (guild_id, user_id, joined_at) VALUES (?, ?, ?)`,
		id, ownerID, now,
	); err != nil {
		return nil, fmt.Errorf("adding owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return &models.Guild{ID: id, Name: name, OwnerID: ownerID, CreatedAt: now}, nil
}

func (s *GuildStore) GetByID(ctx context.Context, id string) (*models.Guild, error) {
	var g models.Guild
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM guilds WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying guild: %w", err)
	}
	return &g, nil
}

func (s *GuildStore) ListForUser(ctx context.Context, userID string) ([]*models.Guild, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.owner_id, g.created_at
		FROM guilds g
		JOIN guild_members gm ON gm.guild_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying guilds: %w", err)
	}
	defer rows.Close()

	guilds := make([]*models.Guild, 0)
	for rows.Next() {
		var g models.Guild
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning guild: %w", err)
		}
		guilds = append(guilds, &g)
	}
	return guilds, rows.Err()
}

func (s *GuildStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM guilds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting guild: %w", err)
	}
	return checkRowsAffected(result)
}

func (s *GuildStore) IsMember(ctx context.Context, guildID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guild_members WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return count > 0, nil
}

func (s *GuildStore) AddMember(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_members (guild_id, user_id, joined_at) VALUES (?, ?, ?)`,
		guildID, userID, time.Now().UTC(),
	)
	return mapInsertErr(err, "adding member")
}

func (s *GuildStore) RemoveMember(ctx context.Context, guildID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM guild_members WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	return checkRowsAffected(result)
}

func (s *GuildStore) ListMembers(ctx context.Context, guildID string) ([]models.PublicUserInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.avatar
		FROM users u
		JOIN guild_members gm ON gm.user_id = u.id
		WHERE gm.guild_id = ?
		ORDER BY u.username`, guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	members := make([]models.PublicUserInfo, 0)
	for rows.Next() {
		var info models.PublicUserInfo
		var avatar sql.NullString
		if err := rows.Scan(&info.ID, &info.Username, &avatar); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		info.Avatar = nullStringToPtr(avatar)
		members = append(members, info)
	}
	return members, rows.Err()
}
