package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zlingapp/server-sub000/internal/models"
)

type ChannelStore struct {
	db *DB
}

func NewChannelStore(db *DB) *ChannelStore {
	return &ChannelStore{db: db}
}

func (s *ChannelStore) Create(ctx context.Context, guildID, name string) (*models.Channel, error) {
	id, err := generateID("chn")
	if err != nil {
		return nil, fmt.Errorf("generating channel ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channels (id, guild_id, name, created_at) VALUES (?, ?, ?, ?)`,
		id, guildID, name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating channel: %w", err)
	}

	return &models.Channel{ID: id, GuildID: guildID, Name: name, CreatedAt: now}, nil
}

func (s *ChannelStore) GetByID(ctx context.Context, id string) (*models.Channel, error) {
	var c models.Channel
	var guildID, name sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, name, created_at FROM channels WHERE id = ?`, id,
	).Scan(&c.ID, &guildID, &name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel: %w", err)
	}

	c.GuildID = guildID.String
	c.Name = name.String
	return &c, nil
}

func (s *ChannelStore) ListByGuild(ctx context.Context, guildID string) ([]*models.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, name, created_at FROM channels WHERE guild_id = ? ORDER BY created_at`,
		guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	channels := make([]*models.Channel, 0)
	for rows.Next() {
		var c models.Channel
		var gid, name sql.NullString
		if err := rows.Scan(&c.ID, &gid, &name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		c.GuildID = gid.String
		c.Name = name.String
		channels = append(channels, &c)
	}
	return channels, rows.Err()
}

func (s *ChannelStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return checkRowsAffected(result)
}

// CanUserSee reports whether the user may read a channel: guild channels
// require membership, DM channels require being one of the pair.
func (s *ChannelStore) CanUserSee(ctx context.Context, userID, channelID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		FROM channels c
		LEFT JOIN guild_members gm ON gm.guild_id = c.guild_id AND gm.user_id = ?
		LEFT JOIN dm_channels dm ON dm.channel_id = c.id AND ? IN (dm.user_min, dm.user_max)
		WHERE c.id = ? AND (gm.user_id IS NOT NULL OR dm.channel_id IS NOT NULL)`,
		userID, userID, channelID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking channel visibility: %w", err)
	}
	return count > 0, nil
}

// CanUserManageMessages reports whether the user may delete other users'
// messages in the channel (guild owner only; never true for DMs).
func (s *ChannelStore) CanUserManageMessages(ctx context.Context, userID, channelID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		FROM channels c
		JOIN guilds g ON g.id = c.guild_id
		WHERE c.id = ? AND g.owner_id = ?`,
		channelID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking message management: %w", err)
	}
	return count > 0, nil
}

// GetOrCreateDM resolves the DM channel between two users, creating it on
// first use. The pair is stored in lexicographic order so the lookup is
// independent of argument order. Self-DMs (a == b) are allowed.
func (s *ChannelStore) GetOrCreateDM(ctx context.Context, a, b string) (*models.Channel, error) {
	lo, hi := orderPair(a, b)

	if ch, err := s.getDM(ctx, lo, hi); err == nil {
		return ch, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err := generateID("dmc")
	if err != nil {
		return nil, fmt.Errorf("generating channel ID: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channels (id, guild_id, name, created_at) VALUES (?, NULL, NULL, ?)`,
		id, now,
	); err != nil {
		return nil, fmt.Errorf("creating DM channel: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dm_channels (channel_id, user_min, user_max) VALUES (?, ?, ?)`,
		id, lo, hi,
	)
	if err != nil {
		// A concurrent request may have created the pair first.
		if isUniqueConstraintError(err) {
			return s.getDM(ctx, lo, hi)
		}
		return nil, fmt.Errorf("creating DM pair: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return &models.Channel{ID: id, CreatedAt: now}, nil
}

// GetDMPair returns the two participants of a DM channel.
func (s *ChannelStore) GetDMPair(ctx context.Context, channelID string) (string, string, error) {
	var lo, hi string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_min, user_max FROM dm_channels WHERE channel_id = ?`, channelID,
	).Scan(&lo, &hi)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("querying DM pair: %w", err)
	}
	return lo, hi, nil
}

func (s *ChannelStore) getDM(ctx context.Context, lo, hi string) (*models.Channel, error) {
	var c models.Channel
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.created_at
		FROM channels c
		JOIN dm_channels dm ON dm.channel_id = c.id
		WHERE dm.user_min = ? AND dm.user_max = ?`,
		lo, hi,
	).Scan(&c.ID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying DM channel: %w", err)
	}
	return &c, nil
}
