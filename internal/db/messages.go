package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zlingapp/server-sub000/internal/constants"
	"github.com/zlingapp/server-sub000/internal/models"
)

type MessageStore struct {
	db *DB
}

func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Insert(ctx context.Context, channelID string, author models.PublicUserInfo, content string) (*models.Message, error) {
	id, err := generateID("msg")
	if err != nil {
		return nil, fmt.Errorf("generating message ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, channelID, author.ID, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	return &models.Message{
		ID:        id,
		ChannelID: channelID,
		Author:    author,
		Content:   content,
		CreatedAt: now,
	}, nil
}

func (s *MessageStore) Get(ctx context.Context, channelID, id string) (*models.Message, error) {
	var m models.Message
	var avatar sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT m.id, m.channel_id, m.content, m.created_at, u.id, u.username, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.id = ? AND m.channel_id = ?`,
		id, channelID,
	).Scan(&m.ID, &m.ChannelID, &m.Content, &m.CreatedAt, &m.Author.ID, &m.Author.Username, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	m.Author.Avatar = nullStringToPtr(avatar)
	return &m, nil
}

func (s *MessageStore) Delete(ctx context.Context, channelID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ? AND channel_id = ?`, id, channelID,
	)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return checkRowsAffected(result)
}

// ListBefore pages the channel history backwards by insertion order. An
// empty beforeID starts from the newest message. Results are newest-first.
func (s *MessageStore) ListBefore(ctx context.Context, channelID, beforeID string, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > constants.MessageHistoryMaxLimit {
		limit = constants.MessageHistoryDefaultLimit
	}

	query := `SELECT m.id, m.channel_id, m.content, m.created_at, u.id, u.username, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.channel_id = ?`
	args := []any{channelID}

	if beforeID != "" {
		query += ` AND m.rowid < (SELECT rowid FROM messages WHERE id = ?)`
		args = append(args, beforeID)
	}
	query += ` ORDER BY m.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var m models.Message
		var avatar sql.NullString

		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Content, &m.CreatedAt, &m.Author.ID, &m.Author.Username, &avatar); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		m.Author.Avatar = nullStringToPtr(avatar)
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}
