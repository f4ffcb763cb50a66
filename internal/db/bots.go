package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zlingapp/server-sub000/internal/models"
)

type BotStore struct {
	db *DB
}

func NewBotStore(db *DB) *BotStore {
	return &BotStore{db: db}
}

// Create inserts the bot row and its backing user row in one transaction.
// Bot user IDs carry the "bot:" prefix so token verification can tell them
// apart without a lookup.
func (s *BotStore) Create(ctx context.Context, name, ownerID string) (*models.Bot, error) {
	id, err := generateBotID()
	if err != nil {
		return nil, fmt.Errorf("generating bot ID: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning bot creation transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, '', ?)`,
		id, name, now,
	); err != nil {
		return nil, mapInsertErr(err, "creating bot user")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bots (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		id, name, ownerID, now,
	); err != nil {
		return nil, mapInsertErr(err, "creating bot")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing bot creation: %w", err)
	}

	return &models.Bot{
		ID:        id,
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
	}, nil
}

func (s *BotStore) GetByID(ctx context.Context, id string) (*models.Bot, error) {
	var bot models.Bot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM bots WHERE id = ?`, id,
	).Scan(&bot.ID, &bot.Name, &bot.OwnerID, &bot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting bot: %w", err)
	}
	return &bot, nil
}

func (s *BotStore) ListByOwner(ctx context.Context, ownerID string) ([]models.Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, owner_id, created_at FROM bots WHERE owner_id = ? ORDER BY created_at`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing bots: %w", err)
	}
	defer rows.Close()

	var bots []models.Bot
	for rows.Next() {
		var bot models.Bot
		if err := rows.Scan(&bot.ID, &bot.Name, &bot.OwnerID, &bot.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning bot: %w", err)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bots: %w", err)
	}
	return bots, nil
}

// Delete removes the bot and its backing user row. Refresh tokens cascade
// through the foreign key.
func (s *BotStore) Delete(ctx context.Context, id, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning bot deletion transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM bots WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting bot: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting bot user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bot deletion: %w", err)
	}
	return nil
}
