package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/zlingapp/server-sub000/internal/models"
)

const inviteCodeLength = 10

type InviteStore struct {
	db *DB
}

func NewInviteStore(db *DB) *InviteStore {
	return &InviteStore{db: db}
}

// Create mints an invite code for the guild. expiresAt and maxUses are
// both optional; nil means the invite never expires or has unlimited
// uses.
func (s *InviteStore) Create(ctx context.Context, guildID, creatorID string, expiresAt *time.Time, maxUses *int) (*models.Invite, error) {
	code, err := gonanoid.New(inviteCodeLength)
	if err != nil {
		return nil, fmt.Errorf("generating invite code: %w", err)
	}
	now := time.Now().UTC()

	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC()
	}
	var uses any
	if maxUses != nil {
		uses = *maxUses
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invites (code, guild_id, creator_id, created_at, expires_at, max_uses, uses)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		code, guildID, creatorID, now, expires, uses,
	)
	if err != nil {
		return nil, mapInsertErr(err, "creating invite")
	}

	return &models.Invite{
		Code:      code,
		GuildID:   guildID,
		CreatorID: creatorID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		MaxUses:   maxUses,
	}, nil
}

func (s *InviteStore) Get(ctx context.Context, code string) (*models.Invite, error) {
	inv, err := scanInvite(s.db.QueryRowContext(ctx,
		`SELECT code, guild_id, creator_id, created_at, expires_at, max_uses, uses
		FROM invites WHERE code = ?`, code,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invite: %w", err)
	}
	return inv, nil
}

// Consume spends one use of the invite and returns it. A code that exists
// but is expired or out of uses fails with ErrExpired; the update and the
// liveness checks run as one statement so concurrent consumers cannot
// oversubscribe a limited invite.
func (s *InviteStore) Consume(ctx context.Context, code string) (*models.Invite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning invite transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE invites SET uses = uses + 1
		WHERE code = ?
		AND (expires_at IS NULL OR expires_at > ?)
		AND (max_uses IS NULL OR uses < max_uses)`,
		code, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("consuming invite: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking invite consumption: %w", err)
	}
	if rows == 0 {
		// Tell a dead invite apart from one that never existed.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM invites WHERE code = ?`, code,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("checking invite existence: %w", err)
		}
		if exists > 0 {
			return nil, ErrExpired
		}
		return nil, ErrNotFound
	}

	inv, err := scanInvite(tx.QueryRowContext(ctx,
		`SELECT code, guild_id, creator_id, created_at, expires_at, max_uses, uses
		FROM invites WHERE code = ?`, code,
	))
	if err != nil {
		return nil, fmt.Errorf("reading consumed invite: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing invite consumption: %w", err)
	}
	return inv, nil
}

func (s *InviteStore) ListByGuild(ctx context.Context, guildID string) ([]models.Invite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, guild_id, creator_id, created_at, expires_at, max_uses, uses
		FROM invites WHERE guild_id = ? ORDER BY created_at`, guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying invites: %w", err)
	}
	defer rows.Close()

	invites := make([]models.Invite, 0)
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invite: %w", err)
		}
		invites = append(invites, *inv)
	}
	return invites, rows.Err()
}

func (s *InviteStore) Delete(ctx context.Context, guildID, code string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invites WHERE code = ? AND guild_id = ?`, code, guildID,
	)
	if err != nil {
		return fmt.Errorf("deleting invite: %w", err)
	}
	return checkRowsAffected(result)
}

// DeleteExpired sweeps invites that can never be consumed again.
func (s *InviteStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invites
		WHERE (expires_at IS NOT NULL AND expires_at < ?)
		OR (max_uses IS NOT NULL AND uses >= max_uses)`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting dead invites: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvite(row rowScanner) (*models.Invite, error) {
	var inv models.Invite
	var expires sql.NullTime
	var maxUses sql.NullInt64
	if err := row.Scan(&inv.Code, &inv.GuildID, &inv.CreatorID, &inv.CreatedAt, &expires, &maxUses, &inv.Uses); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		inv.ExpiresAt = &t
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		inv.MaxUses = &n
	}
	return &inv, nil
}
