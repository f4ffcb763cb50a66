package db

import (
	"context"
	"log/slog"
	"time"
)

const DefaultCleanupInterval = 1 * time.Hour

// CleanupService periodically sweeps rows that can never be used again:
// expired refresh tokens and dead invites.
type CleanupService struct {
	refreshTokens *RefreshTokenStore
	invites       *InviteStore
	interval      time.Duration
	log           *slog.Logger
}

func NewCleanupService(refreshTokens *RefreshTokenStore, invites *InviteStore) *CleanupService {
	return &CleanupService{
		refreshTokens: refreshTokens,
		invites:       invites,
		interval:      DefaultCleanupInterval,
		log:           slog.With("component", "cleanup"),
	}
}

// Start sweeps once immediately, then on every tick until ctx is done.
func (s *CleanupService) Start(ctx context.Context) {
	s.log.Info("starting cleanup service", "interval", s.interval)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping cleanup service")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *CleanupService) sweep(ctx context.Context) {
	tokensDeleted, err := s.refreshTokens.DeleteExpired(ctx)
	if err != nil {
		s.log.Error("error deleting expired refresh tokens", "error", err)
	} else if tokensDeleted > 0 {
		s.log.Info("deleted expired refresh tokens", "count", tokensDeleted)
	}

	invitesDeleted, err := s.invites.DeleteExpired(ctx)
	if err != nil {
		s.log.Error("error deleting dead invites", "error", err)
	} else if invitesDeleted > 0 {
		s.log.Info("deleted dead invites", "count", invitesDeleted)
	}
}
