package service

import (
	"context"
	"errors"
	"time"

	"ranked-coordinator/internal/dispatch"
	"ranked-coordinator/internal/domain"
	"ranked-coordinator/internal/domain/rating"
	"ranked-coordinator/internal/repository"

	"github.com/rs/zerolog"
)

// PlayerService reads and maintains player profiles.
type PlayerService struct {
	profiles  ProfileStore
	directory *dispatch.Directory
	logger    zerolog.Logger
}

func NewPlayerService(profiles *repository.ProfileRepository, directory *dispatch.Directory, logger zerolog.Logger) *PlayerService {
	return newPlayerService(profiles, directory, logger)
}

func newPlayerService(profiles ProfileStore, directory *dispatch.Directory, logger zerolog.Logger) *PlayerService {
	return &PlayerService{profiles: profiles, directory: directory, logger: logger}
}

// Get looks the profile up by id first and falls back to the display name,
// matching how older records reference players.
func (s *PlayerService) Get(ctx context.Context, playerID string) (*domain.PlayerProfile, error) {
	profile, err := s.profiles.Get(ctx, playerID)
	if errors.Is(err, repository.ErrNotFound) {
		profile, err = s.profiles.GetByName(ctx, playerID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// Upsert registers or updates a profile. New profiles start at the rating
// floor unless a placement is supplied.
func (s *PlayerService) Upsert(ctx context.Context, p *domain.PlayerProfile) (*domain.PlayerProfile, error) {
	now := time.Now().UTC()

	existing, err := s.profiles.Get(ctx, p.PlayerID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if p.Tier == "" {
			p.Tier = rating.FloorTier
			p.Division = rating.Divisions[len(rating.Divisions)-1]
			p.XP = 0
		}
		p.CreatedAt = now
	case err != nil:
		return nil, err
	default:
		// registration never rewinds progression
		p.Tier = existing.Tier
		p.Division = existing.Division
		p.XP = existing.XP
		p.Wins = existing.Wins
		p.Losses = existing.Losses
		p.MVPs = existing.MVPs
		p.CooldownUntil = existing.CooldownUntil
		p.CreatedAt = existing.CreatedAt
	}
	p.UpdatedAt = now

	if err := s.profiles.Upsert(ctx, p); err != nil {
		return nil, err
	}
	s.directory.Invalidate(p.PlayerID)

	s.logger.Info().Str("player_id", p.PlayerID).Str("name", p.Name).Msg("profile saved")
	return p, nil
}
