package service

import (
	"context"
	"errors"
	"time"

	"ranked-coordinator/internal/constants"
	"ranked-coordinator/internal/domain"
	"ranked-coordinator/internal/repository"

	"github.com/rs/zerolog"
)

// QueueService guards entry into the waiting queue. A player gets in only
// when they hold a profile, are not serving a decline cooldown, and are not
// committed to an open ready check. The state machine maintains the other
// direction of that invariant on its side.
type QueueService struct {
	queue    QueueStore
	profiles ProfileStore
	pending  PendingStore
	logger   zerolog.Logger
}

func NewQueueService(
	queue *repository.QueueRepository,
	profiles *repository.ProfileRepository,
	pending *repository.PendingMatchRepository,
	logger zerolog.Logger,
) *QueueService {
	return newQueueService(queue, profiles, pending, logger)
}

func newQueueService(queue QueueStore, profiles ProfileStore, pending PendingStore, logger zerolog.Logger) *QueueService {
	return &QueueService{queue: queue, profiles: profiles, pending: pending, logger: logger}
}

func (s *QueueService) Join(ctx context.Context, playerID string) (*domain.QueueEntry, error) {
	profile, err := s.profiles.Get(ctx, playerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if profile.OnCooldown(now) {
		return nil, ErrOnCooldown
	}

	active, err := s.pending.HasActiveWith(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrInReadyCheck
	}

	// already waiting: joining again is a no-op, not a position reset
	if existing, err := s.queue.Get(ctx, playerID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	entry := profile.NewQueueEntry(now.UTC())
	if err := s.queue.Put(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info().Str("player_id", playerID).Msg("player joined the queue")
	return &entry, nil
}

func (s *QueueService) Leave(ctx context.Context, playerID string) error {
	if err := s.queue.Delete(ctx, playerID); err != nil {
		return err
	}
	s.logger.Info().Str("player_id", playerID).Msg("player left the queue")
	return nil
}

func (s *QueueService) List(ctx context.Context, limit int) ([]domain.QueueEntry, error) {
	if limit <= 0 || limit > constants.QueueListLimit {
		limit = constants.QueueListLimit
	}
	return s.queue.List(ctx, limit)
}
