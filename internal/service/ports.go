package service

import (
	"context"
	"errors"
	"time"

	"ranked-coordinator/internal/domain"
	"ranked-coordinator/internal/repository"
)

// User-facing action outcomes. The HTTP layer maps each to exactly one
// response; anything else becomes the generic failure.
var (
	ErrMatchNotFound   = errors.New("match not found")
	ErrMatchClosed     = errors.New("match is no longer open")
	ErrNotParticipant  = errors.New("player is not part of this match")
	ErrProfileNotFound = errors.New("player profile not found")
	ErrOnCooldown      = errors.New("player is on queue cooldown")
	ErrInReadyCheck    = errors.New("player is committed to an active ready check")
	ErrAlreadyResolved = errors.New("match result already recorded")
)

// Store ports. The repository package provides the sqlite implementations;
// tests provide in-memory fakes.

type PendingStore interface {
	Create(ctx context.Context, m *domain.PendingMatch) error
	Get(ctx context.Context, id string) (*domain.PendingMatch, error)
	ListOpen(ctx context.Context) ([]*domain.PendingMatch, error)
	HasActiveWith(ctx context.Context, playerID string) (bool, error)
	SetAcceptance(ctx context.Context, id, playerID string, a domain.Acceptance) (bool, error)
	CASStatus(ctx context.Context, id string, from, to domain.MatchStatus, historyID string) (bool, error)
	SetMessages(ctx context.Context, id string, messages map[string]string) error
}

type QueueStore interface {
	Put(ctx context.Context, entry domain.QueueEntry) error
	Get(ctx context.Context, playerID string) (*domain.QueueEntry, error)
	Delete(ctx context.Context, playerID string) error
	List(ctx context.Context, limit int) ([]domain.QueueEntry, error)
}

type ProfileStore interface {
	Get(ctx context.Context, playerID string) (*domain.PlayerProfile, error)
	GetByName(ctx context.Context, name string) (*domain.PlayerProfile, error)
	Upsert(ctx context.Context, p *domain.PlayerProfile) error
	SetCooldown(ctx context.Context, playerID string, until time.Time) error
}

type HistoryStore interface {
	Get(ctx context.Context, id string) (*domain.HistoryMatch, error)
	SetResult(ctx context.Context, id, winner string, mvps map[string]string) error
}

type Ledger interface {
	Seen(ctx context.Context, eventType, entityID string) (bool, error)
}

// Promoter creates the permanent history record for a fully-accepted match,
// atomically with the status flip and the queue drain.
type Promoter interface {
	Promote(ctx context.Context, m *domain.PendingMatch) (string, error)
}

// ResultApplier commits a full result application in one transaction.
type ResultApplier interface {
	Apply(ctx context.Context, app repository.ResultApplication) error
}

// EventTracker is the fire-and-forget analytics hook.
type EventTracker interface {
	Track(name string, params map[string]any, userID string)
}
