package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ranked-coordinator/internal/constants"
	"ranked-coordinator/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ErrNotPromotable is returned when the pending match already left the open
// state, meaning promotion (or cancellation) already happened elsewhere.
var ErrNotPromotable = errors.New("match is not promotable")

// Promoter turns a fully-accepted pending match into a permanent history
// record. The status flip, the history insert and the queue drain run in one
// transaction, so a crash leaves either the untouched open match (retried on
// the next feed event) or the completed promotion, never a half of each.
type Promoter struct {
	db      *sql.DB
	pending *PendingMatchRepository
	history *HistoryRepository
	queue   *QueueRepository
	logger  zerolog.Logger
}

func NewPromoter(sqlDB *sql.DB, pending *PendingMatchRepository, history *HistoryRepository, queue *QueueRepository, logger zerolog.Logger) *Promoter {
	return &Promoter{db: sqlDB, pending: pending, history: history, queue: queue, logger: logger}
}

func (p *Promoter) Promote(ctx context.Context, m *domain.PendingMatch) (string, error) {
	historyID, err := gonanoid.New(constants.HistoryIDLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate history id: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin promotion transaction: %w", err)
	}
	defer tx.Rollback()

	ok, err := p.pending.WithTx(tx).CASStatus(ctx, m.ID, domain.StatusOpen, domain.StatusConfirmed, historyID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotPromotable
	}

	err = p.history.WithTx(tx).Create(ctx, &domain.HistoryMatch{
		ID:        historyID,
		Teams:     m.Teams,
		Winner:    domain.WinnerUnresolved,
		MVPs:      map[string]string{},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}

	if err := p.queue.WithTx(tx).DeleteAll(ctx, m.Participants); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit promotion of %s: %w", m.ID, err)
	}

	p.logger.Info().
		Str("match_id", m.ID).
		Str("history_id", historyID).
		Int("participants", len(m.Participants)).
		Msg("pending match promoted to history")
	return historyID, nil
}
