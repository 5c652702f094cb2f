package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ranked-coordinator/internal/domain"

	"github.com/rs/zerolog"
)

type HistoryRepository struct {
	q      DBTX
	logger zerolog.Logger
}

func NewHistoryRepository(sqlDB *sql.DB, logger zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{q: sqlDB, logger: logger}
}

func (r *HistoryRepository) WithTx(tx *sql.Tx) *HistoryRepository {
	return &HistoryRepository{q: tx, logger: r.logger}
}

func (r *HistoryRepository) Create(ctx context.Context, h *domain.HistoryMatch) error {
	teams, err := marshalJSON(h.Teams)
	if err != nil {
		return err
	}
	mvps, err := marshalJSON(h.MVPs)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO history_matches (id, teams, winner, mvps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, teams, h.Winner, mvps, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create history match %s: %w", h.ID, err)
	}
	return appendChange(ctx, r.q, CollectionHistoryMatches, h.ID, ChangeAdded)
}

func (r *HistoryRepository) Get(ctx context.Context, id string) (*domain.HistoryMatch, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, teams, winner, mvps, created_at FROM history_matches WHERE id = ?`, id)

	var h domain.HistoryMatch
	var teams, mvps string
	err := row.Scan(&h.ID, &teams, &h.Winner, &mvps, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history match %s: %w", id, err)
	}
	if err := unmarshalJSON(teams, &h.Teams); err != nil {
		return nil, err
	}
	h.MVPs = make(map[string]string)
	if err := unmarshalJSON(mvps, &h.MVPs); err != nil {
		return nil, err
	}
	return &h, nil
}

// SetResult records the winner and optional MVP names. The winner field
// transitions exactly once: a second write against a resolved match reports
// ErrAlreadyApplied and changes nothing.
func (r *HistoryRepository) SetResult(ctx context.Context, id, winner string, mvps map[string]string) error {
	mvpJSON, err := marshalJSON(mvps)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE history_matches
		SET winner = ?, mvps = ?, updated_at = ?
		WHERE id = ? AND (winner = '' OR winner = 'N/A' OR winner = 'Pendente')`,
		winner, mvpJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set result on %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyApplied
	}
	return appendChange(ctx, r.q, CollectionHistoryMatches, id, ChangeModified)
}
