package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ranked-coordinator/internal/domain"

	"github.com/rs/zerolog"
)

type PendingMatchRepository struct {
	q      DBTX
	logger zerolog.Logger
}

func NewPendingMatchRepository(sqlDB *sql.DB, logger zerolog.Logger) *PendingMatchRepository {
	return &PendingMatchRepository{q: sqlDB, logger: logger}
}

func (r *PendingMatchRepository) WithTx(tx *sql.Tx) *PendingMatchRepository {
	return &PendingMatchRepository{q: tx, logger: r.logger}
}

func (r *PendingMatchRepository) Create(ctx context.Context, m *domain.PendingMatch) error {
	teams, err := marshalJSON(m.Teams)
	if err != nil {
		return err
	}
	participants, err := marshalJSON(m.Participants)
	if err != nil {
		return err
	}
	acceptance, err := marshalJSON(m.Acceptance)
	if err != nil {
		return err
	}
	messages, err := marshalJSON(m.Messages)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO pending_matches
			(id, status, teams, participants, acceptance, messages, history_id, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Status), teams, participants, acceptance, messages,
		m.HistoryID, m.ExpiresAt.UTC(), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create pending match %s: %w", m.ID, err)
	}
	return appendChange(ctx, r.q, CollectionPendingMatches, m.ID, ChangeAdded)
}

const pendingColumns = `id, status, teams, participants, acceptance, messages, history_id, expires_at, created_at`

func scanPending(scan func(...any) error) (*domain.PendingMatch, error) {
	var m domain.PendingMatch
	var status, teams, participants, acceptance, messages string
	err := scan(&m.ID, &status, &teams, &participants, &acceptance, &messages,
		&m.HistoryID, &m.ExpiresAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending match: %w", err)
	}

	m.Status = domain.NormalizeStatus(status)
	if err := unmarshalJSON(teams, &m.Teams); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(participants, &m.Participants); err != nil {
		return nil, err
	}
	m.Acceptance = make(map[string]domain.Acceptance)
	if err := unmarshalJSON(acceptance, &m.Acceptance); err != nil {
		return nil, err
	}
	m.Messages = make(map[string]string)
	if err := unmarshalJSON(messages, &m.Messages); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PendingMatchRepository) Get(ctx context.Context, id string) (*domain.PendingMatch, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_matches WHERE id = ?`, id)
	return scanPending(row.Scan)
}

// ListOpen returns every non-terminal match, used to reschedule expiry timers
// after a restart.
func (r *PendingMatchRepository) ListOpen(ctx context.Context) ([]*domain.PendingMatch, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_matches WHERE status = ?`, string(domain.StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to list open pending matches: %w", err)
	}
	defer rows.Close()

	var out []*domain.PendingMatch
	for rows.Next() {
		m, err := scanPending(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HasActiveWith reports whether the player is committed to any non-terminal
// pending match.
func (r *PendingMatchRepository) HasActiveWith(ctx context.Context, playerID string) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `
		SELECT 1 FROM pending_matches
		WHERE status = ?
		  AND EXISTS (SELECT 1 FROM json_each(participants) WHERE json_each.value = ?)
		LIMIT 1`, string(domain.StatusOpen), playerID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check active matches for %s: %w", playerID, err)
	}
	return true, nil
}

// SetAcceptance records a single player's answer. Guarded on status so a late
// answer against a closed match changes nothing; the bool reports whether the
// row was updated.
func (r *PendingMatchRepository) SetAcceptance(ctx context.Context, id, playerID string, a domain.Acceptance) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE pending_matches
		SET acceptance = json_set(acceptance, '$."' || ? || '"', ?), updated_at = ?
		WHERE id = ? AND status = ?`,
		playerID, string(a), time.Now().UTC(), id, string(domain.StatusOpen))
	if err != nil {
		return false, fmt.Errorf("failed to set acceptance on %s for %s: %w", id, playerID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	return true, appendChange(ctx, r.q, CollectionPendingMatches, id, ChangeModified)
}

// CASStatus flips the match status only when it still holds the expected
// value. This is the re-entry guard for confirm, cancel and timeout.
func (r *PendingMatchRepository) CASStatus(ctx context.Context, id string, from, to domain.MatchStatus, historyID string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE pending_matches
		SET status = ?, history_id = CASE WHEN ? != '' THEN ? ELSE history_id END, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), historyID, historyID, time.Now().UTC(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition %s from %s to %s: %w", id, from, to, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	return true, appendChange(ctx, r.q, CollectionPendingMatches, id, ChangeModified)
}

// SetMessages stores the outward message handles for later deletion.
// Bookkeeping only: it does not advance the state machine and writes no
// changelog row.
func (r *PendingMatchRepository) SetMessages(ctx context.Context, id string, messages map[string]string) error {
	data, err := marshalJSON(messages)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE pending_matches SET messages = ?, updated_at = ? WHERE id = ?`,
		data, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set messages on %s: %w", id, err)
	}
	return nil
}
