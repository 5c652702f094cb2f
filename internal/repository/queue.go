package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ranked-coordinator/internal/domain"

	"github.com/rs/zerolog"
)

type QueueRepository struct {
	q      DBTX
	logger zerolog.Logger
}

func NewQueueRepository(sqlDB *sql.DB, logger zerolog.Logger) *QueueRepository {
	return &QueueRepository{q: sqlDB, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *QueueRepository) WithTx(tx *sql.Tx) *QueueRepository {
	return &QueueRepository{q: tx, logger: r.logger}
}

// Put inserts or replaces the player's queue entry. The player id is the
// primary key, so a player can never hold two entries.
func (r *QueueRepository) Put(ctx context.Context, entry domain.QueueEntry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO queue_entries
			(player_id, name, tag, tier, division, role, chat_user_id, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.PlayerID, entry.Name, entry.Tag, entry.Tier, entry.Division,
		entry.Role, entry.ChatUserID, entry.JoinedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put queue entry for %s: %w", entry.PlayerID, err)
	}
	return nil
}

func (r *QueueRepository) Get(ctx context.Context, playerID string) (*domain.QueueEntry, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT player_id, name, tag, tier, division, role, chat_user_id, joined_at
		FROM queue_entries WHERE player_id = ?`, playerID)

	var e domain.QueueEntry
	err := row.Scan(&e.PlayerID, &e.Name, &e.Tag, &e.Tier, &e.Division, &e.Role, &e.ChatUserID, &e.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry for %s: %w", playerID, err)
	}
	return &e, nil
}

func (r *QueueRepository) Delete(ctx context.Context, playerID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM queue_entries WHERE player_id = ?`, playerID)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry for %s: %w", playerID, err)
	}
	return nil
}

func (r *QueueRepository) DeleteAll(ctx context.Context, playerIDs []string) error {
	if len(playerIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(playerIDs)), ",")
	args := make([]any, len(playerIDs))
	for i, id := range playerIDs {
		args[i] = id
	}
	_, err := r.q.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM queue_entries WHERE player_id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to delete queue entries: %w", err)
	}
	return nil
}

// List returns waiting players ordered by join time, oldest first.
func (r *QueueRepository) List(ctx context.Context, limit int) ([]domain.QueueEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT player_id, name, tag, tier, division, role, chat_user_id, joined_at
		FROM queue_entries ORDER BY joined_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		var e domain.QueueEntry
		if err := rows.Scan(&e.PlayerID, &e.Name, &e.Tag, &e.Tier, &e.Division, &e.Role, &e.ChatUserID, &e.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
