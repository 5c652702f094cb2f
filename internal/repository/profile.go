package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ranked-coordinator/internal/domain"

	"github.com/rs/zerolog"
)

type ProfileRepository struct {
	q      DBTX
	logger zerolog.Logger
}

func NewProfileRepository(sqlDB *sql.DB, logger zerolog.Logger) *ProfileRepository {
	return &ProfileRepository{q: sqlDB, logger: logger}
}

func (r *ProfileRepository) WithTx(tx *sql.Tx) *ProfileRepository {
	return &ProfileRepository{q: tx, logger: r.logger}
}

const profileColumns = `player_id, name, tag, tier, division, xp, wins, losses, mvps,
	role, chat_user_id, notify_ready_check, notify_result, cooldown_until, created_at, updated_at`

func (r *ProfileRepository) scan(row *sql.Row) (*domain.PlayerProfile, error) {
	var p domain.PlayerProfile
	var cooldown sql.NullTime
	err := row.Scan(
		&p.PlayerID, &p.Name, &p.Tag, &p.Tier, &p.Division, &p.XP,
		&p.Wins, &p.Losses, &p.MVPs, &p.Role, &p.ChatUserID,
		&p.NotifyReadyCheck, &p.NotifyResult, &cooldown, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	if cooldown.Valid {
		p.CooldownUntil = cooldown.Time
	}
	return &p, nil
}

func (r *ProfileRepository) Get(ctx context.Context, playerID string) (*domain.PlayerProfile, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE player_id = ?`, playerID)
	return r.scan(row)
}

// GetByName resolves a profile by display name, case-insensitive. This is the
// lower-trust fallback for roster entries that carry no stable player id.
func (r *ProfileRepository) GetByName(ctx context.Context, name string) (*domain.PlayerProfile, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE name = ? COLLATE NOCASE LIMIT 1`, name)
	return r.scan(row)
}

func (r *ProfileRepository) Upsert(ctx context.Context, p *domain.PlayerProfile) error {
	now := time.Now().UTC()
	var cooldown any
	if !p.CooldownUntil.IsZero() {
		cooldown = p.CooldownUntil.UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO profiles
			(player_id, name, tag, tier, division, xp, wins, losses, mvps,
			 role, chat_user_id, notify_ready_check, notify_result, cooldown_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (player_id) DO UPDATE SET
			name = excluded.name,
			tag = excluded.tag,
			tier = excluded.tier,
			division = excluded.division,
			xp = excluded.xp,
			wins = excluded.wins,
			losses = excluded.losses,
			mvps = excluded.mvps,
			role = excluded.role,
			chat_user_id = excluded.chat_user_id,
			notify_ready_check = excluded.notify_ready_check,
			notify_result = excluded.notify_result,
			cooldown_until = excluded.cooldown_until,
			updated_at = excluded.updated_at`,
		p.PlayerID, p.Name, p.Tag, p.Tier, p.Division, p.XP, p.Wins, p.Losses, p.MVPs,
		p.Role, p.ChatUserID, p.NotifyReadyCheck, p.NotifyResult, cooldown, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile for %s: %w", p.PlayerID, err)
	}
	return nil
}

// SetCooldown records the re-join cooldown applied to a declining player.
func (r *ProfileRepository) SetCooldown(ctx context.Context, playerID string, until time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE profiles SET cooldown_until = ?, updated_at = ? WHERE player_id = ?`,
		until.UTC(), time.Now().UTC(), playerID)
	if err != nil {
		return fmt.Errorf("failed to set cooldown for %s: %w", playerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRating writes the computed post-match rating and counters as absolute
// values. Set-based on purpose: replaying the same result write is a no-op
// rather than a double increment.
func (r *ProfileRepository) UpdateRating(ctx context.Context, u domain.RatingUpdate) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE profiles
		SET tier = ?, division = ?, xp = ?, wins = ?, losses = ?, mvps = ?, updated_at = ?
		WHERE player_id = ?`,
		u.Tier, u.Division, u.XP, u.Wins, u.Losses, u.MVPs, time.Now().UTC(), u.PlayerID)
	if err != nil {
		return fmt.Errorf("failed to update rating for %s: %w", u.PlayerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
