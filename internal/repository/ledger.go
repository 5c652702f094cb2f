package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LedgerRepository is the idempotency store: a (type, entityId) row exists
// exactly when that logical event has been processed. Rows are append-only.
type LedgerRepository struct {
	q      DBTX
	logger zerolog.Logger
}

func NewLedgerRepository(sqlDB *sql.DB, logger zerolog.Logger) *LedgerRepository {
	return &LedgerRepository{q: sqlDB, logger: logger}
}

func (r *LedgerRepository) WithTx(tx *sql.Tx) *LedgerRepository {
	return &LedgerRepository{q: tx, logger: r.logger}
}

func (r *LedgerRepository) Seen(ctx context.Context, eventType, entityID string) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx,
		`SELECT 1 FROM notification_ledger WHERE event_type = ? AND entity_id = ?`,
		eventType, entityID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ledger for %s/%s: %w", eventType, entityID, err)
	}
	return true, nil
}

// Record inserts the ledger row. A duplicate insert reports ErrAlreadyApplied
// so a transaction racing a concurrent processor aborts instead of
// double-applying its mutations.
func (r *LedgerRepository) Record(ctx context.Context, eventType, entityID string) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO notification_ledger (event_type, entity_id, created_at)
		VALUES (?, ?, ?)`,
		eventType, entityID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record ledger entry %s/%s: %w", eventType, entityID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyApplied
	}
	return nil
}
