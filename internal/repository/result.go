package repository

import (
	"context"
	"database/sql"
	"fmt"

	"ranked-coordinator/internal/domain"

	"github.com/rs/zerolog"
)

// ResultApplication is everything resolving one match mutates, applied as a
// single transaction: rating writes, queue removals and the ledger entry that
// makes the whole application idempotent.
type ResultApplication struct {
	LedgerType      string
	LedgerID        string
	Updates         []domain.RatingUpdate
	RemoveFromQueue []string
}

// ResultWriter applies a ResultApplication atomically.
type ResultWriter struct {
	db       *sql.DB
	profiles *ProfileRepository
	queue    *QueueRepository
	ledger   *LedgerRepository
	logger   zerolog.Logger
}

func NewResultWriter(sqlDB *sql.DB, profiles *ProfileRepository, queue *QueueRepository, ledger *LedgerRepository, logger zerolog.Logger) *ResultWriter {
	return &ResultWriter{db: sqlDB, profiles: profiles, queue: queue, ledger: ledger, logger: logger}
}

// Apply commits every mutation or none. The ledger row rides in the same
// transaction as the rating writes, so a crash between them cannot leave the
// ratings applied but the event unrecorded (or the reverse).
func (w *ResultWriter) Apply(ctx context.Context, app ResultApplication) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin result transaction: %w", err)
	}
	defer tx.Rollback()

	if err := w.ledger.WithTx(tx).Record(ctx, app.LedgerType, app.LedgerID); err != nil {
		return err
	}

	profiles := w.profiles.WithTx(tx)
	for _, u := range app.Updates {
		if err := profiles.UpdateRating(ctx, u); err != nil {
			return err
		}
	}

	if err := w.queue.WithTx(tx).DeleteAll(ctx, app.RemoveFromQueue); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result for %s/%s: %w", app.LedgerType, app.LedgerID, err)
	}

	w.logger.Info().
		Str("entity_id", app.LedgerID).
		Int("profiles_updated", len(app.Updates)).
		Msg("match result applied")
	return nil
}
