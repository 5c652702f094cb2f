// Package feed replays the changelog table to registered handlers, standing
// in for the realtime snapshot listeners of the original document store.
//
// Delivery is at-least-once: the cursor only advances after a handler returns
// nil, and a restart redelivers anything in flight. Per-document order follows
// write order; there is no ordering across collections. Handlers therefore
// treat every event as "the document may have changed" and reload current
// state instead of trusting the payload.
package feed

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"ranked-coordinator/internal/constants"
	"ranked-coordinator/internal/metrics"

	"github.com/rs/zerolog"
)

type Event struct {
	Seq        int64
	Collection string
	DocID      string
	Type       string
	At         time.Time
}

type Handler func(ctx context.Context, ev Event) error

type Watcher struct {
	db       *sql.DB
	logger   zerolog.Logger
	interval time.Duration
	consumer string

	mu       sync.Mutex
	handlers map[string]Handler
}

func NewWatcher(db *sql.DB, interval time.Duration, logger zerolog.Logger) *Watcher {
	return &Watcher{
		db:       db,
		logger:   logger,
		interval: interval,
		consumer: "coordinator",
		handlers: make(map[string]Handler),
	}
}

// Subscribe registers the handler for a collection. One handler per
// collection; registering twice replaces the previous handler.
func (w *Watcher) Subscribe(collection string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[collection] = h
}

func (w *Watcher) handler(collection string) Handler {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handlers[collection]
}

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("feed watcher started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("feed watcher stopped")
			return
		case <-ticker.C:
			if err := w.poll(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("feed poll failed")
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	cursor, err := w.loadCursor(ctx)
	if err != nil {
		return err
	}

	rows, err := w.db.QueryContext(ctx, `
		SELECT seq, collection, doc_id, change_type, created_at
		FROM changelog WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
		cursor, constants.FeedBatchSize)
	if err != nil {
		return fmt.Errorf("failed to read changelog: %w", err)
	}

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Seq, &ev.Collection, &ev.DocID, &ev.Type, &ev.At); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan changelog row: %w", err)
		}
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate changelog: %w", err)
	}

	for _, ev := range events {
		h := w.handler(ev.Collection)
		if h != nil {
			metrics.FeedEvents.WithLabelValues(ev.Collection).Inc()
			if err := h(ctx, ev); err != nil {
				// Leave the cursor where it is; the event is redelivered on
				// the next tick and the handler's guards keep that safe.
				metrics.FeedHandlerErrors.WithLabelValues(ev.Collection).Inc()
				w.logger.Error().Err(err).
					Str("collection", ev.Collection).
					Str("doc_id", ev.DocID).
					Int64("seq", ev.Seq).
					Msg("feed handler failed, will retry")
				return nil
			}
		}
		if err := w.saveCursor(ctx, ev.Seq); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) loadCursor(ctx context.Context) (int64, error) {
	var seq int64
	err := w.db.QueryRowContext(ctx,
		`SELECT seq FROM feed_cursors WHERE consumer = ?`, w.consumer).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load feed cursor: %w", err)
	}
	return seq, nil
}

func (w *Watcher) saveCursor(ctx context.Context, seq int64) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO feed_cursors (consumer, seq) VALUES (?, ?)
		ON CONFLICT (consumer) DO UPDATE SET seq = excluded.seq`,
		w.consumer, seq)
	if err != nil {
		return fmt.Errorf("failed to save feed cursor: %w", err)
	}
	return nil
}
