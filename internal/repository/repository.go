package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyApplied is returned when an idempotency guard rejects a write
// that was already applied for the same logical event.
var ErrAlreadyApplied = errors.New("already applied")

// DBTX is satisfied by both *sql.DB and *sql.Tx so every repository can run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	CollectionPendingMatches = "pending_matches"
	CollectionHistoryMatches = "history_matches"
)

const (
	ChangeAdded    = "added"
	ChangeModified = "modified"
	ChangeRemoved  = "removed"
)

// appendChange records a change-feed row. It must run in the same transaction
// as the mutation it describes so the feed never observes a write that was
// rolled back.
func appendChange(ctx context.Context, q DBTX, collection, docID, changeType string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO changelog (collection, doc_id, change_type, created_at) VALUES (?, ?, ?, ?)`,
		collection, docID, changeType, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append changelog entry for %s/%s: %w", collection, docID, err)
	}
	return nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}
