package thing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/thingbridge/internal/linkstate"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryEntry is one recorded link transition.
type HistoryEntry struct {
	ID        int64           `json:"id"`
	ThingID   string          `json:"thing_id"`
	Link      linkstate.Link  `json:"link"`
	State     linkstate.State `json:"state"`
	Previous  linkstate.State `json:"previous"`
	CreatedAt time.Time       `json:"created_at"`
}

// HistoryRepository stores link state transitions.
//
// Implementations must be safe for concurrent use and store UTC times.
type HistoryRepository interface {
	RecordChange(ctx context.Context, c linkstate.Change) error

	// GetHistory returns the newest entries first. limit defaults to 50
	// and is capped at 200.
	GetHistory(ctx context.Context, thingID string, limit int) ([]HistoryEntry, error)

	// Prune deletes entries older than olderThan and returns how many.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteHistoryRepository implements HistoryRepository on the
// link_state_history table.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a history repository backed by db.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordChange inserts one transition. A zero At is stamped with the
// current time.
func (r *SQLiteHistoryRepository) RecordChange(ctx context.Context, c linkstate.Change) error {
	if c.ThingID == "" {
		return fmt.Errorf("thing id is required")
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO link_state_history (thing_id, link, state, previous, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ThingID, c.Link.String(), c.State.String(), c.Previous.String(), at.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting link state history: %w", err)
	}
	return nil
}

// GetHistory returns recent transitions for a thing, newest first.
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, thingID string, limit int) ([]HistoryEntry, error) {
	if thingID == "" {
		return nil, fmt.Errorf("thing id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, thing_id, link, state, previous, created_at
		FROM link_state_history
		WHERE thing_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, thingID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying link state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var link, state, previous string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.ThingID, &link, &state, &previous, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning link state history: %w", err)
		}
		if e.Link, err = linkstate.ParseLink(link); err != nil {
			return nil, err
		}
		if e.State, err = linkstate.ParseState(state); err != nil {
			return nil, err
		}
		if e.Previous, err = linkstate.ParseState(previous); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating link state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than now-olderThan.
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().Add(-olderThan).UTC().UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM link_state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting link state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
