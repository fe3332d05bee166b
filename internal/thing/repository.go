package thing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists the thing registry.
type Repository interface {
	// Upsert inserts t or updates the existing row with the same ID.
	// CreatedAt is preserved on update.
	Upsert(ctx context.Context, t *Thing) error

	// GetByID returns ErrThingNotFound for an unknown ID.
	GetByID(ctx context.Context, id string) (*Thing, error)

	// List returns every thing ordered by ID.
	List(ctx context.Context) ([]Thing, error)

	// Delete returns ErrThingNotFound for an unknown ID.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository on the things table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a registry backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert inserts or updates a thing and sets its timestamps.
func (r *SQLiteRepository) Upsert(ctx context.Context, t *Thing) error {
	if t.ID == "" {
		return fmt.Errorf("thing id is required")
	}
	if t.Transport == "" {
		return fmt.Errorf("thing %s: transport is required", t.ID)
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO things (id, name, transport, address, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			transport = excluded.transport,
			address = excluded.address,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.Transport, t.Address, boolToInt(t.Enabled),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting thing %s: %w", t.ID, err)
	}

	// The stored created_at wins on conflict.
	stored, err := r.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	t.CreatedAt = stored.CreatedAt
	return nil
}

// GetByID returns one thing.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Thing, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, transport, address, enabled, created_at, updated_at
		FROM things WHERE id = ?`, id)

	t, err := scanThing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrThingNotFound
		}
		return nil, fmt.Errorf("querying thing %s: %w", id, err)
	}
	return t, nil
}

// List returns all things ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Thing, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, transport, address, enabled, created_at, updated_at
		FROM things ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying things: %w", err)
	}
	defer rows.Close()

	things := []Thing{}
	for rows.Next() {
		t, err := scanThing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thing: %w", err)
		}
		things = append(things, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating things: %w", err)
	}
	return things, nil
}

// Delete removes a thing.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM things WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting thing %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrThingNotFound
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanThing(s scanner) (*Thing, error) {
	var t Thing
	var enabled int
	var createdAt, updatedAt string
	if err := s.Scan(&t.ID, &t.Name, &t.Transport, &t.Address, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Enabled = enabled != 0

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at %q: %w", updatedAt, err)
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
