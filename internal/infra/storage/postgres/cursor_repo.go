package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/storage"
)

type cursorRow struct {
	SourceID      string    `db:"source_id"`
	LastTimestamp time.Time `db:"last_timestamp"`
	LastItemID    string    `db:"last_item_id"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r cursorRow) toDomain() *domain.Cursor {
	return &domain.Cursor{
		SourceID:      r.SourceID,
		LastTimestamp: r.LastTimestamp,
		LastItemID:    r.LastItemID,
		UpdatedAt:     r.UpdatedAt,
	}
}

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

const upsertCursor = `
INSERT INTO source_cursors (source_id, last_timestamp, last_item_id, updated_at)
VALUES (:source_id, :last_timestamp, :last_item_id, :updated_at)
ON CONFLICT (source_id) DO UPDATE SET
    last_timestamp = EXCLUDED.last_timestamp,
    last_item_id   = EXCLUDED.last_item_id,
    updated_at     = EXCLUDED.updated_at`

// Save upserts the cursor in a single statement.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	updated := cursor.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := r.db.NamedExecContext(ctx, upsertCursor, cursorRow{
		SourceID:      cursor.SourceID,
		LastTimestamp: cursor.LastTimestamp,
		LastItemID:    cursor.LastItemID,
		UpdatedAt:     updated,
	})
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Get retrieves a cursor by source ID.
func (r *CursorRepo) Get(ctx context.Context, sourceID string) (*domain.Cursor, error) {
	var row cursorRow
	err := r.db.GetContext(ctx, &row,
		`SELECT source_id, last_timestamp, last_item_id, updated_at FROM source_cursors WHERE source_id = $1`,
		sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return row.toDomain(), nil
}

// Delete removes a source's cursor.
func (r *CursorRepo) Delete(ctx context.Context, sourceID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM source_cursors WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}

// List returns all cursors ordered by source ID.
func (r *CursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	var rows []cursorRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT source_id, last_timestamp, last_item_id, updated_at FROM source_cursors ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	out := make([]*domain.Cursor, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
