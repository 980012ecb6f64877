package storage

import (
	"context"
	"errors"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

var (
	// ErrCursorNotFound is returned when a cursor doesn't exist
	ErrCursorNotFound = errors.New("cursor not found")
)

// CursorRepository persists per-source cursors. Save must replace the stored
// value atomically: readers see either the old or the new cursor, never a mix.
type CursorRepository interface {
	// Get retrieves the cursor for a source
	Get(ctx context.Context, sourceID string) (*domain.Cursor, error)

	// Save replaces the cursor for cursor.SourceID
	Save(ctx context.Context, cursor *domain.Cursor) error

	// Delete removes the cursor for a source
	Delete(ctx context.Context, sourceID string) error

	// List returns every stored cursor
	List(ctx context.Context) ([]*domain.Cursor, error)
}
