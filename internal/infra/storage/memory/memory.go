package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/storage"
)

// CursorRepo keeps cursors in a map. Used for dry runs and tests.
type CursorRepo struct {
	cursors map[string]domain.Cursor
	mu      sync.RWMutex
}

func NewCursorRepo() *CursorRepo {
	return &CursorRepo{cursors: make(map[string]domain.Cursor)}
}

func (r *CursorRepo) Get(ctx context.Context, sourceID string) (*domain.Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cursors[sourceID]
	if !ok {
		return nil, storage.ErrCursorNotFound
	}
	return &c, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[cursor.SourceID] = *cursor
	return nil
}

func (r *CursorRepo) Delete(ctx context.Context, sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, sourceID)
	return nil
}

func (r *CursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Cursor, 0, len(r.cursors))
	for _, c := range r.cursors {
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *domain.Cursor) int { return strings.Compare(a.SourceID, b.SourceID) })
	return out, nil
}
