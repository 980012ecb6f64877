// Package file stores cursors in a single JSON document on local disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/storage"
)

// record is the on-disk shape: sourceId -> {timestamp, item_id, updated_at}.
type record struct {
	Timestamp time.Time `json:"timestamp"`
	ItemID    string    `json:"item_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CursorRepo persists cursors to one file, replaced via write-temp-then-rename.
type CursorRepo struct {
	path string
	mu   sync.Mutex
}

// NewCursorRepo creates a repository backed by path. Parent directories are created on first save.
func NewCursorRepo(path string) *CursorRepo {
	return &CursorRepo{path: path}
}

func (r *CursorRepo) Get(ctx context.Context, sourceID string) (*domain.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return nil, err
	}
	rec, ok := records[sourceID]
	if !ok {
		return nil, storage.ErrCursorNotFound
	}
	return toCursor(sourceID, rec), nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return err
	}
	updated := cursor.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	records[cursor.SourceID] = record{
		Timestamp: cursor.LastTimestamp,
		ItemID:    cursor.LastItemID,
		UpdatedAt: updated,
	}
	return r.write(records)
}

func (r *CursorRepo) Delete(ctx context.Context, sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return err
	}
	if _, ok := records[sourceID]; !ok {
		return nil
	}
	delete(records, sourceID)
	return r.write(records)
}

func (r *CursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Cursor, 0, len(records))
	for id, rec := range records {
		out = append(out, toCursor(id, rec))
	}
	slices.SortFunc(out, func(a, b *domain.Cursor) int { return strings.Compare(a.SourceID, b.SourceID) })
	return out, nil
}

func (r *CursorRepo) read() (map[string]record, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]record), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor file: %w", err)
	}
	records := make(map[string]record)
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse cursor file %s: %w", r.path, err)
	}
	return records, nil
}

func (r *CursorRepo) write(records map[string]record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cursors: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cursor dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("failed to replace cursor file: %w", err)
	}

	// Persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func toCursor(sourceID string, rec record) *domain.Cursor {
	return &domain.Cursor{
		SourceID:      sourceID,
		LastTimestamp: rec.Timestamp,
		LastItemID:    rec.ItemID,
		UpdatedAt:     rec.UpdatedAt,
	}
}
