package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/indexing/metrics"
	"github.com/vietddude/groupwatch/internal/infra/storage"
)

var (
	// ErrCursorRegression is returned when a commit would move a cursor backwards.
	ErrCursorRegression = errors.New("cursor regression")

	// ErrEmptyCursor is returned when committing a cursor without a position.
	ErrEmptyCursor = errors.New("empty cursor")
)

// Store is what the pipeline needs: read the position, then advance it.
type Store interface {
	// Load returns the committed cursor, or a zero cursor if none exists.
	Load(ctx context.Context, sourceID string) (domain.Cursor, error)

	// Commit atomically replaces the cursor. It never moves backwards.
	Commit(ctx context.Context, c domain.Cursor) error
}

// Manager adds operator actions on top of Store.
type Manager interface {
	Store

	// Reset sets a cursor to an arbitrary position, including backwards.
	Reset(ctx context.Context, c domain.Cursor) error

	// Clear deletes a cursor so the next run starts from scratch.
	Clear(ctx context.Context, sourceID string) error

	// List returns every stored cursor.
	List(ctx context.Context) ([]domain.Cursor, error)

	// GetMetrics returns commit statistics for a source.
	GetMetrics(sourceID string) Metrics

	// SetCommitCallback registers callback for successful commits.
	SetCommitCallback(fn func(c domain.Cursor))
}

type sourceLock struct {
	sync.Mutex
}

// DefaultManager implements Manager over a storage.CursorRepository.
type DefaultManager struct {
	repo       storage.CursorRepository
	mu         sync.RWMutex
	locks      map[string]*sourceLock
	collectors map[string]*MetricsCollector
	callback   func(domain.Cursor)
	log        *slog.Logger
}

// Load retrieves the current cursor for a source.
func (m *DefaultManager) Load(ctx context.Context, sourceID string) (domain.Cursor, error) {
	c, err := m.repo.Get(ctx, sourceID)
	if errors.Is(err, storage.ErrCursorNotFound) || (err == nil && c == nil) {
		return domain.Cursor{SourceID: sourceID}, nil
	}
	if err != nil {
		return domain.Cursor{}, fmt.Errorf("failed to load cursor for %s: %w", sourceID, err)
	}
	return *c, nil
}

// Commit advances the cursor. Equal positions are accepted as no-ops.
func (m *DefaultManager) Commit(ctx context.Context, c domain.Cursor) error {
	if c.IsZero() {
		return fmt.Errorf("%w for source %s", ErrEmptyCursor, c.SourceID)
	}

	lock := m.lockFor(c.SourceID)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.Load(ctx, c.SourceID)
	if err != nil {
		return err
	}

	// Idempotency: a replayed batch commits the position it already has.
	cmp := c.Compare(current)
	if !current.IsZero() && cmp == 0 {
		return nil
	}
	if !current.IsZero() && cmp < 0 {
		return fmt.Errorf(
			"%w: source %s at (%s, %s), got (%s, %s)",
			ErrCursorRegression,
			c.SourceID,
			current.LastTimestamp.Format(time.RFC3339), current.LastItemID,
			c.LastTimestamp.Format(time.RFC3339), c.LastItemID,
		)
	}

	return m.save(ctx, c)
}

// Reset overwrites the cursor without the forward-only check.
func (m *DefaultManager) Reset(ctx context.Context, c domain.Cursor) error {
	lock := m.lockFor(c.SourceID)
	lock.Lock()
	defer lock.Unlock()

	m.log.Warn("Resetting cursor", "source", c.SourceID, "timestamp", c.LastTimestamp, "item", c.LastItemID)
	return m.save(ctx, c)
}

// Clear deletes the cursor.
func (m *DefaultManager) Clear(ctx context.Context, sourceID string) error {
	lock := m.lockFor(sourceID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.repo.Delete(ctx, sourceID); err != nil {
		return fmt.Errorf("failed to clear cursor for %s: %w", sourceID, err)
	}
	m.log.Warn("Cleared cursor", "source", sourceID)
	return nil
}

// List returns every stored cursor.
func (m *DefaultManager) List(ctx context.Context) ([]domain.Cursor, error) {
	stored, err := m.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	out := make([]domain.Cursor, 0, len(stored))
	for _, c := range stored {
		out = append(out, *c)
	}
	return out, nil
}

// GetMetrics returns commit statistics for a source.
func (m *DefaultManager) GetMetrics(sourceID string) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if collector, ok := m.collectors[sourceID]; ok {
		return collector.GetMetrics()
	}
	return Metrics{}
}

// SetCommitCallback registers a callback for successful commits.
func (m *DefaultManager) SetCommitCallback(fn func(c domain.Cursor)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = fn
}

func (m *DefaultManager) save(ctx context.Context, c domain.Cursor) error {
	c.UpdatedAt = time.Now()
	if err := m.repo.Save(ctx, &c); err != nil {
		return fmt.Errorf("failed to save cursor for %s: %w", c.SourceID, err)
	}

	metrics.CursorTimestamp.WithLabelValues(c.SourceID).Set(float64(c.LastTimestamp.Unix()))

	m.mu.Lock()
	collector, ok := m.collectors[c.SourceID]
	if !ok {
		collector = NewMetricsCollector(0)
		m.collectors[c.SourceID] = collector
	}
	collector.RecordCommit(c, c.UpdatedAt)
	cb := m.callback
	m.mu.Unlock()

	if cb != nil {
		cb(c)
	}
	return nil
}

func (m *DefaultManager) lockFor(sourceID string) *sourceLock {
	m.mu.RLock()
	l, ok := m.locks[sourceID]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[sourceID]; ok {
		return l
	}
	l = &sourceLock{}
	m.locks[sourceID] = l
	return l
}
