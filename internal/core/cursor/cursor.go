// Package cursor tracks ingestion progress for each source.
//
// # Purpose
//
// The cursor is the bookmark that remembers the newest item of a source whose
// analysis has been fully handed to the report sinks. Anything at or before it
// is never fetched again; anything after it is processed on the next run.
//
// # Key Features
//
// Forward Only - Commit rejects a cursor older than the stored one with
// ErrCursorRegression. Committing the same position twice is a no-op, which
// makes re-running a crashed batch safe.
//
// Single Writer - Commits for one source are serialized inside the manager.
//
// Atomic Updates - Repositories replace the stored value in one step, so a crash
// leaves either the old or the new cursor.
//
// # Quick Start
//
//	manager := cursor.NewManager(cursorRepo)
//
//	c, _ := manager.Load(ctx, "51111111111")   // zero cursor on first run
//	manager.Commit(ctx, domain.Cursor{SourceID: "51111111111", LastTimestamp: ts, LastItemID: "1001"})
//	manager.Commit(ctx, older)                 // ✗ ErrCursorRegression
//
//	// Operator override (CLI)
//	manager.Reset(ctx, domain.Cursor{SourceID: "51111111111", LastTimestamp: earlier})
//
// # Package Structure
//
//   - manager.go - Store / Manager and the default implementation
//   - metrics.go - Commit history (commits per hour, average batch size)
package cursor

import (
	"log/slog"

	"github.com/vietddude/groupwatch/internal/core/domain"
	"github.com/vietddude/groupwatch/internal/infra/storage"
)

// Cursor represents the ingestion position of a source.
type Cursor = domain.Cursor

// NewManager creates a new cursor manager with the given repository.
func NewManager(repo storage.CursorRepository) *DefaultManager {
	return &DefaultManager{
		repo:       repo,
		locks:      make(map[string]*sourceLock),
		collectors: make(map[string]*MetricsCollector),
		log:        slog.Default(),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &MetricsCollector{
		windowSize: windowSize,
		commits:    make([]commitRecord, 0, windowSize),
	}
}
