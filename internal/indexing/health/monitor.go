package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/groupwatch/internal/core/cursor"
	"github.com/vietddude/groupwatch/internal/indexing/pipeline"
)

// criticalFailures is the number of failed runs in a row that makes a source critical.
const criticalFailures = 3

// CommitStats exposes cursor commit statistics.
type CommitStats interface {
	GetMetrics(sourceID string) cursor.Metrics
}

type runState struct {
	state         pipeline.State
	lastRunAt     time.Time
	lastSuccessAt time.Time
	failures      int
	lastErr       string
	partial       bool
	degraded      int
	failed        int
}

// Monitor aggregates run outcomes and pipeline states per source.
type Monitor struct {
	sources    []string
	stats      CommitStats
	staleAfter time.Duration
	runs       map[string]*runState
	mu         sync.RWMutex
}

// NewMonitor creates a new health monitor. A source whose last successful
// run is older than staleAfter is degraded; zero disables the check.
func NewMonitor(sources []string, stats CommitStats, staleAfter time.Duration) *Monitor {
	runs := make(map[string]*runState, len(sources))
	for _, id := range sources {
		runs[id] = &runState{state: pipeline.StateIdle}
	}
	return &Monitor{
		sources:    sources,
		stats:      stats,
		staleAfter: staleAfter,
		runs:       runs,
	}
}

// ObserveTransition records the latest pipeline state of a source.
func (m *Monitor) ObserveTransition(t pipeline.Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(t.SourceID).state = t.To
}

// RecordRun records the outcome of a finished run.
func (m *Monitor) RecordRun(sum pipeline.Summary, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.get(sum.SourceID)
	rs.lastRunAt = time.Now()
	rs.partial = sum.Partial
	rs.degraded = sum.Degraded
	rs.failed = sum.Failed

	if err != nil {
		rs.failures++
		rs.lastErr = err.Error()
		return
	}
	rs.failures = 0
	rs.lastErr = ""
	rs.lastSuccessAt = rs.lastRunAt
}

func (m *Monitor) get(sourceID string) *runState {
	rs, ok := m.runs[sourceID]
	if !ok {
		rs = &runState{state: pipeline.StateIdle}
		m.runs[sourceID] = rs
		m.sources = append(m.sources, sourceID)
	}
	return rs
}

// CheckHealth evaluates every known source.
func (m *Monitor) CheckHealth(_ context.Context) map[string]SourceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := make(map[string]SourceHealth, len(m.sources))
	now := time.Now()

	for _, id := range m.sources {
		rs := m.runs[id]
		h := SourceHealth{
			SourceID:            id,
			Status:              StatusHealthy,
			State:               string(rs.state),
			ConsecutiveFailures: rs.failures,
			LastError:           rs.lastErr,
			Partial:             rs.partial,
			DegradedItems:       rs.degraded,
			FailedItems:         rs.failed,
		}
		if !rs.lastRunAt.IsZero() {
			at := rs.lastRunAt
			h.LastRunAt = &at
		}
		if !rs.lastSuccessAt.IsZero() {
			at := rs.lastSuccessAt
			h.LastSuccessAt = &at
		}
		if m.stats != nil {
			cm := m.stats.GetMetrics(id)
			h.LastCommitAt = cm.LastCommitAt
			h.CommitsPerHour = cm.CommitsPerHour
		}

		stale := m.staleAfter > 0 && !rs.lastRunAt.IsZero() &&
			(rs.lastSuccessAt.IsZero() || now.Sub(rs.lastSuccessAt) > m.staleAfter)

		// Evaluate Status
		if rs.state == pipeline.StateAborted || rs.failures >= criticalFailures {
			h.Status = StatusCritical
		} else if rs.failures > 0 || rs.partial || rs.failed > 0 || stale {
			h.Status = StatusDegraded
		}

		report[id] = h
	}
	return report
}
