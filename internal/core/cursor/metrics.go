package cursor

import (
	"time"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// commitRecord holds timing data for a committed cursor.
type commitRecord struct {
	Position    time.Time
	CommittedAt time.Time
}

// Metrics holds cursor commit statistics.
type Metrics struct {
	Commits               int
	CommitsPerHour        float64
	AverageCommitInterval time.Duration
	LastCommitAt          *time.Time
	// Freshness is how far behind wall clock the newest committed item is.
	Freshness time.Duration
}

// MetricsCollector tracks commits over a sliding window.
type MetricsCollector struct {
	windowSize int            // number of commits to track
	commits    []commitRecord // ring buffer of commit records
	total      int
}

// RecordCommit records a successful commit.
func (mc *MetricsCollector) RecordCommit(c domain.Cursor, committedAt time.Time) {
	record := commitRecord{
		Position:    c.LastTimestamp,
		CommittedAt: committedAt,
	}
	mc.total++

	if len(mc.commits) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.commits, mc.commits[1:])
		mc.commits[len(mc.commits)-1] = record
	} else {
		mc.commits = append(mc.commits, record)
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{Commits: mc.total}
	if len(mc.commits) == 0 {
		return m
	}

	last := mc.commits[len(mc.commits)-1]
	lastAt := last.CommittedAt
	m.LastCommitAt = &lastAt
	m.Freshness = last.CommittedAt.Sub(last.Position)

	if len(mc.commits) >= 2 {
		first := mc.commits[0]
		duration := last.CommittedAt.Sub(first.CommittedAt)
		if duration > 0 {
			intervals := float64(len(mc.commits) - 1)
			m.CommitsPerHour = intervals / duration.Hours()
			m.AverageCommitInterval = time.Duration(float64(duration) / intervals)
		}
	}
	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.commits = mc.commits[:0]
	mc.total = 0
}
