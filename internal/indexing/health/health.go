// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SourceHealth contains health data for one source.
type SourceHealth struct {
	SourceID            string       `json:"source_id"`
	Status              SystemStatus `json:"status"`
	State               string       `json:"state"`
	LastRunAt           *time.Time   `json:"last_run_at,omitempty"`
	LastSuccessAt       *time.Time   `json:"last_success_at,omitempty"`
	LastCommitAt        *time.Time   `json:"last_commit_at,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
	Partial             bool         `json:"partial"`
	DegradedItems       int          `json:"degraded_items"`
	FailedItems         int          `json:"failed_items"`
	CommitsPerHour      float64      `json:"commits_per_hour"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus            `json:"system_status"`
	Sources      map[string]SourceHealth `json:"sources"`
}

// Aggregate returns the worst status in report.
func Aggregate(report map[string]SourceHealth) SystemStatus {
	status := StatusHealthy
	for _, src := range report {
		if src.Status == StatusCritical {
			return StatusCritical
		}
		if src.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
