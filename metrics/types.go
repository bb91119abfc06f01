// Package metrics keeps in-memory run statistics for the web UI and
// exports the same events as Prometheus metrics.
package metrics

import "time"

// RunRecord is one finished generation run.
type RunRecord struct {
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Images   int           `json:"images"`
	At       time.Time     `json:"at"`
}

// WorkerStatus is the last health check result for an inference worker.
type WorkerStatus struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// SystemStatus is the overall service health.
type SystemStatus struct {
	// Health is "running" or "error"
	Health    string         `json:"health"`
	Version   string         `json:"version"`
	Uptime    time.Duration  `json:"uptime"`
	LastCheck time.Time      `json:"last_check"`
	Workers   []WorkerStatus `json:"workers,omitempty"`
}

// RunMetrics aggregates every run since start.
type RunMetrics struct {
	TotalRuns    int64         `json:"total_runs"`
	TotalSuccess int64         `json:"total_success"`
	TotalErrors  int64         `json:"total_errors"`
	TotalImages  int64         `json:"total_images"`
	SuccessRate  float64       `json:"success_rate"` // percent, 0-100
	AvgDuration  time.Duration `json:"avg_duration"`
}

// Run statuses, matching the history database.
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// Health values for SystemStatus
const (
	SystemHealthRunning = "running"
	SystemHealthError   = "error"
)
