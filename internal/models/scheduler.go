package models

import "time"

// Scheduler lifecycle states.
const (
	SchedulerStopped  = "stopped"
	SchedulerRunning  = "running"
	SchedulerStopping = "stopping"
)

// JobStats is the per-job slice of a scheduler snapshot.
type JobStats struct {
	ID        string     `json:"id"`
	Runs      int64      `json:"runs"`
	Errors    int64      `json:"errors"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
	LastTook  float64    `json:"lastTookSec,omitempty"`
}

// ExecutionRecord is one entry of the recent execution history ring.
type ExecutionRecord struct {
	JobID    string    `json:"jobId"`
	Start    time.Time `json:"start"`
	Duration float64   `json:"durationSec"`
	Error    string    `json:"error,omitempty"`
}

// SchedulerSnapshot is the scheduler's periodic self-report.
type SchedulerSnapshot struct {
	Time            time.Time         `json:"time"`
	State           string            `json:"state"`
	TotalExecutions int64             `json:"totalExecutions"`
	TotalErrors     int64             `json:"totalErrors"`
	UptimeSec       float64           `json:"uptimeSec"`
	Jobs            []JobStats        `json:"jobs"`
	Recent          []ExecutionRecord `json:"recent,omitempty"`

	// Collector process figures.
	Goroutines    int     `json:"goroutines"`
	HeapMB        float64 `json:"heapMb"`
	ProcessRSSMB  float64 `json:"processRssMb,omitempty"`
	HostUptimeSec uint64  `json:"hostUptimeSec,omitempty"`
}
