package scheduler

import (
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/parapetdev/parapet/internal/models"
)

// Stats assembles the scheduler self-report: lifecycle state, totals,
// per-job figures, the recent execution ring and collector process health.
func (s *Scheduler) Stats() *models.SchedulerSnapshot {
	s.mu.RLock()
	state := s.state
	started := s.started
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	snap := &models.SchedulerSnapshot{
		Time:            time.Now(),
		State:           state,
		TotalExecutions: s.totalRuns.Load(),
		TotalErrors:     s.totalErrors.Load(),
		Goroutines:      runtime.NumGoroutine(),
	}
	if state == models.SchedulerRunning {
		snap.UptimeSec = time.Since(started).Seconds()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snap.HeapMB = float64(mem.HeapAlloc) / (1024 * 1024)

	// Process RSS and host uptime come from gopsutil; both are optional
	// decoration and never fail the report.
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			snap.ProcessRSSMB = float64(memInfo.RSS) / (1024 * 1024)
		}
	}
	if uptime, err := host.Uptime(); err == nil {
		snap.HostUptimeSec = uptime
	}

	for _, j := range jobs {
		j.mu.Lock()
		stats := models.JobStats{
			ID:        j.id,
			Runs:      j.runs,
			Errors:    j.errors,
			LastError: j.lastError,
			LastTook:  j.lastTook.Seconds(),
		}
		if !j.lastRun.IsZero() {
			t := j.lastRun
			stats.LastRun = &t
		}
		if !j.nextRun.IsZero() {
			t := j.nextRun
			stats.NextRun = &t
		}
		j.mu.Unlock()
		snap.Jobs = append(snap.Jobs, stats)
	}
	sort.Slice(snap.Jobs, func(i, k int) bool { return snap.Jobs[i].ID < snap.Jobs[k].ID })

	s.historyMu.Lock()
	snap.Recent = append([]models.ExecutionRecord(nil), s.history...)
	s.historyMu.Unlock()

	return snap
}
