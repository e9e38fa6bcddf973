// Package scheduler drives the collector's periodic jobs. Each registered
// job runs on its own goroutine against a Trigger; handler failures and
// panics are counted and logged but never stop the scheduler.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/metrics"
	"github.com/parapetdev/parapet/internal/models"
)

// DefaultMisfireGrace is how late a firing may start before it is skipped.
const DefaultMisfireGrace = 5 * time.Minute

// recentHistorySize bounds the execution history ring in the self-report.
const recentHistorySize = 50

// Handler is one job's work function. The context is cancelled on Stop.
type Handler func(ctx context.Context) error

// Options tune one job's execution behavior.
type Options struct {
	// Coalesce collapses a backlog of missed firings into a single run
	// instead of running once per missed firing.
	Coalesce bool
	// SingleInstance skips a firing while the previous run is still going.
	SingleInstance bool
	// MisfireGrace is how late a firing may start before being skipped
	// entirely. Zero means DefaultMisfireGrace.
	MisfireGrace time.Duration
}

type job struct {
	id      string
	trigger Trigger
	handler Handler
	opts    Options

	mu        sync.Mutex
	runs      int64
	errors    int64
	lastRun   time.Time
	lastError string
	lastTook  time.Duration
	nextRun   time.Time
	running   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the job set and their goroutines.
type Scheduler struct {
	loc *time.Location

	mu      sync.RWMutex
	jobs    map[string]*job
	state   string
	started time.Time

	totalRuns   atomic.Int64
	totalErrors atomic.Int64

	historyMu sync.Mutex
	history   []models.ExecutionRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped scheduler operating in the given timezone.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		loc:   loc,
		jobs:  make(map[string]*job),
		state: models.SchedulerStopped,
	}
}

// Register adds a job. Registering while the scheduler runs starts the job
// immediately; a duplicate id is an error.
func (s *Scheduler) Register(id string, trigger Trigger, handler Handler, opts Options) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	if trigger == nil || handler == nil {
		return fmt.Errorf("job %s: trigger and handler are required", id)
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = DefaultMisfireGrace
	}

	j := &job{id: id, trigger: trigger, handler: handler, opts: opts}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job %s: already registered", id)
	}
	s.jobs[id] = j

	if s.state == models.SchedulerRunning {
		s.startJobLocked(j)
	}
	log.Debug().Str("job", id).Str("trigger", trigger.String()).Msg("Job registered")
	return nil
}

// Unregister stops and removes a job. Removing an unknown id is a no-op.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if j.cancel != nil {
		j.cancel()
		<-j.done
	}
	log.Debug().Str("job", id).Msg("Job unregistered")
}

// Jobs returns the registered job ids.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	return out
}

// Start launches every registered job. Starting twice is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.SchedulerRunning {
		return fmt.Errorf("scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = models.SchedulerRunning
	s.started = time.Now()

	for _, j := range s.jobs {
		s.startJobLocked(j)
	}
	log.Info().Int("jobs", len(s.jobs)).Str("timezone", s.loc.String()).Msg("Scheduler started")
	return nil
}

// caller must hold s.mu.
func (s *Scheduler) startJobLocked(j *job) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	s.wg.Add(1)
	go s.runJob(jobCtx, j)
}

// Stop cancels all jobs. With wait true it blocks until running handlers
// return or the deadline passes, whichever comes first.
func (s *Scheduler) Stop(wait bool, deadline time.Duration) {
	s.mu.Lock()
	if s.state != models.SchedulerRunning {
		s.mu.Unlock()
		return
	}
	s.state = models.SchedulerStopping
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	if wait {
		finished := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(deadline):
			log.Warn().Dur("deadline", deadline).Msg("Scheduler stop deadline passed with handlers still running")
		}
	}

	s.mu.Lock()
	s.state = models.SchedulerStopped
	s.mu.Unlock()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer close(j.done)

	next := j.trigger.Next(time.Now().In(s.loc))
	for {
		j.mu.Lock()
		j.nextRun = next
		j.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		fired := next
		if j.opts.Coalesce {
			// Collapse any backlog: schedule from the current time.
			next = j.trigger.Next(time.Now().In(s.loc))
		} else {
			// Fixed-rate: schedule from the nominal firing time, so a
			// slow run is followed by the catch-up firings.
			next = j.trigger.Next(fired.In(s.loc))
		}

		// A firing that is too stale (system sleep, clock jump, long
		// backlog) is skipped rather than run against the past.
		if late := time.Since(fired); late > j.opts.MisfireGrace {
			log.Warn().
				Str("job", j.id).
				Dur("late", late).
				Msg("Skipping misfired job run")
			continue
		}

		if j.opts.SingleInstance {
			j.mu.Lock()
			if j.running {
				j.mu.Unlock()
				log.Debug().Str("job", j.id).Msg("Skipping firing, previous run still in progress")
				continue
			}
			j.running = true
			j.mu.Unlock()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(ctx, j)
			if j.opts.SingleInstance {
				j.mu.Lock()
				j.running = false
				j.mu.Unlock()
			}
		}()
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	start := time.Now()
	err := s.invoke(ctx, j)
	took := time.Since(start)

	s.totalRuns.Add(1)
	metrics.JobExecutions.WithLabelValues(j.id).Inc()
	metrics.JobDuration.WithLabelValues(j.id).Observe(took.Seconds())

	j.mu.Lock()
	j.runs++
	j.lastRun = start
	j.lastTook = took
	if err != nil {
		j.errors++
		j.lastError = err.Error()
	} else {
		j.lastError = ""
	}
	j.mu.Unlock()

	record := models.ExecutionRecord{JobID: j.id, Start: start, Duration: took.Seconds()}
	if err != nil {
		record.Error = err.Error()
		s.totalErrors.Add(1)
		metrics.JobErrors.WithLabelValues(j.id).Inc()
		log.Error().Str("job", j.id).Dur("took", took).Err(err).Msg("Job failed")
	} else {
		log.Debug().Str("job", j.id).Dur("took", took).Msg("Job completed")
	}

	s.historyMu.Lock()
	s.history = append(s.history, record)
	if len(s.history) > recentHistorySize {
		s.history = s.history[len(s.history)-recentHistorySize:]
	}
	s.historyMu.Unlock()
}

// invoke runs the handler with panic containment. A panicking handler is
// reported as an error; it must never take the scheduler down.
func (s *Scheduler) invoke(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error().
				Str("job", j.id).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Job handler panicked")
		}
	}()
	return j.handler(ctx)
}

// State returns the scheduler lifecycle state.
func (s *Scheduler) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// NextRun returns a job's next scheduled firing time.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextRun, !j.nextRun.IsZero()
}
