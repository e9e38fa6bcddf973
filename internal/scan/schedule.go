package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/scheduler"
)

// ScheduleSaver persists the scheduled-scan set.
type ScheduleSaver interface {
	SaveScheduledScans(scans []models.ScheduledScan) error
}

// Schedules owns the scheduled-scan definitions and keeps one scheduler job
// registered per enabled schedule.
type Schedules struct {
	manager *Manager
	sched   *scheduler.Scheduler
	saver   ScheduleSaver

	mu    sync.RWMutex
	scans map[string]*models.ScheduledScan
}

// NewSchedules wires scheduled scans to the shared scheduler.
func NewSchedules(manager *Manager, sched *scheduler.Scheduler, saver ScheduleSaver) *Schedules {
	return &Schedules{
		manager: manager,
		sched:   sched,
		saver:   saver,
		scans:   make(map[string]*models.ScheduledScan),
	}
}

func jobID(scheduleID string) string {
	return "scan.schedule." + scheduleID
}

// Apply replaces the schedule set, typically from a persisted snapshot, and
// reconciles the scheduler's job set against it.
func (s *Schedules) Apply(scans []models.ScheduledScan) {
	s.mu.Lock()
	old := s.scans
	s.scans = make(map[string]*models.ScheduledScan, len(scans))
	for i := range scans {
		sc := scans[i]
		s.scans[sc.ID] = &sc
	}
	current := s.scans
	s.mu.Unlock()

	for id := range old {
		if _, still := current[id]; !still {
			s.sched.Unregister(jobID(id))
		}
	}
	for _, sc := range current {
		s.sched.Unregister(jobID(sc.ID))
		if sc.Enabled {
			if err := s.register(sc); err != nil {
				log.Error().Str("schedule", sc.ID).Err(err).Msg("Scan schedule registration failed")
			}
		}
	}
}

// register adds the scheduler job for one enabled schedule. Scan schedules
// always coalesce and never overlap themselves.
func (s *Schedules) register(sc *models.ScheduledScan) error {
	trigger, err := scheduler.ParseTrigger(sc.Trigger)
	if err != nil {
		return err
	}
	id := sc.ID
	return s.sched.Register(jobID(id), trigger, func(ctx context.Context) error {
		return s.runOnce(ctx, id)
	}, scheduler.Options{Coalesce: true, SingleInstance: true})
}

// runOnce executes one firing of a schedule and records its outcome on the
// schedule itself.
func (s *Schedules) runOnce(ctx context.Context, scheduleID string) error {
	s.mu.RLock()
	sc, ok := s.scans[scheduleID]
	var copied models.ScheduledScan
	if ok {
		copied = *sc
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schedule %s no longer exists", scheduleID)
	}

	err := s.manager.RunSchedule(ctx, copied)

	now := time.Now()
	s.mu.Lock()
	if sc, ok := s.scans[scheduleID]; ok {
		sc.LastRun = &now
		if err != nil {
			sc.LastStatus = "failed"
			sc.LastError = err.Error()
		} else {
			sc.LastStatus = "ok"
			sc.LastError = ""
		}
		if next, ok := s.sched.NextRun(jobID(scheduleID)); ok {
			sc.NextRun = &next
		}
	}
	s.mu.Unlock()
	return err
}

// List returns all schedules sorted by creation time.
func (s *Schedules) List() []models.ScheduledScan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ScheduledScan, 0, len(s.scans))
	for _, sc := range s.scans {
		copied := *sc
		if next, ok := s.sched.NextRun(jobID(sc.ID)); ok {
			copied.NextRun = &next
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns one schedule by id.
func (s *Schedules) Get(id string) (models.ScheduledScan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scans[id]
	if !ok {
		return models.ScheduledScan{}, false
	}
	return *sc, true
}

// Create validates and persists a new schedule, registering its job when
// enabled.
func (s *Schedules) Create(sc models.ScheduledScan) (models.ScheduledScan, error) {
	if err := validateSchedule(&sc); err != nil {
		return models.ScheduledScan{}, err
	}
	sc.ID = uuid.NewString()
	now := time.Now()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	s.mu.Lock()
	s.scans[sc.ID] = &sc
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.mu.Lock()
		delete(s.scans, sc.ID)
		s.mu.Unlock()
		return models.ScheduledScan{}, err
	}
	if sc.Enabled {
		if err := s.register(&sc); err != nil {
			log.Error().Str("schedule", sc.ID).Err(err).Msg("Scan schedule registration failed")
		}
	}
	log.Info().Str("schedule", sc.ID).Str("trigger", sc.Trigger).Msg("Scan schedule created")
	return sc, nil
}

// Update replaces an existing schedule and re-registers its job.
func (s *Schedules) Update(sc models.ScheduledScan) (models.ScheduledScan, error) {
	if err := validateSchedule(&sc); err != nil {
		return models.ScheduledScan{}, err
	}

	s.mu.Lock()
	existing, ok := s.scans[sc.ID]
	if !ok {
		s.mu.Unlock()
		return models.ScheduledScan{}, fmt.Errorf("schedule %s not found", sc.ID)
	}
	sc.CreatedAt = existing.CreatedAt
	sc.UpdatedAt = time.Now()
	s.scans[sc.ID] = &sc
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.mu.Lock()
		s.scans[sc.ID] = existing
		s.mu.Unlock()
		return models.ScheduledScan{}, err
	}

	s.sched.Unregister(jobID(sc.ID))
	if sc.Enabled {
		if err := s.register(&sc); err != nil {
			log.Error().Str("schedule", sc.ID).Err(err).Msg("Scan schedule registration failed")
		}
	}
	return sc, nil
}

// Delete removes a schedule and its job. Deleting an unknown id is an error.
func (s *Schedules) Delete(id string) error {
	s.mu.Lock()
	existing, ok := s.scans[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("schedule %s not found", id)
	}
	delete(s.scans, id)
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.mu.Lock()
		s.scans[id] = existing
		s.mu.Unlock()
		return err
	}
	s.sched.Unregister(jobID(id))
	log.Info().Str("schedule", id).Msg("Scan schedule deleted")
	return nil
}

// RunNow fires one schedule immediately, outside its trigger.
func (s *Schedules) RunNow(ctx context.Context, id string) error {
	return s.runOnce(ctx, id)
}

func (s *Schedules) persist() error {
	s.mu.RLock()
	out := make([]models.ScheduledScan, 0, len(s.scans))
	for _, sc := range s.scans {
		out = append(out, *sc)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return s.saver.SaveScheduledScans(out)
}

func validateSchedule(sc *models.ScheduledScan) error {
	if sc.DeviceID == "" {
		return fmt.Errorf("schedule requires a device id")
	}
	if !models.ValidTargetType(sc.TargetType) {
		return fmt.Errorf("invalid target type %q", sc.TargetType)
	}
	switch sc.TargetType {
	case models.TargetIP:
		if err := ValidateTarget(sc.TargetValue); err != nil {
			return err
		}
	case models.TargetTag, models.TargetLocation:
		if sc.TargetValue == "" {
			return fmt.Errorf("target type %s requires a selector value", sc.TargetType)
		}
	}
	if !models.ValidScanProfile(sc.Profile) {
		return fmt.Errorf("invalid scan profile %q", sc.Profile)
	}
	if _, err := scheduler.ParseTrigger(sc.Trigger); err != nil {
		return fmt.Errorf("invalid trigger: %w", err)
	}
	return nil
}
