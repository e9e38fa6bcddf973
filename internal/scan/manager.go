package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/parapetdev/parapet/internal/metrics"
	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/netutil"
)

// DefaultScansPerDevice caps concurrent scans against one firewall's
// network.
const DefaultScansPerDevice = 3

// connectedMaxAge bounds how stale a connected-device row may be and still
// count as a scan target.
const connectedMaxAge = 24 * time.Hour

// Store is the persistence surface the scan subsystem consumes.
type Store interface {
	InsertScanResult(ctx context.Context, r *models.ScanResult) error
	PreviousScanResult(ctx context.Context, deviceID, targetIP string, before time.Time) (*models.ScanResult, error)
	InsertScanChange(ctx context.Context, e *models.ScanChangeEvent) error
	SaveScanQueueItem(ctx context.Context, item *models.ScanQueueItem) error
	PendingScanQueueItems(ctx context.Context) ([]*models.ScanQueueItem, error)
	LatestConnectedDevices(ctx context.Context, deviceID string, maxAge time.Duration) ([]*models.ConnectedDevice, error)
}

// Selector resolves metadata-based target selections.
type Selector interface {
	MACsByTag(deviceID, pattern string) map[string]bool
	MACsByLocation(deviceID, pattern string) map[string]bool
}

// Manager owns the scan queue and the per-device worker pools.
type Manager struct {
	store     Store
	runner    *Runner
	selector  Selector
	perDevice int64

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted

	wg sync.WaitGroup
}

// NewManager assembles the scan subsystem. perDevice <= 0 applies the
// default concurrency cap.
func NewManager(store Store, runner *Runner, selector Selector, perDevice int) *Manager {
	if perDevice <= 0 {
		perDevice = DefaultScansPerDevice
	}
	return &Manager{
		store:     store,
		runner:    runner,
		selector:  selector,
		perDevice: int64(perDevice),
		sems:      make(map[string]*semaphore.Weighted),
	}
}

func (m *Manager) deviceSem(deviceID string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.sems[deviceID]
	if !ok {
		sem = semaphore.NewWeighted(m.perDevice)
		m.sems[deviceID] = sem
	}
	return sem
}

// Enqueue validates a target, persists a queued item and dispatches it to
// the device's worker pool. This is also the ad-hoc scan entry point, so
// the safety check runs here in addition to the runner.
func (m *Manager) Enqueue(ctx context.Context, scheduleID, deviceID, targetIP string, profileName models.ScanProfile) (*models.ScanQueueItem, error) {
	if err := ValidateTarget(targetIP); err != nil {
		return nil, err
	}
	if !models.ValidScanProfile(profileName) {
		return nil, fmt.Errorf("invalid scan profile %q", profileName)
	}

	item := &models.ScanQueueItem{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		DeviceID:   deviceID,
		TargetIP:   targetIP,
		Profile:    profileName,
		Status:     models.ScanQueued,
		QueuedAt:   time.Now(),
	}
	if err := m.store.SaveScanQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to persist queue item: %w", err)
	}

	m.dispatch(ctx, item)
	return item, nil
}

// dispatch hands an item to a worker goroutine gated by the device's
// concurrency semaphore.
func (m *Manager) dispatch(ctx context.Context, item *models.ScanQueueItem) {
	sem := m.deviceSem(item.DeviceID)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer sem.Release(1)
		m.process(ctx, item)
	}()
}

func (m *Manager) process(ctx context.Context, item *models.ScanQueueItem) {
	started := time.Now()
	item.Status = models.ScanRunning
	item.StartedAt = &started
	if err := m.store.SaveScanQueueItem(ctx, item); err != nil {
		log.Error().Str("item", item.ID).Err(err).Msg("Queue item update failed")
	}

	result, err := m.runner.Run(ctx, item.DeviceID, item.TargetIP, item.Profile)
	finished := time.Now()
	item.FinishedAt = &finished

	if err != nil {
		item.Status = models.ScanFailed
		item.Error = err.Error()
		metrics.ScanOutcomes.WithLabelValues(string(item.Profile), "failed").Inc()
		log.Warn().
			Str("target", item.TargetIP).
			Str("profile", string(item.Profile)).
			Err(err).
			Msg("Scan failed")
	} else if storeErr := m.recordResult(ctx, item, result); storeErr != nil {
		item.Status = models.ScanFailed
		item.Error = storeErr.Error()
		metrics.ScanOutcomes.WithLabelValues(string(item.Profile), "failed").Inc()
		log.Error().Str("target", item.TargetIP).Err(storeErr).Msg("Scan result persistence failed")
	} else {
		item.Status = models.ScanCompleted
		item.ResultID = result.ID
		metrics.ScanOutcomes.WithLabelValues(string(item.Profile), "completed").Inc()
	}

	if err := m.store.SaveScanQueueItem(ctx, item); err != nil {
		log.Error().Str("item", item.ID).Err(err).Msg("Queue item update failed")
	}
}

// recordResult persists a result and runs change detection against the
// previous scan of the same (device, target).
func (m *Manager) recordResult(ctx context.Context, item *models.ScanQueueItem, result *models.ScanResult) error {
	prev, err := m.store.PreviousScanResult(ctx, item.DeviceID, item.TargetIP, result.Time)
	if err != nil {
		return err
	}
	if err := m.store.InsertScanResult(ctx, result); err != nil {
		return err
	}

	for _, event := range DetectChanges(prev, result) {
		if err := m.store.InsertScanChange(ctx, event); err != nil {
			log.Error().
				Str("target", item.TargetIP).
				Str("type", event.ChangeType).
				Err(err).
				Msg("Change event persistence failed")
			continue
		}
		metrics.ScanChanges.WithLabelValues(event.ChangeType).Inc()
		log.Info().
			Str("target", item.TargetIP).
			Str("type", event.ChangeType).
			Str("severity", string(event.Severity)).
			Str("newValue", event.NewValue).
			Msg("Scan change detected")
	}
	return nil
}

// RunSchedule is the scheduler handler body for one scheduled scan: resolve
// the target set and enqueue every target. Non-RFC1918 targets are counted
// and skipped, never scanned.
func (m *Manager) RunSchedule(ctx context.Context, sched models.ScheduledScan) error {
	targets, err := m.resolveTargets(ctx, sched)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		log.Debug().Str("schedule", sched.ID).Msg("Scan schedule resolved no targets")
		return nil
	}

	var rejected int
	for _, target := range targets {
		if _, err := m.Enqueue(ctx, sched.ID, sched.DeviceID, target, sched.Profile); err != nil {
			rejected++
			log.Warn().
				Str("schedule", sched.ID).
				Str("target", target).
				Err(err).
				Msg("Scan target rejected")
		}
	}
	if rejected == len(targets) {
		return fmt.Errorf("all %d targets rejected for schedule %s", rejected, sched.ID)
	}
	return nil
}

// resolveTargets expands a schedule's selector into concrete IPs.
func (m *Manager) resolveTargets(ctx context.Context, sched models.ScheduledScan) ([]string, error) {
	if sched.TargetType == models.TargetIP {
		return []string{sched.TargetValue}, nil
	}

	connected, err := m.store.LatestConnectedDevices(ctx, sched.DeviceID, connectedMaxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scan targets: %w", err)
	}

	var allowed map[string]bool
	switch sched.TargetType {
	case models.TargetAll:
		// every connected endpoint
	case models.TargetTag:
		allowed = m.selector.MACsByTag(sched.DeviceID, sched.TargetValue)
	case models.TargetLocation:
		allowed = m.selector.MACsByLocation(sched.DeviceID, sched.TargetValue)
	default:
		return nil, fmt.Errorf("invalid target type %q", sched.TargetType)
	}

	seen := make(map[string]bool)
	var targets []string
	for _, cd := range connected {
		if allowed != nil && !allowed[cd.MAC] {
			continue
		}
		if cd.IP == "" || seen[cd.IP] || !netutil.IsRFC1918(cd.IP) {
			continue
		}
		seen[cd.IP] = true
		targets = append(targets, cd.IP)
	}
	return targets, nil
}

// RecoverPending re-dispatches queued and interrupted items, typically at
// startup. Items stuck in running state from a previous process are
// re-queued first.
func (m *Manager) RecoverPending(ctx context.Context) error {
	pending, err := m.store.PendingScanQueueItems(ctx)
	if err != nil {
		return err
	}
	for _, item := range pending {
		if item.Status == models.ScanRunning {
			item.Status = models.ScanQueued
			item.StartedAt = nil
			if err := m.store.SaveScanQueueItem(ctx, item); err != nil {
				log.Error().Str("item", item.ID).Err(err).Msg("Queue item recovery failed")
				continue
			}
		}
		m.dispatch(ctx, item)
	}
	if len(pending) > 0 {
		log.Info().Int("items", len(pending)).Msg("Recovered pending scan queue items")
	}
	return nil
}

// Wait blocks until in-flight scans finish or the deadline passes.
func (m *Manager) Wait(deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		log.Warn().Dur("deadline", deadline).Msg("Scan drain deadline passed with scans still running")
	}
}
