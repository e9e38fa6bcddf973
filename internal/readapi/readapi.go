// Package readapi is the read-only adapter an external HTTP layer consumes.
// It composes the time-series store, the poller's latest-snapshot cache, the
// alert rule set, the scan schedules and the scheduler into one query
// surface; it never writes.
package readapi

import (
	"context"
	"fmt"
	"time"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/timeseries"
)

// DefaultSnapshotMaxAge bounds how stale a cached snapshot may be before
// LatestSnapshot falls back to the store.
const DefaultSnapshotMaxAge = 30 * time.Second

// Store is the slice of the time-series store the adapter reads.
type Store interface {
	LatestSample(ctx context.Context, deviceID string, maxAge time.Duration) (*models.ThroughputSample, error)
	RangeSamplesAt(ctx context.Context, deviceID string, from, to time.Time, resolution string) ([]timeseries.RangePoint, error)
	LatestConnectedDevices(ctx context.Context, deviceID string, maxAge time.Duration) ([]*models.ConnectedDevice, error)
	EnrichWithBandwidth(ctx context.Context, deviceID string, devices []*models.ConnectedDevice, window time.Duration) error
	RecentLogs(ctx context.Context, deviceID string, kind models.LogKind, f timeseries.LogFilter) ([]*models.LogEntry, error)
	RecentApplications(ctx context.Context, deviceID string, window time.Duration, limit int) ([]*models.ApplicationSample, error)
	ApplicationDetail(ctx context.Context, deviceID, application string, window time.Duration) (*models.ApplicationSample, error)
	ApplicationSummary(ctx context.Context, deviceID string, window time.Duration) (*models.AppSummary, error)
	AlertHistory(ctx context.Context, f timeseries.AlertHistoryFilter) ([]*models.AlertEvent, error)
	AlertStats(ctx context.Context, window time.Duration) (*models.AlertStats, error)
	ScanHistory(ctx context.Context, deviceID, targetIP string, limit int) ([]*models.ScanResult, error)
	ScanResultByID(ctx context.Context, id string) (*models.ScanResult, error)
	ScanChanges(ctx context.Context, f timeseries.ScanChangeFilter) ([]*models.ScanChangeEvent, error)
	PendingScanQueueItems(ctx context.Context) ([]*models.ScanQueueItem, error)
	RecentSchedulerStats(ctx context.Context, limit int) ([]*models.SchedulerSnapshot, error)
}

// SnapshotCache is the poller's copy-on-write latest-snapshot cache.
type SnapshotCache interface {
	Get(deviceID string, maxAge time.Duration) *models.ThroughputSample
}

// RuleSource exposes the live alert rule set.
type RuleSource interface {
	Configs() []models.AlertConfig
	ConfigsForDevice(deviceID string) []models.AlertConfig
	Windows() []models.MaintenanceWindow
}

// ScheduleSource lists the scheduled scans.
type ScheduleSource interface {
	List() []models.ScheduledScan
}

// StatsSource produces a live scheduler self-report.
type StatsSource interface {
	Stats() *models.SchedulerSnapshot
}

// API is the assembled read surface.
type API struct {
	store     Store
	cache     SnapshotCache
	rules     RuleSource
	schedules ScheduleSource
	stats     StatsSource
}

// New wires the adapter. Any source may be nil when the corresponding
// subsystem is disabled; queries against it return an error.
func New(store Store, cache SnapshotCache, rules RuleSource, schedules ScheduleSource, stats StatsSource) *API {
	return &API{store: store, cache: cache, rules: rules, schedules: schedules, stats: stats}
}

// LatestSnapshot returns the freshest complete sample for a device, serving
// from the in-memory cache when it is within maxAge and falling back to the
// store otherwise. maxAge <= 0 applies the default. A nil result with nil
// error means no sample within the bound exists.
func (a *API) LatestSnapshot(ctx context.Context, deviceID string, maxAge time.Duration) (*models.ThroughputSample, error) {
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}
	if a.cache != nil {
		if sample := a.cache.Get(deviceID, maxAge); sample != nil {
			return sample, nil
		}
	}
	return a.store.LatestSample(ctx, deviceID, maxAge)
}

// RangeSeries returns throughput points over [from, to] at the requested
// resolution (auto, raw, hourly, daily; empty means auto).
func (a *API) RangeSeries(ctx context.Context, deviceID string, from, to time.Time, resolution string) ([]timeseries.RangePoint, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("range end must be after start")
	}
	return a.store.RangeSamplesAt(ctx, deviceID, from, to, resolution)
}

// ConnectedDevices returns the latest endpoint list for a device. When
// bandwidthWindow > 0 each row is enriched with per-IP byte totals over that
// window.
func (a *API) ConnectedDevices(ctx context.Context, deviceID string, maxAge, bandwidthWindow time.Duration) ([]*models.ConnectedDevice, error) {
	devices, err := a.store.LatestConnectedDevices(ctx, deviceID, maxAge)
	if err != nil {
		return nil, err
	}
	if bandwidthWindow > 0 && len(devices) > 0 {
		if err := a.store.EnrichWithBandwidth(ctx, deviceID, devices, bandwidthWindow); err != nil {
			return nil, err
		}
	}
	return devices, nil
}

// Logs returns the newest entries of one log kind, filtered.
func (a *API) Logs(ctx context.Context, deviceID string, kind models.LogKind, f timeseries.LogFilter) ([]*models.LogEntry, error) {
	if !models.ValidLogKind(kind) {
		return nil, fmt.Errorf("unknown log kind %q", kind)
	}
	return a.store.RecentLogs(ctx, deviceID, kind, f)
}

// Applications returns the ranked application snapshot over a window.
func (a *API) Applications(ctx context.Context, deviceID string, window time.Duration, limit int) ([]*models.ApplicationSample, error) {
	return a.store.RecentApplications(ctx, deviceID, window, limit)
}

// ApplicationDetail returns one application's latest sample with endpoints.
func (a *API) ApplicationDetail(ctx context.Context, deviceID, application string, window time.Duration) (*models.ApplicationSample, error) {
	return a.store.ApplicationDetail(ctx, deviceID, application, window)
}

// ApplicationSummary returns unique app/VLAN/zone counts and total bytes.
func (a *API) ApplicationSummary(ctx context.Context, deviceID string, window time.Duration) (*models.AppSummary, error) {
	return a.store.ApplicationSummary(ctx, deviceID, window)
}

// AlertConfigs returns the live rule set, optionally narrowed to one device.
func (a *API) AlertConfigs(deviceID string) []models.AlertConfig {
	if deviceID == "" {
		return a.rules.Configs()
	}
	return a.rules.ConfigsForDevice(deviceID)
}

// MaintenanceWindows returns the configured suppression windows.
func (a *API) MaintenanceWindows() []models.MaintenanceWindow {
	return a.rules.Windows()
}

// AlertHistory returns filtered alert events, newest first.
func (a *API) AlertHistory(ctx context.Context, f timeseries.AlertHistoryFilter) ([]*models.AlertEvent, error) {
	return a.store.AlertHistory(ctx, f)
}

// AlertStats returns severity counts over a window.
func (a *API) AlertStats(ctx context.Context, window time.Duration) (*models.AlertStats, error) {
	return a.store.AlertStats(ctx, window)
}

// ScanHistory returns past results for one device, optionally narrowed to
// one target.
func (a *API) ScanHistory(ctx context.Context, deviceID, targetIP string, limit int) ([]*models.ScanResult, error) {
	return a.store.ScanHistory(ctx, deviceID, targetIP, limit)
}

// ScanResult returns one stored result by id.
func (a *API) ScanResult(ctx context.Context, id string) (*models.ScanResult, error) {
	return a.store.ScanResultByID(ctx, id)
}

// ScanChanges returns the change-event feed, filtered.
func (a *API) ScanChanges(ctx context.Context, f timeseries.ScanChangeFilter) ([]*models.ScanChangeEvent, error) {
	return a.store.ScanChanges(ctx, f)
}

// ScanSchedules lists the configured scheduled scans with next-run times.
func (a *API) ScanSchedules() []models.ScheduledScan {
	if a.schedules == nil {
		return nil
	}
	return a.schedules.List()
}

// ScanQueue returns queued and running scan items.
func (a *API) ScanQueue(ctx context.Context) ([]*models.ScanQueueItem, error) {
	return a.store.PendingScanQueueItems(ctx)
}

// SchedulerSnapshot returns the live scheduler self-report.
func (a *API) SchedulerSnapshot() *models.SchedulerSnapshot {
	if a.stats == nil {
		return nil
	}
	return a.stats.Stats()
}

// SchedulerHistory returns recent persisted self-reports, newest first.
func (a *API) SchedulerHistory(ctx context.Context, limit int) ([]*models.SchedulerSnapshot, error) {
	return a.store.RecentSchedulerStats(ctx, limit)
}
