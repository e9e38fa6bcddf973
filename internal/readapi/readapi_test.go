package readapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/timeseries"
)

// fakeStore records which store queries ran and returns canned data.
type fakeStore struct {
	latest        *models.ThroughputSample
	latestCalls   int
	rangeCalls    int
	resolution    string
	connected     []*models.ConnectedDevice
	enrichedWith  time.Duration
	logs          []*models.LogEntry
	logKind       models.LogKind
	queue         []*models.ScanQueueItem
	schedulerRows []*models.SchedulerSnapshot
}

func (f *fakeStore) LatestSample(_ context.Context, deviceID string, _ time.Duration) (*models.ThroughputSample, error) {
	f.latestCalls++
	return f.latest, nil
}

func (f *fakeStore) RangeSamplesAt(_ context.Context, _ string, _, _ time.Time, resolution string) ([]timeseries.RangePoint, error) {
	f.rangeCalls++
	f.resolution = resolution
	return []timeseries.RangePoint{{TotalMbps: 1.5}}, nil
}

func (f *fakeStore) LatestConnectedDevices(_ context.Context, _ string, _ time.Duration) ([]*models.ConnectedDevice, error) {
	return f.connected, nil
}

func (f *fakeStore) EnrichWithBandwidth(_ context.Context, _ string, devices []*models.ConnectedDevice, window time.Duration) error {
	f.enrichedWith = window
	for _, d := range devices {
		d.WindowBytesIn = 1000
	}
	return nil
}

func (f *fakeStore) RecentLogs(_ context.Context, _ string, kind models.LogKind, _ timeseries.LogFilter) ([]*models.LogEntry, error) {
	f.logKind = kind
	return f.logs, nil
}

func (f *fakeStore) RecentApplications(_ context.Context, _ string, _ time.Duration, _ int) ([]*models.ApplicationSample, error) {
	return nil, nil
}

func (f *fakeStore) ApplicationDetail(_ context.Context, _, _ string, _ time.Duration) (*models.ApplicationSample, error) {
	return nil, nil
}

func (f *fakeStore) ApplicationSummary(_ context.Context, _ string, _ time.Duration) (*models.AppSummary, error) {
	return &models.AppSummary{UniqueApps: 3}, nil
}

func (f *fakeStore) AlertHistory(_ context.Context, _ timeseries.AlertHistoryFilter) ([]*models.AlertEvent, error) {
	return nil, nil
}

func (f *fakeStore) AlertStats(_ context.Context, _ time.Duration) (*models.AlertStats, error) {
	return &models.AlertStats{}, nil
}

func (f *fakeStore) ScanHistory(_ context.Context, _, _ string, _ int) ([]*models.ScanResult, error) {
	return nil, nil
}

func (f *fakeStore) ScanResultByID(_ context.Context, _ string) (*models.ScanResult, error) {
	return nil, nil
}

func (f *fakeStore) ScanChanges(_ context.Context, _ timeseries.ScanChangeFilter) ([]*models.ScanChangeEvent, error) {
	return nil, nil
}

func (f *fakeStore) PendingScanQueueItems(_ context.Context) ([]*models.ScanQueueItem, error) {
	return f.queue, nil
}

func (f *fakeStore) RecentSchedulerStats(_ context.Context, _ int) ([]*models.SchedulerSnapshot, error) {
	return f.schedulerRows, nil
}

type fakeCache struct {
	sample *models.ThroughputSample
}

func (f *fakeCache) Get(string, time.Duration) *models.ThroughputSample { return f.sample }

type fakeRules struct {
	configs []models.AlertConfig
}

func (f *fakeRules) Configs() []models.AlertConfig                { return f.configs }
func (f *fakeRules) ConfigsForDevice(string) []models.AlertConfig { return f.configs[:1] }
func (f *fakeRules) Windows() []models.MaintenanceWindow          { return nil }

func TestLatestSnapshotPrefersCache(t *testing.T) {
	cached := &models.ThroughputSample{DeviceID: "fw-1", TotalMbps: 4.2}
	store := &fakeStore{latest: &models.ThroughputSample{DeviceID: "fw-1", TotalMbps: 1.0}}
	api := New(store, &fakeCache{sample: cached}, nil, nil, nil)

	got, err := api.LatestSnapshot(context.Background(), "fw-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 4.2, got.TotalMbps)
	assert.Zero(t, store.latestCalls, "cache hit must not touch the store")
}

func TestLatestSnapshotFallsBackToStore(t *testing.T) {
	store := &fakeStore{latest: &models.ThroughputSample{DeviceID: "fw-1", TotalMbps: 1.0}}
	api := New(store, &fakeCache{}, nil, nil, nil)

	got, err := api.LatestSnapshot(context.Background(), "fw-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.TotalMbps)
	assert.Equal(t, 1, store.latestCalls)
}

func TestRangeSeriesValidatesWindow(t *testing.T) {
	store := &fakeStore{}
	api := New(store, nil, nil, nil, nil)
	now := time.Now()

	_, err := api.RangeSeries(context.Background(), "fw-1", now, now.Add(-time.Hour), "raw")
	assert.Error(t, err)
	assert.Zero(t, store.rangeCalls)

	points, err := api.RangeSeries(context.Background(), "fw-1", now.Add(-time.Hour), now, "hourly")
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Equal(t, "hourly", store.resolution)
}

func TestConnectedDevicesEnrichment(t *testing.T) {
	store := &fakeStore{connected: []*models.ConnectedDevice{{MAC: "aa:bb:cc:dd:ee:ff"}}}
	api := New(store, nil, nil, nil, nil)

	plain, err := api.ConnectedDevices(context.Background(), "fw-1", time.Hour, 0)
	require.NoError(t, err)
	assert.Zero(t, store.enrichedWith)
	require.Len(t, plain, 1)

	enriched, err := api.ConnectedDevices(context.Background(), "fw-1", time.Hour, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, store.enrichedWith)
	assert.Equal(t, int64(1000), enriched[0].WindowBytesIn)
}

func TestLogsRejectsUnknownKind(t *testing.T) {
	api := New(&fakeStore{}, nil, nil, nil, nil)
	_, err := api.Logs(context.Background(), "fw-1", models.LogKind("audit"), timeseries.LogFilter{})
	assert.Error(t, err)

	_, err = api.Logs(context.Background(), "fw-1", models.LogKindThreat, timeseries.LogFilter{})
	assert.NoError(t, err)
}

func TestAlertConfigScoping(t *testing.T) {
	rules := &fakeRules{configs: []models.AlertConfig{{ID: "a"}, {ID: "b"}}}
	api := New(&fakeStore{}, nil, rules, nil, nil)

	assert.Len(t, api.AlertConfigs(""), 2)
	assert.Len(t, api.AlertConfigs("fw-1"), 1)
}

func TestNilOptionalSources(t *testing.T) {
	api := New(&fakeStore{}, nil, nil, nil, nil)
	assert.Nil(t, api.ScanSchedules())
	assert.Nil(t, api.SchedulerSnapshot())
}
