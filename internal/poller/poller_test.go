package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parapetdev/parapet/internal/firewall"
	"github.com/parapetdev/parapet/internal/models"
)

// stubClient returns canned results; unset operations fail.
type stubClient struct {
	counters    *firewall.InterfaceCounters
	countersErr error
	sessions    *firewall.SessionInfo
	arp         []firewall.ARPEntry
	leases      []firewall.DHCPLease
	apps        []firewall.AppStat
	logs        map[models.LogKind][]models.LogEntry
}

var errUnset = errors.New("not configured")

func (s *stubClient) SystemInfo(ctx context.Context) (*firewall.SystemInfo, error) {
	return nil, errUnset
}

func (s *stubClient) InterfaceCounters(ctx context.Context, name string) (*firewall.InterfaceCounters, error) {
	if s.countersErr != nil {
		return nil, s.countersErr
	}
	if s.counters == nil {
		return nil, errUnset
	}
	return s.counters, nil
}

func (s *stubClient) AllInterfaceCounters(ctx context.Context) ([]firewall.InterfaceCounters, error) {
	return nil, errUnset
}

func (s *stubClient) SessionInfo(ctx context.Context) (*firewall.SessionInfo, error) {
	if s.sessions == nil {
		return nil, errUnset
	}
	return s.sessions, nil
}

func (s *stubClient) DataPlaneCPU(ctx context.Context) (float64, error) { return 0, errUnset }

func (s *stubClient) SystemResources(ctx context.Context) (*firewall.SystemResources, error) {
	return nil, errUnset
}

func (s *stubClient) InterfaceDetail(ctx context.Context, name string) (*firewall.InterfaceDetail, error) {
	return nil, errUnset
}

func (s *stubClient) ARPTable(ctx context.Context) ([]firewall.ARPEntry, error) {
	if s.arp == nil {
		return nil, errUnset
	}
	return s.arp, nil
}

func (s *stubClient) DHCPLeases(ctx context.Context) ([]firewall.DHCPLease, error) {
	if s.leases == nil {
		return nil, errUnset
	}
	return s.leases, nil
}

func (s *stubClient) Licenses(ctx context.Context) (*firewall.LicenseInfo, error) {
	return nil, errUnset
}

func (s *stubClient) ThreatSummary(ctx context.Context, since time.Time) (*firewall.ThreatSummary, error) {
	return nil, errUnset
}

func (s *stubClient) Logs(ctx context.Context, kind models.LogKind, limit int) ([]models.LogEntry, error) {
	if s.logs == nil {
		return nil, errUnset
	}
	return s.logs[kind], nil
}

func (s *stubClient) ApplicationStats(ctx context.Context) ([]firewall.AppStat, error) {
	if s.apps == nil {
		return nil, errUnset
	}
	return s.apps, nil
}

// memStore records everything written through the Store surface.
type memStore struct {
	samples   []*models.ThroughputSample
	connected []*models.ConnectedDevice
	apps      []*models.ApplicationSample
	logs      []*models.LogEntry
	seqs      map[string]int64
}

func (m *memStore) InsertSample(ctx context.Context, s *models.ThroughputSample) error {
	m.samples = append(m.samples, s)
	return nil
}

func (m *memStore) InsertConnectedDevices(ctx context.Context, devices []*models.ConnectedDevice) error {
	m.connected = append(m.connected, devices...)
	return nil
}

func (m *memStore) InsertApplications(ctx context.Context, samples []*models.ApplicationSample) error {
	m.apps = append(m.apps, samples...)
	return nil
}

func (m *memStore) InsertLogs(ctx context.Context, entries []*models.LogEntry) error {
	m.logs = append(m.logs, entries...)
	return nil
}

func (m *memStore) LatestLogSeq(ctx context.Context, deviceID string, kind models.LogKind) (int64, error) {
	return m.seqs[deviceID+"/"+string(kind)], nil
}

type emptyMeta struct{}

func (emptyMeta) Metadata(deviceID, mac string) (*models.DeviceMetadata, bool) { return nil, false }

type staticMeta map[string]*models.DeviceMetadata

func (m staticMeta) Metadata(deviceID, mac string) (*models.DeviceMetadata, bool) {
	meta, ok := m[mac]
	return meta, ok
}

func testDevice() models.Device {
	return models.Device{
		ID:           "dev-1",
		Name:         "Edge FW",
		Address:      "10.0.0.1",
		MonitorIface: "ethernet1/1",
	}
}

func TestFirstPollSeedsSecondPollRates(t *testing.T) {
	tracker := NewRateTracker()
	t0 := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	first := tracker.Rates("dev-1", t0, &firewall.InterfaceCounters{
		BytesIn: 1_000_000, BytesOut: 500_000, PacketsIn: 1000, PacketsOut: 500,
	})
	assert.Zero(t, first.InboundMbps)
	assert.Zero(t, first.OutboundMbps)
	assert.Zero(t, first.TotalMbps)
	assert.Zero(t, first.TotalPPS)

	second := tracker.Rates("dev-1", t0.Add(5*time.Second), &firewall.InterfaceCounters{
		BytesIn: 1_500_000, BytesOut: 625_000, PacketsIn: 1600, PacketsOut: 650,
	})
	assert.InDelta(t, 0.80, second.InboundMbps, 0.01)
	assert.InDelta(t, 0.20, second.OutboundMbps, 0.01)
	assert.InDelta(t, 1.00, second.TotalMbps, 0.01)
	assert.InDelta(t, 120, second.InboundPPS, 0.01)
	assert.InDelta(t, 30, second.OutboundPPS, 0.01)
	assert.InDelta(t, 150, second.TotalPPS, 0.01)
}

func TestCounterResetClampsToZero(t *testing.T) {
	tracker := NewRateTracker()
	t0 := time.Now()

	tracker.Rates("dev-2", t0, &firewall.InterfaceCounters{BytesIn: 10_000_000})
	reset := tracker.Rates("dev-2", t0.Add(5*time.Second), &firewall.InterfaceCounters{BytesIn: 500_000})
	assert.Zero(t, reset.InboundMbps)
	assert.Zero(t, reset.TotalMbps)

	// The window re-seeded at the reset value, so the next delta is sane.
	next := tracker.Rates("dev-2", t0.Add(10*time.Second), &firewall.InterfaceCounters{BytesIn: 1_000_000})
	assert.InDelta(t, 0.80, next.InboundMbps, 0.01)
}

func TestStaleWindowReseeds(t *testing.T) {
	tracker := NewRateTracker()
	t0 := time.Now()

	tracker.Rates("dev-3", t0.Add(-2*time.Hour), &firewall.InterfaceCounters{BytesIn: 100})
	r := tracker.Rates("dev-3", t0, &firewall.InterfaceCounters{BytesIn: 1_000_000_000})
	assert.Zero(t, r.InboundMbps)
}

func TestThroughputTickToleratesSubFetchFailure(t *testing.T) {
	store := &memStore{seqs: map[string]int64{}}
	c := New(store, emptyMeta{}, nil)
	c.retry.Initial = time.Millisecond

	client := &stubClient{
		counters: &firewall.InterfaceCounters{BytesIn: 1000, BytesOut: 500},
		sessions: &firewall.SessionInfo{Active: 42, TCP: 30, UDP: 10, ICMP: 2, Max: 1000},
	}

	require.NoError(t, c.CollectThroughput(context.Background(), testDevice(), client))
	require.Len(t, store.samples, 1)

	sample := store.samples[0]
	assert.Equal(t, int64(42), sample.SessionsActive)
	// Failed sub-fetches leave their fields zero, sample is still written.
	assert.Zero(t, sample.CPUDataPlane)
	assert.Zero(t, sample.MemoryPct)
	assert.Empty(t, sample.Hostname)

	cached := c.Cache().Get("dev-1", time.Minute)
	require.NotNil(t, cached)
	assert.Equal(t, sample.SessionsActive, cached.SessionsActive)
}

func TestThroughputTickFailsWhenCoreFetchFails(t *testing.T) {
	store := &memStore{seqs: map[string]int64{}}
	c := New(store, emptyMeta{}, nil)
	c.retry = firewall.RetryConfig{Attempts: 0}

	client := &stubClient{countersErr: errors.New("connection refused")}
	err := c.CollectThroughput(context.Background(), testDevice(), client)
	require.Error(t, err)
	assert.Empty(t, store.samples)
	assert.Nil(t, c.Cache().Get("dev-1", time.Minute))
}

func TestConnectedDeviceAssembly(t *testing.T) {
	store := &memStore{seqs: map[string]int64{}}
	meta := staticMeta{
		"aa:bb:cc:dd:ee:01": {
			MAC: "aa:bb:cc:dd:ee:01", CustomName: "NAS", Location: "office",
			Tags: []string{"storage"},
		},
	}
	c := New(store, meta, nil)

	client := &stubClient{
		arp: []firewall.ARPEntry{
			{IP: "192.168.1.10", MAC: "AA:BB:CC:DD:EE:01", Interface: "ethernet1/2", VLAN: "10"},
			{IP: "192.168.1.20", MAC: "00:50:56:aa:bb:cc"},
			{IP: "192.168.1.30", MAC: "garbage"},
		},
		leases: []firewall.DHCPLease{
			{IP: "192.168.1.10", MAC: "aa-bb-cc-dd-ee-01", Hostname: "nas-box"},
		},
	}

	require.NoError(t, c.CollectConnectedDevices(context.Background(), testDevice(), client))
	require.Len(t, store.connected, 2, "unparseable MAC should be skipped")

	byMAC := map[string]*models.ConnectedDevice{}
	for _, d := range store.connected {
		byMAC[d.MAC] = d
	}

	nas := byMAC["aa:bb:cc:dd:ee:01"]
	require.NotNil(t, nas)
	assert.Equal(t, "nas-box", nas.Hostname)
	assert.Equal(t, "NAS", nas.CustomName)
	assert.Equal(t, "office", nas.Location)
	assert.Equal(t, []string{"storage"}, nas.Tags)
	assert.Equal(t, "10", nas.VLAN)

	vm := byMAC["00:50:56:aa:bb:cc"]
	require.NotNil(t, vm)
	assert.True(t, vm.Virtual)
	assert.Contains(t, vm.MACReason, "VMware")
}

func TestTopClientSplitByDestination(t *testing.T) {
	apps := []firewall.AppStat{
		{
			Name: "ssl", Category: "encrypted-tunnel", BytesTotal: 5000,
			Sources:      []firewall.Endpoint{{IP: "192.168.1.10", Bytes: 4000}, {IP: "192.168.1.20", Bytes: 1000}},
			Destinations: []firewall.Endpoint{{IP: "151.101.1.1", Bytes: 5000}},
		},
		{
			Name: "smb", Category: "file-sharing", BytesTotal: 9000,
			Sources:      []firewall.Endpoint{{IP: "192.168.1.30", Bytes: 9000}},
			Destinations: []firewall.Endpoint{{IP: "192.168.1.5", Bytes: 9000}},
		},
	}

	topApps, clients, categories := summarizeApps(apps)

	require.Len(t, topApps, 2)
	assert.Equal(t, "smb", topApps[0].Name, "ranked by bytes")

	require.NotNil(t, clients.internet)
	assert.Equal(t, "192.168.1.10", clients.internet.IP)
	assert.Equal(t, int64(4000), clients.internet.Bytes)

	require.NotNil(t, clients.internal)
	assert.Equal(t, "192.168.1.30", clients.internal.IP)

	require.NotNil(t, categories.internal)
	assert.Equal(t, "file-sharing", categories.internal.Category)
	require.NotNil(t, categories.internet)
	assert.Equal(t, "encrypted-tunnel", categories.internet.Category)
}

func TestLogCollectionDedupesBySeq(t *testing.T) {
	store := &memStore{seqs: map[string]int64{"dev-1/threat": 100}}
	c := New(store, emptyMeta{}, nil)

	client := &stubClient{
		logs: map[models.LogKind][]models.LogEntry{
			models.LogKindThreat: {
				{Seq: 99, ThreatName: "old"},
				{Seq: 100, ThreatName: "watermark"},
				{Seq: 101, ThreatName: "fresh"},
			},
		},
	}

	require.NoError(t, c.CollectLogs(context.Background(), testDevice(), client))
	require.Len(t, store.logs, 1)
	assert.Equal(t, "fresh", store.logs[0].ThreatName)
	assert.Equal(t, "dev-1", store.logs[0].DeviceID)
	assert.Equal(t, models.LogKindThreat, store.logs[0].Kind)
}

func TestSnapshotCacheFreshnessAndIsolation(t *testing.T) {
	cache := NewSnapshotCache()
	sample := &models.ThroughputSample{DeviceID: "dev-1", Time: time.Now(), TotalMbps: 1.5}
	cache.Set(sample)

	got := cache.Get("dev-1", 30*time.Second)
	require.NotNil(t, got)
	got.TotalMbps = 99
	again := cache.Get("dev-1", 30*time.Second)
	assert.Equal(t, 1.5, again.TotalMbps, "readers get copies")

	stale := &models.ThroughputSample{DeviceID: "dev-2", Time: time.Now().Add(-time.Minute)}
	cache.Set(stale)
	assert.Nil(t, cache.Get("dev-2", 30*time.Second))

	assert.Nil(t, cache.Get("unknown", 0))
	cache.Drop("dev-1")
	assert.Nil(t, cache.Get("dev-1", time.Minute))
}
