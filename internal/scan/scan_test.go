package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parapetdev/parapet/internal/models"
)

const sampleXML = `<?xml version="1.0"?>
<nmaprun>
  <host>
    <status state="up"/>
    <ports>
      <port protocol="tcp" portid="80"><state state="open"/><service name="http" product="nginx" version="1.24.0"/></port>
      <port protocol="tcp" portid="22"><state state="open"/><service name="ssh" product="OpenSSH" version="9.6"/></port>
      <port protocol="tcp" portid="25"><state state="filtered"/><service name="smtp"/></port>
    </ports>
    <os>
      <osmatch name="Linux 5.X" accuracy="90"/>
      <osmatch name="Linux 6.X" accuracy="96"/>
    </os>
  </host>
  <runstats><finished elapsed="12.4"/></runstats>
</nmaprun>`

func TestParseNmapXML(t *testing.T) {
	result, err := parseNmapXML([]byte(sampleXML))
	require.NoError(t, err)

	assert.Equal(t, "up", result.HostStatus)
	assert.Equal(t, 12.4, result.Duration)

	// filtered ports are dropped, open ports sorted ascending
	require.Len(t, result.Ports, 2)
	assert.Equal(t, 22, result.Ports[0].Port)
	assert.Equal(t, 80, result.Ports[1].Port)
	assert.Equal(t, "nginx", result.Ports[1].Product)

	assert.Equal(t, "Linux 6.X", result.OSName)
	assert.Equal(t, 96, result.OSConfidence)
}

func TestParseNmapXMLHostDown(t *testing.T) {
	result, err := parseNmapXML([]byte(`<?xml version="1.0"?><nmaprun></nmaprun>`))
	require.NoError(t, err)
	assert.Equal(t, "down", result.HostStatus)
	assert.Empty(t, result.Ports)
}

func TestProfileArgs(t *testing.T) {
	args, err := profileArgs(models.ProfileQuick, "192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, []string{"-oX", "-", "-T4", "-F", "--open", "192.168.1.50"}, args)

	_, err = profileArgs(models.ScanProfile("aggressive"), "192.168.1.50")
	assert.Error(t, err)
}

func TestProfileTimeouts(t *testing.T) {
	assert.Equal(t, 60*time.Second, ProfileTimeout(models.ProfileQuick))
	assert.Equal(t, 120*time.Second, ProfileTimeout(models.ProfileBalanced))
	assert.Equal(t, 180*time.Second, ProfileTimeout(models.ProfileThorough))
}

// swapExec replaces the subprocess seam for one test and reports whether it
// ever ran.
func swapExec(t *testing.T, fn func(ctx context.Context, binary string, args []string) ([]byte, error)) *int {
	t.Helper()
	var calls int
	orig := execScan
	execScan = func(ctx context.Context, binary string, args []string) ([]byte, error) {
		calls++
		return fn(ctx, binary, args)
	}
	t.Cleanup(func() { execScan = orig })
	return &calls
}

func TestRunnerRejectsPublicTargetWithoutSubprocess(t *testing.T) {
	calls := swapExec(t, func(ctx context.Context, binary string, args []string) ([]byte, error) {
		return []byte(sampleXML), nil
	})
	runner := NewRunner("nmap")

	for _, target := range []string{"8.8.8.8", "198.51.100.7", "2001:db8::1", "example.com", "192.168.1.0/24", ""} {
		_, err := runner.Run(context.Background(), "fw-1", target, models.ProfileQuick)
		assert.Error(t, err, "target %q must be rejected", target)
	}
	assert.Zero(t, *calls, "no subprocess may run for a rejected target")
}

func TestRunnerFillsResultIdentity(t *testing.T) {
	swapExec(t, func(ctx context.Context, binary string, args []string) ([]byte, error) {
		assert.Equal(t, "nmap", binary)
		assert.Equal(t, "192.168.1.50", args[len(args)-1])
		return []byte(sampleXML), nil
	})
	runner := NewRunner("")

	result, err := runner.Run(context.Background(), "fw-1", "192.168.1.50", models.ProfileBalanced)
	require.NoError(t, err)
	assert.Equal(t, "fw-1", result.DeviceID)
	assert.Equal(t, "192.168.1.50", result.TargetIP)
	assert.Equal(t, models.ProfileBalanced, result.Profile)
	assert.Equal(t, sampleXML, result.RawOutput)
	assert.False(t, result.Time.IsZero())
}

func scanWithPorts(ports ...models.PortFinding) *models.ScanResult {
	return &models.ScanResult{
		DeviceID:   "fw-1",
		TargetIP:   "192.168.1.50",
		Time:       time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		HostStatus: "up",
		Ports:      ports,
	}
}

func TestDetectChangesNewHighRiskPort(t *testing.T) {
	prev := scanWithPorts(
		models.PortFinding{Port: 22, Protocol: "tcp", Service: "ssh"},
		models.PortFinding{Port: 80, Protocol: "tcp", Service: "http"},
	)
	curr := scanWithPorts(
		models.PortFinding{Port: 22, Protocol: "tcp", Service: "ssh"},
		models.PortFinding{Port: 80, Protocol: "tcp", Service: "http"},
		models.PortFinding{Port: 3389, Protocol: "tcp"},
	)

	events := DetectChanges(prev, curr)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, models.ChangeNewPort, e.ChangeType)
	assert.Equal(t, models.SeverityCritical, e.Severity)
	assert.Equal(t, "3389/tcp (ms-wbt-server)", e.NewValue)
	assert.Equal(t, 3389, e.Detail["port"])
	assert.NotEmpty(t, e.Detail["risk_description"])
}

func TestDetectChangesNewOrdinaryPortIsWarning(t *testing.T) {
	prev := scanWithPorts(models.PortFinding{Port: 22, Protocol: "tcp", Service: "ssh"})
	curr := scanWithPorts(
		models.PortFinding{Port: 22, Protocol: "tcp", Service: "ssh"},
		models.PortFinding{Port: 8443, Protocol: "tcp", Service: "https-alt"},
	)

	events := DetectChanges(prev, curr)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityWarning, events[0].Severity)
}

func TestDetectChangesPortClosed(t *testing.T) {
	prev := scanWithPorts(
		models.PortFinding{Port: 22, Protocol: "tcp", Service: "ssh"},
		models.PortFinding{Port: 445, Protocol: "tcp", Service: "microsoft-ds"},
	)
	curr := scanWithPorts(models.PortFinding{Port: 22, Protocol: "tcp", Service: "ssh"})

	events := DetectChanges(prev, curr)
	require.Len(t, events, 1)
	assert.Equal(t, models.ChangePortClosed, events[0].ChangeType)
	assert.Equal(t, models.SeverityInfo, events[0].Severity)
	assert.Equal(t, "445/tcp (microsoft-ds)", events[0].OldValue)
}

func TestDetectChangesOSAndServiceVersion(t *testing.T) {
	prev := scanWithPorts(models.PortFinding{Port: 80, Protocol: "tcp", Service: "http", Product: "nginx", Version: "1.24.0"})
	prev.OSName = "Linux 5.X"
	prev.OSConfidence = 90
	curr := scanWithPorts(models.PortFinding{Port: 80, Protocol: "tcp", Service: "http", Product: "nginx", Version: "1.26.1"})
	curr.OSName = "Linux 6.X"
	curr.OSConfidence = 96

	events := DetectChanges(prev, curr)
	require.Len(t, events, 2)

	byType := map[string]*models.ScanChangeEvent{}
	for _, e := range events {
		byType[e.ChangeType] = e
	}
	require.Contains(t, byType, models.ChangeOSChange)
	assert.Equal(t, models.SeverityWarning, byType[models.ChangeOSChange].Severity)
	assert.Equal(t, "Linux 5.X", byType[models.ChangeOSChange].OldValue)
	assert.Equal(t, "Linux 6.X", byType[models.ChangeOSChange].NewValue)

	require.Contains(t, byType, models.ChangeServiceVersion)
	assert.Equal(t, "nginx 1.24.0", byType[models.ChangeServiceVersion].OldValue)
	assert.Equal(t, "nginx 1.26.1", byType[models.ChangeServiceVersion].NewValue)
}

func TestDetectChangesFirstScanIsQuiet(t *testing.T) {
	curr := scanWithPorts(models.PortFinding{Port: 3389, Protocol: "tcp"})
	assert.Empty(t, DetectChanges(nil, curr))
}

// memScanStore keeps everything in memory for manager tests.
type memScanStore struct {
	mu        sync.Mutex
	results   []*models.ScanResult
	changes   []*models.ScanChangeEvent
	items     map[string]*models.ScanQueueItem
	connected []*models.ConnectedDevice
	saveErr   error
}

func newMemScanStore() *memScanStore {
	return &memScanStore{items: make(map[string]*models.ScanQueueItem)}
}

func (m *memScanStore) InsertScanResult(_ context.Context, r *models.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = fmt.Sprintf("result-%d", len(m.results)+1)
	}
	m.results = append(m.results, r)
	return nil
}

func (m *memScanStore) PreviousScanResult(_ context.Context, deviceID, targetIP string, before time.Time) (*models.ScanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prev *models.ScanResult
	for _, r := range m.results {
		if r.DeviceID == deviceID && r.TargetIP == targetIP && r.Time.Before(before) {
			if prev == nil || r.Time.After(prev.Time) {
				prev = r
			}
		}
	}
	return prev, nil
}

func (m *memScanStore) InsertScanChange(_ context.Context, e *models.ScanChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, e)
	return nil
}

func (m *memScanStore) SaveScanQueueItem(_ context.Context, item *models.ScanQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *item
	m.items[item.ID] = &copied
	return nil
}

func (m *memScanStore) PendingScanQueueItems(_ context.Context) ([]*models.ScanQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ScanQueueItem
	for _, item := range m.items {
		if item.Status == models.ScanQueued || item.Status == models.ScanRunning {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memScanStore) LatestConnectedDevices(_ context.Context, _ string, _ time.Duration) ([]*models.ConnectedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected, nil
}

func (m *memScanStore) item(id string) *models.ScanQueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

type staticSelector struct {
	tags, locations map[string]bool
}

func (s staticSelector) MACsByTag(string, string) map[string]bool      { return s.tags }
func (s staticSelector) MACsByLocation(string, string) map[string]bool { return s.locations }

func TestManagerScanLifecycle(t *testing.T) {
	swapExec(t, func(ctx context.Context, binary string, args []string) ([]byte, error) {
		return []byte(sampleXML), nil
	})
	store := newMemScanStore()
	mgr := NewManager(store, NewRunner("nmap"), staticSelector{}, 3)

	item, err := mgr.Enqueue(context.Background(), "", "fw-1", "192.168.1.50", models.ProfileQuick)
	require.NoError(t, err)
	mgr.Wait(5 * time.Second)

	final := store.item(item.ID)
	require.NotNil(t, final)
	assert.Equal(t, models.ScanCompleted, final.Status)
	assert.NotEmpty(t, final.ResultID)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.FinishedAt)
	require.Len(t, store.results, 1)
}

func TestManagerRecordsFailure(t *testing.T) {
	swapExec(t, func(ctx context.Context, binary string, args []string) ([]byte, error) {
		return nil, errors.New("host seems down")
	})
	store := newMemScanStore()
	mgr := NewManager(store, NewRunner("nmap"), staticSelector{}, 3)

	item, err := mgr.Enqueue(context.Background(), "", "fw-1", "192.168.1.50", models.ProfileQuick)
	require.NoError(t, err)
	mgr.Wait(5 * time.Second)

	final := store.item(item.ID)
	require.NotNil(t, final)
	assert.Equal(t, models.ScanFailed, final.Status)
	assert.Contains(t, final.Error, "host seems down")
	assert.Empty(t, store.results)
}

func TestManagerEnqueueRejectsPublicTarget(t *testing.T) {
	calls := swapExec(t, func(ctx context.Context, binary string, args []string) ([]byte, error) {
		return []byte(sampleXML), nil
	})
	store := newMemScanStore()
	mgr := NewManager(store, NewRunner("nmap"), staticSelector{}, 3)

	_, err := mgr.Enqueue(context.Background(), "", "fw-1", "203.0.113.9", models.ProfileQuick)
	require.Error(t, err)
	mgr.Wait(time.Second)
	assert.Zero(t, *calls)
	assert.Empty(t, store.items)
}

func TestManagerDetectsChangesAgainstPreviousScan(t *testing.T) {
	// consecutive scans: first {22,80}, second adds 3389
	first := `<?xml version="1.0"?><nmaprun><host><status state="up"/><ports>
	<port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port>
	<port protocol="tcp" portid="80"><state state="open"/><service name="http"/></port>
	</ports></host></nmaprun>`
	second := `<?xml version="1.0"?><nmaprun><host><status state="up"/><ports>
	<port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port>
	<port protocol="tcp" portid="80"><state state="open"/><service name="http"/></port>
	<port protocol="tcp" portid="3389"><state state="open"/><service name="ms-wbt-server"/></port>
	</ports></host></nmaprun>`

	outputs := []string{first, second}
	var idx int
	var mu sync.Mutex
	swapExec(t, func(ctx context.Context, binary string, args []string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		out := outputs[idx]
		idx++
		return []byte(out), nil
	})

	store := newMemScanStore()
	mgr := NewManager(store, NewRunner("nmap"), staticSelector{}, 1)

	_, err := mgr.Enqueue(context.Background(), "", "fw-1", "192.168.1.50", models.ProfileQuick)
	require.NoError(t, err)
	mgr.Wait(5 * time.Second)
	_, err = mgr.Enqueue(context.Background(), "", "fw-1", "192.168.1.50", models.ProfileQuick)
	require.NoError(t, err)
	mgr.Wait(5 * time.Second)

	require.Len(t, store.changes, 1)
	e := store.changes[0]
	assert.Equal(t, models.ChangeNewPort, e.ChangeType)
	assert.Equal(t, models.SeverityCritical, e.Severity)
	assert.Equal(t, "3389/tcp (ms-wbt-server)", e.NewValue)
}

func TestResolveTargetsFiltersBySelectorAndAddressSpace(t *testing.T) {
	store := newMemScanStore()
	store.connected = []*models.ConnectedDevice{
		{MAC: "aa:bb:cc:00:00:01", IP: "192.168.1.10"},
		{MAC: "aa:bb:cc:00:00:02", IP: "192.168.1.11"},
		{MAC: "aa:bb:cc:00:00:03", IP: "203.0.113.20"}, // public, never scanned
		{MAC: "aa:bb:cc:00:00:04", IP: ""},             // no address
		{MAC: "aa:bb:cc:00:00:05", IP: "192.168.1.10"}, // duplicate IP
	}
	sel := staticSelector{tags: map[string]bool{"aa:bb:cc:00:00:02": true}}
	mgr := NewManager(store, NewRunner("nmap"), sel, 3)

	all, err := mgr.resolveTargets(context.Background(), models.ScheduledScan{
		DeviceID: "fw-1", TargetType: models.TargetAll,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"192.168.1.10", "192.168.1.11"}, all)

	tagged, err := mgr.resolveTargets(context.Background(), models.ScheduledScan{
		DeviceID: "fw-1", TargetType: models.TargetTag, TargetValue: "iot-*",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.11"}, tagged)

	single, err := mgr.resolveTargets(context.Background(), models.ScheduledScan{
		DeviceID: "fw-1", TargetType: models.TargetIP, TargetValue: "192.168.1.99",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.99"}, single)
}

func TestRecoverPendingRequeuesInterruptedItems(t *testing.T) {
	swapExec(t, func(ctx context.Context, binary string, args []string) ([]byte, error) {
		return []byte(sampleXML), nil
	})
	store := newMemScanStore()
	stuck := &models.ScanQueueItem{
		ID:       "stuck-1",
		DeviceID: "fw-1",
		TargetIP: "192.168.1.50",
		Profile:  models.ProfileQuick,
		Status:   models.ScanRunning,
		QueuedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.SaveScanQueueItem(context.Background(), stuck))

	mgr := NewManager(store, NewRunner("nmap"), staticSelector{}, 3)
	require.NoError(t, mgr.RecoverPending(context.Background()))
	mgr.Wait(5 * time.Second)

	final := store.item("stuck-1")
	require.NotNil(t, final)
	assert.Equal(t, models.ScanCompleted, final.Status)
}

func TestValidateSchedule(t *testing.T) {
	valid := models.ScheduledScan{
		DeviceID:   "fw-1",
		TargetType: models.TargetAll,
		Profile:    models.ProfileBalanced,
		Trigger:    "daily:02:00",
	}
	require.NoError(t, validateSchedule(&valid))

	cases := map[string]func(*models.ScheduledScan){
		"missing device":     func(s *models.ScheduledScan) { s.DeviceID = "" },
		"bad target type":    func(s *models.ScheduledScan) { s.TargetType = "subnet" },
		"public ip target":   func(s *models.ScheduledScan) { s.TargetType = models.TargetIP; s.TargetValue = "8.8.8.8" },
		"empty tag selector": func(s *models.ScheduledScan) { s.TargetType = models.TargetTag; s.TargetValue = "" },
		"bad profile":        func(s *models.ScheduledScan) { s.Profile = "warp" },
		"bad trigger":        func(s *models.ScheduledScan) { s.Trigger = "hourly" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sc := valid
			mutate(&sc)
			assert.Error(t, validateSchedule(&sc))
		})
	}
}

func TestHighRiskPortSet(t *testing.T) {
	for _, port := range []int{21, 23, 135, 139, 445, 1433, 3306, 3389, 5432, 5900, 6379, 8080, 27017} {
		assert.True(t, IsHighRiskPort(port), "port %d", port)
	}
	assert.False(t, IsHighRiskPort(443))
	assert.False(t, IsHighRiskPort(22))
}
