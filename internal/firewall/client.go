// Package firewall defines the capability the polling pipeline consumes to
// talk to a firewall's XML management API, together with the error taxonomy
// and retry policy shared by everything that touches the device.
//
// The wire dialect itself lives behind the Client interface; the collector
// is compiled against these normalized result types only. Callers measure
// per-operation latency around each call.
package firewall

import (
	"context"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// Client is the set of management-API operations one device exposes.
// Implementations must honor ctx cancellation and deadlines on every call.
type Client interface {
	// SystemInfo maps "show system info": identity, uptime, version.
	SystemInfo(ctx context.Context) (*SystemInfo, error)

	// InterfaceCounters maps "show counter interface <name>" for the
	// monitored interface's byte/packet counters.
	InterfaceCounters(ctx context.Context, name string) (*InterfaceCounters, error)

	// AllInterfaceCounters maps "show counter interface all", used for
	// per-interface stats and the error/drop totals.
	AllInterfaceCounters(ctx context.Context) ([]InterfaceCounters, error)

	// SessionInfo maps "show session info".
	SessionInfo(ctx context.Context) (*SessionInfo, error)

	// DataPlaneCPU maps "show running resource-monitor" to a load percent.
	DataPlaneCPU(ctx context.Context) (float64, error)

	// SystemResources maps "show system resources": management-plane CPU
	// and memory utilization.
	SystemResources(ctx context.Context) (*SystemResources, error)

	// InterfaceDetail maps "show interface <name>", used for the WAN uplink
	// address and negotiated speed.
	InterfaceDetail(ctx context.Context, name string) (*InterfaceDetail, error)

	// ARPTable maps "show arp all".
	ARPTable(ctx context.Context) ([]ARPEntry, error)

	// DHCPLeases maps "show dhcp server lease all".
	DHCPLeases(ctx context.Context) ([]DHCPLease, error)

	// Licenses maps "request license info" to expired/valid counts.
	Licenses(ctx context.Context) (*LicenseInfo, error)

	// ThreatSummary aggregates threat and URL-filtering counts since the
	// given time, with per-severity last-seen stamps.
	ThreatSummary(ctx context.Context, since time.Time) (*ThreatSummary, error)

	// Logs queries one log category, newest first, at most limit entries.
	Logs(ctx context.Context, kind models.LogKind, limit int) ([]models.LogEntry, error)

	// ApplicationStats maps the application statistics report.
	ApplicationStats(ctx context.Context) ([]AppStat, error)
}

// SystemInfo is the normalized "show system info" result.
type SystemInfo struct {
	Hostname     string
	Serial       string
	PanOSVersion string
	UptimeSec    int64
	Model        string
}

// InterfaceCounters carries one interface's monotonic counters.
type InterfaceCounters struct {
	Name       string
	BytesIn    int64
	BytesOut   int64
	PacketsIn  int64
	PacketsOut int64
	ErrorsIn   int64
	ErrorsOut  int64
	DropsIn    int64
	DropsOut   int64
}

// SessionInfo is the normalized session table state.
type SessionInfo struct {
	Active int64
	TCP    int64
	UDP    int64
	ICMP   int64
	Max    int64
}

// SystemResources is the management-plane utilization snapshot.
type SystemResources struct {
	CPUPct    float64
	MemoryPct float64
}

// InterfaceDetail is the normalized "show interface <name>" result.
type InterfaceDetail struct {
	Name    string
	Address string // first assigned address, without prefix length
	Speed   string // negotiated speed, e.g. "1000" or "auto"
	State   string
	MAC     string
	Zone    string
}

// ARPEntry is one row of the device ARP table.
type ARPEntry struct {
	IP        string
	MAC       string
	Interface string
	VLAN      string
	Zone      string
}

// DHCPLease is one active lease from the device's DHCP server.
type DHCPLease struct {
	IP       string
	MAC      string
	Hostname string
	Expires  time.Time
}

// LicenseInfo counts installed licenses by validity.
type LicenseInfo struct {
	Valid   int
	Expired int
}

// ThreatSummary aggregates threat/URL activity since a reference time.
type ThreatSummary struct {
	Critical     int64
	High         int64
	Medium       int64
	BlockedURLs  int64
	LastCritical *time.Time
	LastHigh     *time.Time
	LastMedium   *time.Time
	LastURLBlock *time.Time
}

// AppStat is one application's row from the statistics report.
type AppStat struct {
	Name         string
	Category     string
	BytesTotal   int64
	BytesSent    int64
	BytesRecv    int64
	Sessions     int64
	Sources      []Endpoint
	Destinations []Endpoint
	Protocols    []string
	Ports        []int
	VLANs        []string
	Zones        []string
}

// Endpoint is an address participating in an application's traffic.
type Endpoint struct {
	IP    string
	Bytes int64
}

// Default per-call deadlines. Large result sets (software check, exports)
// get the long form.
const (
	DefaultCallTimeout = 10 * time.Second
	LongCallTimeout    = 60 * time.Second
)
