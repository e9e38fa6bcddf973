package models

import "time"

// ThroughputSample is one polling tick's normalized snapshot of a firewall.
// Raw counters are monotonic modulo device reset; the derived rates are
// computed against the previous tick by the poller.
type ThroughputSample struct {
	DeviceID string    `json:"deviceId"`
	Time     time.Time `json:"time"`

	// Raw interface counters for the monitored interface.
	BytesIn    int64 `json:"bytesIn"`
	BytesOut   int64 `json:"bytesOut"`
	PacketsIn  int64 `json:"packetsIn"`
	PacketsOut int64 `json:"packetsOut"`

	// Derived rates.
	InboundMbps  float64 `json:"inboundMbps"`
	OutboundMbps float64 `json:"outboundMbps"`
	TotalMbps    float64 `json:"totalMbps"`
	InboundPPS   float64 `json:"inboundPps"`
	OutboundPPS  float64 `json:"outboundPps"`
	TotalPPS     float64 `json:"totalPps"`

	// Session table state.
	SessionsActive int64 `json:"sessionsActive"`
	SessionsTCP    int64 `json:"sessionsTcp"`
	SessionsUDP    int64 `json:"sessionsUdp"`
	SessionsICMP   int64 `json:"sessionsIcmp"`
	SessionsMax    int64 `json:"sessionsMax"`

	// Resource utilization.
	CPUDataPlane float64 `json:"cpuDataPlane"`
	CPUMgmtPlane float64 `json:"cpuMgmtPlane"`
	MemoryPct    float64 `json:"memoryPct"`
	UptimeSec    int64   `json:"uptimeSec"`

	// Threat and URL-filtering counters since the previous tick.
	ThreatsCritical  int64      `json:"threatsCritical"`
	ThreatsHigh      int64      `json:"threatsHigh"`
	ThreatsMedium    int64      `json:"threatsMedium"`
	BlockedURLs      int64      `json:"blockedUrls"`
	LastCriticalSeen *time.Time `json:"lastCriticalSeen,omitempty"`
	LastHighSeen     *time.Time `json:"lastHighSeen,omitempty"`
	LastMediumSeen   *time.Time `json:"lastMediumSeen,omitempty"`
	LastURLBlockSeen *time.Time `json:"lastUrlBlockSeen,omitempty"`

	// Interface health totals across all interfaces.
	InterfaceErrors int64 `json:"interfaceErrors"`
	InterfaceDrops  int64 `json:"interfaceDrops"`

	// License state.
	LicensesValid   int `json:"licensesValid"`
	LicensesExpired int `json:"licensesExpired"`

	// WAN uplink.
	WANAddress   string `json:"wanAddress,omitempty"`
	WANLinkSpeed string `json:"wanLinkSpeed,omitempty"`

	// Identity as reported by the device.
	Hostname     string `json:"hostname,omitempty"`
	PanOSVersion string `json:"panosVersion,omitempty"`

	// Structured extras persisted as JSON blobs.
	TopApps        []TopApp        `json:"topApps,omitempty"`
	InterfaceStats []InterfaceStat `json:"interfaceStats,omitempty"`

	// Optional top-bandwidth client, split by where its traffic terminates.
	TopClientInternal *TopClient `json:"topClientInternal,omitempty"`
	TopClientInternet *TopClient `json:"topClientInternet,omitempty"`

	// Optional top application category, split the same way.
	TopCategoryInternal *TopCategory `json:"topCategoryInternal,omitempty"`
	TopCategoryInternet *TopCategory `json:"topCategoryInternet,omitempty"`
}

// TopApp summarizes one application's share of current traffic.
type TopApp struct {
	Name     string `json:"name"`
	Bytes    int64  `json:"bytes"`
	Sessions int64  `json:"sessions"`
}

// InterfaceStat is a per-interface byte/health snapshot kept with the sample.
type InterfaceStat struct {
	Name     string `json:"name"`
	RxBytes  int64  `json:"rxBytes"`
	TxBytes  int64  `json:"txBytes"`
	RxErrors int64  `json:"rxErrors"`
	TxErrors int64  `json:"txErrors"`
	RxDrops  int64  `json:"rxDrops"`
	TxDrops  int64  `json:"txDrops"`
}

// TopClient identifies the endpoint moving the most bytes in the window.
type TopClient struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname,omitempty"`
	Bytes    int64  `json:"bytes"`
}

// TopCategory identifies the application category moving the most bytes.
type TopCategory struct {
	Category string `json:"category"`
	Bytes    int64  `json:"bytes"`
}

// Clone returns a deep copy of the sample so the latest-snapshot cache can
// hand it to readers while the poller builds the next one.
func (s *ThroughputSample) Clone() *ThroughputSample {
	if s == nil {
		return nil
	}
	clone := *s
	clone.LastCriticalSeen = cloneTime(s.LastCriticalSeen)
	clone.LastHighSeen = cloneTime(s.LastHighSeen)
	clone.LastMediumSeen = cloneTime(s.LastMediumSeen)
	clone.LastURLBlockSeen = cloneTime(s.LastURLBlockSeen)
	if len(s.TopApps) > 0 {
		clone.TopApps = append([]TopApp(nil), s.TopApps...)
	}
	if len(s.InterfaceStats) > 0 {
		clone.InterfaceStats = append([]InterfaceStat(nil), s.InterfaceStats...)
	}
	if s.TopClientInternal != nil {
		c := *s.TopClientInternal
		clone.TopClientInternal = &c
	}
	if s.TopClientInternet != nil {
		c := *s.TopClientInternet
		clone.TopClientInternet = &c
	}
	if s.TopCategoryInternal != nil {
		c := *s.TopCategoryInternal
		clone.TopCategoryInternal = &c
	}
	if s.TopCategoryInternet != nil {
		c := *s.TopCategoryInternet
		clone.TopCategoryInternet = &c
	}
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// MetricMap flattens the sample into the metric-name → value form the alert
// engine evaluates. Synthetic metrics (app_<name>, per_ip_bandwidth_5min)
// are resolved by the engine itself and are not present here.
func (s *ThroughputSample) MetricMap() map[string]float64 {
	if s == nil {
		return nil
	}
	return map[string]float64{
		"cpu":              s.CPUDataPlane,
		"cpu_mgmt":         s.CPUMgmtPlane,
		"memory":           s.MemoryPct,
		"sessions":         float64(s.SessionsActive),
		"sessions_tcp":     float64(s.SessionsTCP),
		"sessions_udp":     float64(s.SessionsUDP),
		"threats_critical": float64(s.ThreatsCritical),
		"threats_high":     float64(s.ThreatsHigh),
		"threats_medium":   float64(s.ThreatsMedium),
		"blocked_urls":     float64(s.BlockedURLs),
		"interface_errors": float64(s.InterfaceErrors),
		"interface_drops":  float64(s.InterfaceDrops),
		"throughput_in":    s.InboundMbps,
		"throughput_out":   s.OutboundMbps,
		"throughput_total": s.TotalMbps,
		"licenses_expired": float64(s.LicensesExpired),
	}
}
