package models

import "time"

// LogKind names one of the per-device rolling log windows.
type LogKind string

const (
	LogKindThreat  LogKind = "threat"
	LogKindURL     LogKind = "url"
	LogKindSystem  LogKind = "system"
	LogKindTraffic LogKind = "traffic"
)

// ValidLogKind reports whether k names a known log window.
func ValidLogKind(k LogKind) bool {
	switch k {
	case LogKindThreat, LogKindURL, LogKindSystem, LogKindTraffic:
		return true
	}
	return false
}

// LogEntry is one normalized firewall log row. Fields beyond the common set
// are kept in Detail; per-kind columns that queries filter on are promoted.
type LogEntry struct {
	DeviceID string    `json:"deviceId"`
	Kind     LogKind   `json:"kind"`
	Time     time.Time `json:"time"`
	Seq      int64     `json:"seq,omitempty"` // device-side sequence when available

	Severity    string `json:"severity,omitempty"`
	SourceIP    string `json:"sourceIp,omitempty"`
	DestIP      string `json:"destIp,omitempty"`
	SourcePort  int    `json:"sourcePort,omitempty"`
	DestPort    int    `json:"destPort,omitempty"`
	Application string `json:"application,omitempty"`
	Rule        string `json:"rule,omitempty"`
	Action      string `json:"action,omitempty"`

	// Threat fields.
	ThreatName string `json:"threatName,omitempty"`
	ThreatID   string `json:"threatId,omitempty"`

	// URL-filtering fields.
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`

	// Traffic accounting fields.
	Bytes     int64 `json:"bytes,omitempty"`
	BytesSent int64 `json:"bytesSent,omitempty"`
	BytesRecv int64 `json:"bytesRecv,omitempty"`
	Packets   int64 `json:"packets,omitempty"`

	// System log fields.
	EventID     string `json:"eventId,omitempty"`
	Object      string `json:"object,omitempty"`
	Description string `json:"description,omitempty"`
}
