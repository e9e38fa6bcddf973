package models

import "time"

// ScanProfile names a scan aggressiveness / timeout / argument triple.
type ScanProfile string

const (
	ProfileQuick    ScanProfile = "quick"
	ProfileBalanced ScanProfile = "balanced"
	ProfileThorough ScanProfile = "thorough"
)

// ValidScanProfile reports whether p names a known profile.
func ValidScanProfile(p ScanProfile) bool {
	switch p {
	case ProfileQuick, ProfileBalanced, ProfileThorough:
		return true
	}
	return false
}

// Target selector types for scheduled scans.
const (
	TargetAll      = "all"
	TargetTag      = "tag"
	TargetLocation = "location"
	TargetIP       = "ip"
)

// ValidTargetType reports whether t names a known selector.
func ValidTargetType(t string) bool {
	switch t {
	case TargetAll, TargetTag, TargetLocation, TargetIP:
		return true
	}
	return false
}

// ScheduledScan is one operator-defined recurring scan.
//
// Trigger forms: "interval:<seconds>", "daily:HH:MM", "weekly:DOW:HH:MM"
// (DOW is mon..sun), or "cron:<expression>".
type ScheduledScan struct {
	ID          string      `json:"id"`
	DeviceID    string      `json:"deviceId"`
	TargetType  string      `json:"targetType"`
	TargetValue string      `json:"targetValue,omitempty"`
	Profile     ScanProfile `json:"profile"`
	Trigger     string      `json:"trigger"`
	Enabled     bool        `json:"enabled"`

	LastRun    *time.Time `json:"lastRun,omitempty"`
	LastStatus string     `json:"lastStatus,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	NextRun    *time.Time `json:"nextRun,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PortFinding is one open/filtered port discovered by a scan.
type PortFinding struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"` // tcp or udp
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
	Product  string `json:"product,omitempty"`
	Version  string `json:"version,omitempty"`
}

// OSMatch is one OS fingerprint candidate with its confidence.
type OSMatch struct {
	Name       string `json:"name"`
	Confidence int    `json:"confidence"`
}

// ScanResult is the parsed outcome of one scan of one target.
type ScanResult struct {
	ID       string      `json:"id"`
	DeviceID string      `json:"deviceId"`
	TargetIP string      `json:"targetIp"`
	Time     time.Time   `json:"time"`
	Profile  ScanProfile `json:"profile"`
	Duration float64     `json:"durationSec"`

	HostStatus   string        `json:"hostStatus"` // up, down, unknown
	OSName       string        `json:"osName,omitempty"`
	OSConfidence int           `json:"osConfidence,omitempty"`
	OSMatches    []OSMatch     `json:"osMatches,omitempty"`
	Ports        []PortFinding `json:"ports,omitempty"`

	Detail    map[string]any `json:"detail,omitempty"`
	RawOutput string         `json:"-"` // stored, never serialized to readers
}

// Change event kinds produced by comparing consecutive scan results.
const (
	ChangeNewPort        = "new_port"
	ChangePortClosed     = "port_closed"
	ChangeOSChange       = "os_change"
	ChangeServiceVersion = "service_version_change"
)

// ScanChangeEvent records one detected difference between consecutive scans
// of the same (device, target). Events are never auto-acknowledged.
type ScanChangeEvent struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"deviceId"`
	TargetIP string    `json:"targetIp"`
	Time     time.Time `json:"time"`

	ChangeType string         `json:"changeType"`
	Severity   AlertSeverity  `json:"severity"`
	OldValue   string         `json:"oldValue,omitempty"`
	NewValue   string         `json:"newValue,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`

	AckBy   string     `json:"ackBy,omitempty"`
	AckTime *time.Time `json:"ackTime,omitempty"`
}

// Scan queue item states.
const (
	ScanQueued    = "queued"
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
)

// ScanQueueItem tracks one target through the scan worker pool.
type ScanQueueItem struct {
	ID         string      `json:"id"`
	ScheduleID string      `json:"scheduleId,omitempty"` // empty for ad-hoc scans
	DeviceID   string      `json:"deviceId"`
	TargetIP   string      `json:"targetIp"`
	Profile    ScanProfile `json:"profile"`
	Status     string      `json:"status"`

	QueuedAt   time.Time  `json:"queuedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	ResultID string `json:"resultId,omitempty"`
	Error    string `json:"error,omitempty"`
}
