package models

import "time"

// AlertSeverity classifies triggered alerts.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

// ValidSeverity reports whether s is an allowed severity value.
func ValidSeverity(s AlertSeverity) bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Comparison operators accepted by alert configurations.
const (
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpEqual        = "=="
	OpNotEqual     = "!="
)

// ValidOperator reports whether op is an allowed comparison operator.
func ValidOperator(op string) bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// AlertConfig is one operator-defined threshold rule.
//
// MetricType is an open string: scalar metrics resolve against the latest
// sample's metric map; "app_<name>" resolves to that application's bytes in
// the last five minutes (MB); "per_ip_bandwidth_5min" counts endpoints whose
// windowed traffic exceeds the threshold (MB).
type AlertConfig struct {
	ID              string        `json:"id"`
	DeviceID        string        `json:"deviceId"`
	MetricType      string        `json:"metricType"`
	Threshold       float64       `json:"threshold"`
	Operator        string        `json:"operator"`
	Severity        AlertSeverity `json:"severity"`
	Enabled         bool          `json:"enabled"`
	ChannelIDs      []string      `json:"channelIds,omitempty"`
	CooldownSeconds int           `json:"cooldownSeconds,omitempty"` // 0 means the engine default

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the config.
func (c *AlertConfig) Clone() *AlertConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if len(c.ChannelIDs) > 0 {
		clone.ChannelIDs = append([]string(nil), c.ChannelIDs...)
	}
	return &clone
}

// AlertConfigPatch is a partial update applied to an existing config. Only
// non-nil fields change; anything else is rejected at the CRUD boundary.
type AlertConfigPatch struct {
	MetricType      *string        `json:"metricType,omitempty"`
	Threshold       *float64       `json:"threshold,omitempty"`
	Operator        *string        `json:"operator,omitempty"`
	Severity        *AlertSeverity `json:"severity,omitempty"`
	Enabled         *bool          `json:"enabled,omitempty"`
	ChannelIDs      *[]string      `json:"channelIds,omitempty"`
	CooldownSeconds *int           `json:"cooldownSeconds,omitempty"`
}

// AlertEvent is one row of alert history: a single trigger of a config.
type AlertEvent struct {
	ID         string        `json:"id"`
	ConfigID   string        `json:"configId"`
	DeviceID   string        `json:"deviceId"`
	DeviceName string        `json:"deviceName,omitempty"`
	Metric     string        `json:"metric"`
	Threshold  float64       `json:"threshold"`
	Value      float64       `json:"value"`
	Operator   string        `json:"operator,omitempty"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	Time       time.Time     `json:"time"`

	AckBy   string     `json:"ackBy,omitempty"`
	AckTime *time.Time `json:"ackTime,omitempty"`

	ResolvedReason string     `json:"resolvedReason,omitempty"`
	ResolvedTime   *time.Time `json:"resolvedTime,omitempty"`
}

// Resolved reports whether the event has been closed out.
func (e *AlertEvent) Resolved() bool { return e.ResolvedTime != nil }

// AlertCooldown suppresses re-triggering of a (device, config) pair until
// Until has passed. Rows are upserted on trigger and lazily deleted by GC.
type AlertCooldown struct {
	DeviceID      string    `json:"deviceId"`
	ConfigID      string    `json:"configId"`
	LastTriggered time.Time `json:"lastTriggered"`
	Until         time.Time `json:"until"`
}

// MaintenanceRecurrence enumerates how a window repeats.
type MaintenanceRecurrence string

const (
	RecurrenceOnce   MaintenanceRecurrence = "once"
	RecurrenceDaily  MaintenanceRecurrence = "daily"
	RecurrenceWeekly MaintenanceRecurrence = "weekly"
)

// ValidRecurrence reports whether r is an allowed recurrence value.
func ValidRecurrence(r MaintenanceRecurrence) bool {
	switch r {
	case RecurrenceOnce, RecurrenceDaily, RecurrenceWeekly:
		return true
	}
	return false
}

// MaintenanceWindow suppresses alert evaluation for a device (or globally
// when DeviceID is empty) while the current time matches the window under
// its recurrence rule. Weekly windows match the weekday of Start.
type MaintenanceWindow struct {
	ID         string                `json:"id"`
	DeviceID   string                `json:"deviceId,omitempty"` // empty = all devices
	Start      time.Time             `json:"start"`
	End        time.Time             `json:"end"`
	Recurrence MaintenanceRecurrence `json:"recurrence"`
	Enabled    bool                  `json:"enabled"`
	Comment    string                `json:"comment,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// AlertStats aggregates history counts for the dashboard.
type AlertStats struct {
	Total          int `json:"total"`
	Critical       int `json:"critical"`
	Warning        int `json:"warning"`
	Info           int `json:"info"`
	Unresolved     int `json:"unresolved"`
	Unacknowledged int `json:"unacknowledged"`
}
