package models

import (
	"strings"
	"time"
)

// Device represents a managed firewall under monitoring.
type Device struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	// AuthToken is the opaque API credential for the management interface.
	// Never serialized toward the dashboard or log output.
	AuthToken    string `json:"-"`
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	MonitorIface string `json:"monitorInterface"` // interface measured for throughput
	WANIface     string `json:"wanInterface"`     // interface considered the WAN uplink

	// VerifyTLS enables system CA verification of the management endpoint;
	// Fingerprint pins its certificate instead (SHA256 hex).
	VerifyTLS   bool   `json:"verifyTls"`
	Fingerprint string `json:"fingerprint,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeviceMetadata carries operator-assigned attributes for an endpoint seen
// behind a firewall, keyed by canonical (lowercase) MAC address.
type DeviceMetadata struct {
	MAC        string    `json:"mac"`
	DeviceID   string    `json:"deviceId"` // owning firewall
	CustomName string    `json:"customName,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	Location   string    `json:"location,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HasTag reports whether the metadata carries the given tag (case-insensitive).
func (m *DeviceMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand across goroutines.
func (m *DeviceMetadata) Clone() *DeviceMetadata {
	if m == nil {
		return nil
	}
	clone := *m
	if len(m.Tags) > 0 {
		clone.Tags = append([]string(nil), m.Tags...)
	}
	return &clone
}
