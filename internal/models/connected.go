package models

import "time"

// ConnectedDevice is one endpoint observed behind a firewall at a collection
// tick, assembled from ARP, DHCP leases, reverse DNS, vendor lookup and the
// operator metadata store.
type ConnectedDevice struct {
	DeviceID string    `json:"deviceId"` // owning firewall
	MAC      string    `json:"mac"`      // canonical lowercase
	Time     time.Time `json:"time"`

	IP        string `json:"ip"`
	Hostname  string `json:"hostname,omitempty"`
	VLAN      string `json:"vlan,omitempty"`
	Interface string `json:"interface,omitempty"`
	Zone      string `json:"zone,omitempty"`
	Vendor    string `json:"vendor,omitempty"`

	// Virtual is set for hypervisor/container OUIs; Randomized for locally
	// administered MACs. Reason carries the attribution in either case.
	Virtual    bool   `json:"virtual"`
	Randomized bool   `json:"randomized"`
	MACReason  string `json:"macReason,omitempty"`

	// Denormalized operator metadata, merged at collection time.
	CustomName string   `json:"customName,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	Location   string   `json:"location,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	// Optional per-IP traffic over a recent window, filled by enriched reads.
	WindowBytesIn  int64 `json:"windowBytesIn,omitempty"`
	WindowBytesOut int64 `json:"windowBytesOut,omitempty"`
}

// DisplayName prefers the operator-assigned name, then the hostname, then IP.
func (c *ConnectedDevice) DisplayName() string {
	if c.CustomName != "" {
		return c.CustomName
	}
	if c.Hostname != "" {
		return c.Hostname
	}
	return c.IP
}
