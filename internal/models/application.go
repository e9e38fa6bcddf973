package models

import "time"

// MaxEndpointsPerApplication caps the source/destination lists stored per
// application row; the largest movers by bytes are kept.
const MaxEndpointsPerApplication = 50

// ApplicationSample aggregates one application's traffic on one firewall at
// a collection tick.
type ApplicationSample struct {
	DeviceID    string    `json:"deviceId"`
	Application string    `json:"application"`
	Time        time.Time `json:"time"`

	BytesTotal int64 `json:"bytesTotal"`
	BytesSent  int64 `json:"bytesSent"`
	BytesRecv  int64 `json:"bytesRecv"`
	Sessions   int64 `json:"sessions"`

	// Endpoint lists ranked by bytes, capped at MaxEndpointsPerApplication.
	Sources      []AppEndpoint `json:"sources,omitempty"`
	Destinations []AppEndpoint `json:"destinations,omitempty"`

	Protocols []string `json:"protocols,omitempty"`
	Ports     []int    `json:"ports,omitempty"`
	VLANs     []string `json:"vlans,omitempty"`
	Zones     []string `json:"zones,omitempty"`

	Category string `json:"category,omitempty"`
}

// AppEndpoint is one address participating in an application's traffic.
type AppEndpoint struct {
	IP    string `json:"ip"`
	Bytes int64  `json:"bytes"`
}

// IPBandwidth is one row of the per-IP windowed bandwidth aggregation used
// by the per_ip_bandwidth alert metric and the enriched connected-device view.
type IPBandwidth struct {
	IP         string `json:"ip"`
	Hostname   string `json:"hostname,omitempty"`
	Direction  string `json:"direction"` // "download" or "upload"
	TotalBytes int64  `json:"totalBytes"`
}

// AppSummary is the aggregate surface the read adapter exposes for the
// application statistics dashboard card.
type AppSummary struct {
	UniqueApps  int   `json:"uniqueApps"`
	UniqueVLANs int   `json:"uniqueVlans"`
	UniqueZones int   `json:"uniqueZones"`
	TotalBytes  int64 `json:"totalBytes"`
}
