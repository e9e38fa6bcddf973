// Package scan runs active scans against RFC1918 targets through the
// external nmap binary, parses the XML output, detects changes between
// consecutive results and drives the bounded per-device worker pool.
package scan

import (
	"fmt"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// profile binds a scan profile to its timeout and argument list. Arguments
// are always passed as an argv slice, never through a shell.
type profile struct {
	timeout time.Duration
	args    []string
}

var profiles = map[models.ScanProfile]profile{
	models.ProfileQuick: {
		timeout: 60 * time.Second,
		args:    []string{"-T4", "-F", "--open"},
	},
	models.ProfileBalanced: {
		timeout: 120 * time.Second,
		args:    []string{"-T4", "-sV", "--top-ports", "1000", "--open"},
	},
	models.ProfileThorough: {
		timeout: 180 * time.Second,
		args:    []string{"-T4", "-sV", "-O", "-p-", "--open"},
	},
}

// ProfileTimeout returns the wall-clock bound for one scan under a profile.
func ProfileTimeout(p models.ScanProfile) time.Duration {
	if prof, ok := profiles[p]; ok {
		return prof.timeout
	}
	return profiles[models.ProfileBalanced].timeout
}

// profileArgs builds the full argv for one target. The target is appended
// last; validation upstream guarantees it is a bare RFC1918 address.
func profileArgs(p models.ScanProfile, target string) ([]string, error) {
	prof, ok := profiles[p]
	if !ok {
		return nil, fmt.Errorf("unknown scan profile %q", p)
	}
	args := append([]string{"-oX", "-"}, prof.args...)
	return append(args, target), nil
}

// highRiskPorts are services whose unexpected appearance on a LAN endpoint
// warrants a critical change event.
var highRiskPorts = map[int]string{
	21:    "FTP exposes plaintext credentials",
	23:    "Telnet exposes plaintext credentials",
	135:   "MS RPC endpoint mapper is a common lateral-movement vector",
	139:   "NetBIOS session service is a common lateral-movement vector",
	445:   "SMB is a common ransomware and lateral-movement vector",
	1433:  "SQL Server exposed to the network",
	3306:  "MySQL exposed to the network",
	3389:  "RDP is a common brute-force and ransomware entry point",
	5432:  "PostgreSQL exposed to the network",
	5900:  "VNC often runs unauthenticated",
	6379:  "Redis often runs unauthenticated",
	8080:  "Alternate HTTP admin interfaces are frequently unhardened",
	27017: "MongoDB often runs unauthenticated",
}

// IsHighRiskPort reports whether a newly opened port is in the high-risk set.
func IsHighRiskPort(port int) bool {
	_, ok := highRiskPorts[port]
	return ok
}

// riskDescription explains why a port is considered high risk, or a generic
// line for ports outside the set.
func riskDescription(port int) string {
	if desc, ok := highRiskPorts[port]; ok {
		return desc
	}
	return "Newly reachable service"
}
