package scan

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/netutil"
)

// execScan invokes the scan binary; swapped in tests so no subprocess runs.
var execScan = func(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scan timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("scan process failed: %w (%s)", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// ValidateTarget enforces the scan safety invariant: only bare RFC1918
// addresses are scannable. Everything else is rejected before any
// subprocess exists.
func ValidateTarget(ip string) error {
	if !netutil.IsRFC1918(ip) {
		return fmt.Errorf("target %q is outside RFC1918 private space", ip)
	}
	return nil
}

// Runner executes single scans.
type Runner struct {
	binary string
}

// NewRunner creates a runner invoking the given nmap binary path.
func NewRunner(binary string) *Runner {
	if binary == "" {
		binary = "nmap"
	}
	return &Runner{binary: binary}
}

// Run validates the target, executes one scan under the profile's timeout
// and returns the parsed result. The raw XML is retained on the result.
func (r *Runner) Run(ctx context.Context, deviceID, targetIP string, profileName models.ScanProfile) (*models.ScanResult, error) {
	if err := ValidateTarget(targetIP); err != nil {
		return nil, err
	}
	args, err := profileArgs(profileName, targetIP)
	if err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, ProfileTimeout(profileName))
	defer cancel()

	start := time.Now()
	raw, err := execScan(scanCtx, r.binary, args)
	if err != nil {
		return nil, err
	}

	result, err := parseNmapXML(raw)
	if err != nil {
		return nil, err
	}
	result.DeviceID = deviceID
	result.TargetIP = targetIP
	result.Profile = profileName
	result.Time = start
	result.RawOutput = string(raw)
	if result.Duration == 0 {
		result.Duration = time.Since(start).Seconds()
	}

	log.Debug().
		Str("target", targetIP).
		Str("profile", string(profileName)).
		Int("openPorts", len(result.Ports)).
		Str("hostStatus", result.HostStatus).
		Msg("Scan finished")
	return result, nil
}
