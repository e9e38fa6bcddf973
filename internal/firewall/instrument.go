package firewall

import (
	"context"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// LatencyObserver receives the elapsed time of every device operation,
// successful or not.
type LatencyObserver func(op string, elapsed time.Duration, err error)

// Instrument wraps a Client so every call reports its latency to observe.
// A nil observer returns the client unchanged.
func Instrument(inner Client, observe LatencyObserver) Client {
	if observe == nil {
		return inner
	}
	return &instrumentedClient{inner: inner, observe: observe}
}

type instrumentedClient struct {
	inner   Client
	observe LatencyObserver
}

func (c *instrumentedClient) timed(op string, start time.Time, err error) {
	c.observe(op, time.Since(start), err)
}

func (c *instrumentedClient) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	start := time.Now()
	res, err := c.inner.SystemInfo(ctx)
	c.timed("system_info", start, err)
	return res, err
}

func (c *instrumentedClient) InterfaceCounters(ctx context.Context, name string) (*InterfaceCounters, error) {
	start := time.Now()
	res, err := c.inner.InterfaceCounters(ctx, name)
	c.timed("interface_counters", start, err)
	return res, err
}

func (c *instrumentedClient) AllInterfaceCounters(ctx context.Context) ([]InterfaceCounters, error) {
	start := time.Now()
	res, err := c.inner.AllInterfaceCounters(ctx)
	c.timed("interface_counters_all", start, err)
	return res, err
}

func (c *instrumentedClient) SessionInfo(ctx context.Context) (*SessionInfo, error) {
	start := time.Now()
	res, err := c.inner.SessionInfo(ctx)
	c.timed("session_info", start, err)
	return res, err
}

func (c *instrumentedClient) DataPlaneCPU(ctx context.Context) (float64, error) {
	start := time.Now()
	res, err := c.inner.DataPlaneCPU(ctx)
	c.timed("dataplane_cpu", start, err)
	return res, err
}

func (c *instrumentedClient) SystemResources(ctx context.Context) (*SystemResources, error) {
	start := time.Now()
	res, err := c.inner.SystemResources(ctx)
	c.timed("system_resources", start, err)
	return res, err
}

func (c *instrumentedClient) InterfaceDetail(ctx context.Context, name string) (*InterfaceDetail, error) {
	start := time.Now()
	res, err := c.inner.InterfaceDetail(ctx, name)
	c.timed("interface_detail", start, err)
	return res, err
}

func (c *instrumentedClient) ARPTable(ctx context.Context) ([]ARPEntry, error) {
	start := time.Now()
	res, err := c.inner.ARPTable(ctx)
	c.timed("arp_table", start, err)
	return res, err
}

func (c *instrumentedClient) DHCPLeases(ctx context.Context) ([]DHCPLease, error) {
	start := time.Now()
	res, err := c.inner.DHCPLeases(ctx)
	c.timed("dhcp_leases", start, err)
	return res, err
}

func (c *instrumentedClient) Licenses(ctx context.Context) (*LicenseInfo, error) {
	start := time.Now()
	res, err := c.inner.Licenses(ctx)
	c.timed("license_info", start, err)
	return res, err
}

func (c *instrumentedClient) ThreatSummary(ctx context.Context, since time.Time) (*ThreatSummary, error) {
	start := time.Now()
	res, err := c.inner.ThreatSummary(ctx, since)
	c.timed("threat_summary", start, err)
	return res, err
}

func (c *instrumentedClient) Logs(ctx context.Context, kind models.LogKind, limit int) ([]models.LogEntry, error) {
	start := time.Now()
	res, err := c.inner.Logs(ctx, kind, limit)
	c.timed("log_query_"+string(kind), start, err)
	return res, err
}

func (c *instrumentedClient) ApplicationStats(ctx context.Context) ([]AppStat, error) {
	start := time.Now()
	res, err := c.inner.ApplicationStats(ctx)
	c.timed("application_stats", start, err)
	return res, err
}
