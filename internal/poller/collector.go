package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/parapetdev/parapet/internal/firewall"
	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/netutil"
)

// subFetchLimit bounds the concurrent sub-fetches within one device's
// throughput tick.
const subFetchLimit = 4

// topAppCount is how many applications are kept on the sample itself.
const topAppCount = 10

// logPullLimit is how many entries one log query requests per kind.
const logPullLimit = 200

// Store is the persistence surface the collector writes through.
type Store interface {
	InsertSample(ctx context.Context, sample *models.ThroughputSample) error
	InsertConnectedDevices(ctx context.Context, devices []*models.ConnectedDevice) error
	InsertApplications(ctx context.Context, samples []*models.ApplicationSample) error
	InsertLogs(ctx context.Context, entries []*models.LogEntry) error
	LatestLogSeq(ctx context.Context, deviceID string, kind models.LogKind) (int64, error)
}

// MetadataSource resolves operator metadata for an endpoint MAC.
type MetadataSource interface {
	Metadata(deviceID, mac string) (*models.DeviceMetadata, bool)
}

// Collector runs the per-device collection jobs. One Collector serves the
// whole fleet; per-device state (rate windows, threat watermarks) is only
// touched by that device's own scheduled handler.
type Collector struct {
	store    Store
	meta     MetadataSource
	resolver *netutil.ReverseResolver
	tracker  *RateTracker
	cache    *SnapshotCache
	retry    firewall.RetryConfig

	mu          sync.Mutex
	threatSince map[string]time.Time
}

// New creates a collector. resolver may be nil to disable reverse DNS.
func New(store Store, meta MetadataSource, resolver *netutil.ReverseResolver) *Collector {
	return &Collector{
		store:       store,
		meta:        meta,
		resolver:    resolver,
		tracker:     NewRateTracker(),
		cache:       NewSnapshotCache(),
		retry:       firewall.DefaultRetry,
		threatSince: make(map[string]time.Time),
	}
}

// Cache exposes the latest-snapshot cache for the read adapter.
func (c *Collector) Cache() *SnapshotCache { return c.cache }

// Tracker exposes the rate tracker, used when a device is removed.
func (c *Collector) Tracker() *RateTracker { return c.tracker }

// CollectThroughput runs one throughput tick for a device: the core counter
// fetch, concurrent sub-fetches, sample assembly, the idempotent store write
// and the cache update. Only a failed core fetch fails the tick.
func (c *Collector) CollectThroughput(ctx context.Context, device models.Device, client firewall.Client) error {
	now := time.Now()

	var counters *firewall.InterfaceCounters
	err := firewall.Retry(ctx, c.retry, "interface_counters", device.Name, func(ctx context.Context) error {
		var err error
		counters, err = client.InterfaceCounters(ctx, device.MonitorIface)
		return err
	})
	if err != nil {
		return fmt.Errorf("core counter fetch failed for %s: %w", device.Name, err)
	}

	rates := c.tracker.Rates(device.ID, now, counters)
	sample := &models.ThroughputSample{
		DeviceID:     device.ID,
		Time:         now,
		BytesIn:      counters.BytesIn,
		BytesOut:     counters.BytesOut,
		PacketsIn:    counters.PacketsIn,
		PacketsOut:   counters.PacketsOut,
		InboundMbps:  rates.InboundMbps,
		OutboundMbps: rates.OutboundMbps,
		TotalMbps:    rates.TotalMbps,
		InboundPPS:   rates.InboundPPS,
		OutboundPPS:  rates.OutboundPPS,
		TotalPPS:     rates.TotalPPS,
	}

	c.runSubFetches(ctx, device, client, sample)

	if err := c.store.InsertSample(ctx, sample); err != nil {
		return fmt.Errorf("sample write failed for %s: %w", device.Name, err)
	}
	c.cache.Set(sample)
	return nil
}

// runSubFetches fills the non-core sample fields. Each fetch fails
// individually; its fields stay zero and the failure is logged.
func (c *Collector) runSubFetches(ctx context.Context, device models.Device, client firewall.Client, sample *models.ThroughputSample) {
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(subFetchLimit)

	tolerate := func(op string, fn func(ctx context.Context) error) {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				log.Debug().
					Str("device", device.Name).
					Str("op", op).
					Err(err).
					Msg("Sub-fetch failed, sample fields left empty")
			}
			return nil
		})
	}

	tolerate("session_info", func(ctx context.Context) error {
		info, err := client.SessionInfo(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		sample.SessionsActive = info.Active
		sample.SessionsTCP = info.TCP
		sample.SessionsUDP = info.UDP
		sample.SessionsICMP = info.ICMP
		sample.SessionsMax = info.Max
		mu.Unlock()
		return nil
	})

	tolerate("dataplane_cpu", func(ctx context.Context) error {
		cpu, err := client.DataPlaneCPU(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		sample.CPUDataPlane = cpu
		mu.Unlock()
		return nil
	})

	tolerate("system_resources", func(ctx context.Context) error {
		res, err := client.SystemResources(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		sample.CPUMgmtPlane = res.CPUPct
		sample.MemoryPct = res.MemoryPct
		mu.Unlock()
		return nil
	})

	tolerate("system_info", func(ctx context.Context) error {
		info, err := client.SystemInfo(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		sample.Hostname = info.Hostname
		sample.PanOSVersion = info.PanOSVersion
		sample.UptimeSec = info.UptimeSec
		mu.Unlock()
		return nil
	})

	tolerate("interface_counters_all", func(ctx context.Context) error {
		all, err := client.AllInterfaceCounters(ctx)
		if err != nil {
			return err
		}
		var errorsTotal, dropsTotal int64
		stats := make([]models.InterfaceStat, 0, len(all))
		for _, ic := range all {
			errorsTotal += ic.ErrorsIn + ic.ErrorsOut
			dropsTotal += ic.DropsIn + ic.DropsOut
			stats = append(stats, models.InterfaceStat{
				Name:     ic.Name,
				RxBytes:  ic.BytesIn,
				TxBytes:  ic.BytesOut,
				RxErrors: ic.ErrorsIn,
				TxErrors: ic.ErrorsOut,
				RxDrops:  ic.DropsIn,
				TxDrops:  ic.DropsOut,
			})
		}
		mu.Lock()
		sample.InterfaceErrors = errorsTotal
		sample.InterfaceDrops = dropsTotal
		sample.InterfaceStats = stats
		mu.Unlock()
		return nil
	})

	tolerate("license_info", func(ctx context.Context) error {
		lic, err := client.Licenses(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		sample.LicensesValid = lic.Valid
		sample.LicensesExpired = lic.Expired
		mu.Unlock()
		return nil
	})

	if device.WANIface != "" {
		tolerate("interface_detail", func(ctx context.Context) error {
			detail, err := client.InterfaceDetail(ctx, device.WANIface)
			if err != nil {
				return err
			}
			mu.Lock()
			sample.WANAddress = detail.Address
			sample.WANLinkSpeed = detail.Speed
			mu.Unlock()
			return nil
		})
	}

	tolerate("threat_summary", func(ctx context.Context) error {
		since := c.threatWatermark(device.ID, sample.Time)
		summary, err := client.ThreatSummary(ctx, since)
		if err != nil {
			return err
		}
		mu.Lock()
		sample.ThreatsCritical = summary.Critical
		sample.ThreatsHigh = summary.High
		sample.ThreatsMedium = summary.Medium
		sample.BlockedURLs = summary.BlockedURLs
		sample.LastCriticalSeen = summary.LastCritical
		sample.LastHighSeen = summary.LastHigh
		sample.LastMediumSeen = summary.LastMedium
		sample.LastURLBlockSeen = summary.LastURLBlock
		mu.Unlock()
		return nil
	})

	tolerate("application_stats", func(ctx context.Context) error {
		stats, err := client.ApplicationStats(ctx)
		if err != nil {
			return err
		}
		topApps, clients, categories := summarizeApps(stats)
		c.resolveTopClients(ctx, clients)
		mu.Lock()
		sample.TopApps = topApps
		sample.TopClientInternal = clients.internal
		sample.TopClientInternet = clients.internet
		sample.TopCategoryInternal = categories.internal
		sample.TopCategoryInternet = categories.internet
		mu.Unlock()
		return nil
	})

	g.Wait()
}

// threatWatermark returns the previous threat query time for a device and
// advances it to now. The first tick looks back one polling window's worth.
func (c *Collector) threatWatermark(deviceID string, now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	since, ok := c.threatSince[deviceID]
	c.threatSince[deviceID] = now
	if !ok {
		return now.Add(-5 * time.Minute)
	}
	return since
}

type topClients struct {
	internal *models.TopClient
	internet *models.TopClient
}

type topCategories struct {
	internal *models.TopCategory
	internet *models.TopCategory
}

// summarizeApps derives the sample's application extras: the top apps list,
// and the top client and category split by whether the application's traffic
// terminates inside RFC1918 space or on the public internet.
func summarizeApps(stats []firewall.AppStat) ([]models.TopApp, topClients, topCategories) {
	type bucket struct {
		clientBytes   map[string]int64
		categoryBytes map[string]int64
	}
	internal := bucket{clientBytes: map[string]int64{}, categoryBytes: map[string]int64{}}
	internet := bucket{clientBytes: map[string]int64{}, categoryBytes: map[string]int64{}}

	apps := make([]models.TopApp, 0, len(stats))
	for _, app := range stats {
		apps = append(apps, models.TopApp{
			Name:     app.Name,
			Bytes:    app.BytesTotal,
			Sessions: app.Sessions,
		})

		// An application whose destination bytes are mostly private is
		// internal traffic; everything else counts against the internet.
		var privateBytes, publicBytes int64
		for _, dst := range app.Destinations {
			if netutil.IsRFC1918(dst.IP) {
				privateBytes += dst.Bytes
			} else {
				publicBytes += dst.Bytes
			}
		}
		target := &internet
		if privateBytes > publicBytes {
			target = &internal
		}
		for _, src := range app.Sources {
			if netutil.IsRFC1918(src.IP) {
				target.clientBytes[src.IP] += src.Bytes
			}
		}
		if app.Category != "" {
			target.categoryBytes[app.Category] += app.BytesTotal
		}
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].Bytes > apps[j].Bytes })
	if len(apps) > topAppCount {
		apps = apps[:topAppCount]
	}

	clients := topClients{
		internal: topClientOf(internal.clientBytes),
		internet: topClientOf(internet.clientBytes),
	}
	categories := topCategories{
		internal: topCategoryOf(internal.categoryBytes),
		internet: topCategoryOf(internet.categoryBytes),
	}
	return apps, clients, categories
}

func topClientOf(bytes map[string]int64) *models.TopClient {
	var top *models.TopClient
	for ip, b := range bytes {
		if top == nil || b > top.Bytes || (b == top.Bytes && ip < top.IP) {
			top = &models.TopClient{IP: ip, Bytes: b}
		}
	}
	return top
}

func topCategoryOf(bytes map[string]int64) *models.TopCategory {
	var top *models.TopCategory
	for cat, b := range bytes {
		if top == nil || b > top.Bytes || (b == top.Bytes && cat < top.Category) {
			top = &models.TopCategory{Category: cat, Bytes: b}
		}
	}
	return top
}

func (c *Collector) resolveTopClients(ctx context.Context, clients topClients) {
	if c.resolver == nil {
		return
	}
	if clients.internal != nil {
		clients.internal.Hostname = c.resolver.Lookup(ctx, clients.internal.IP)
	}
	if clients.internet != nil {
		clients.internet.Hostname = c.resolver.Lookup(ctx, clients.internet.IP)
	}
}

// CollectConnectedDevices assembles one endpoint snapshot from the ARP
// table, DHCP leases, reverse DNS, vendor lookup, the MAC heuristic and the
// metadata store, then persists it.
func (c *Collector) CollectConnectedDevices(ctx context.Context, device models.Device, client firewall.Client) error {
	now := time.Now()

	arp, err := client.ARPTable(ctx)
	if err != nil {
		return fmt.Errorf("ARP fetch failed for %s: %w", device.Name, err)
	}

	// DHCP hostnames are best-effort decoration.
	leaseByMAC := make(map[string]firewall.DHCPLease)
	if leases, err := client.DHCPLeases(ctx); err != nil {
		log.Debug().Str("device", device.Name).Err(err).Msg("DHCP lease fetch failed, continuing without hostnames")
	} else {
		for _, lease := range leases {
			if mac := netutil.CanonicalMAC(lease.MAC); mac != "" {
				leaseByMAC[mac] = lease
			}
		}
	}

	var batch []*models.ConnectedDevice
	for _, entry := range arp {
		mac := netutil.CanonicalMAC(entry.MAC)
		if mac == "" || entry.IP == "" {
			continue
		}

		cd := &models.ConnectedDevice{
			DeviceID:  device.ID,
			MAC:       mac,
			Time:      now,
			IP:        entry.IP,
			VLAN:      entry.VLAN,
			Interface: entry.Interface,
			Zone:      entry.Zone,
			Vendor:    netutil.VendorForMAC(mac),
		}

		if lease, ok := leaseByMAC[mac]; ok && lease.Hostname != "" {
			cd.Hostname = lease.Hostname
		} else if c.resolver != nil {
			cd.Hostname = c.resolver.Lookup(ctx, entry.IP)
		}

		class := netutil.ClassifyMAC(mac)
		cd.Virtual = class.Virtual
		cd.Randomized = class.Randomized
		cd.MACReason = class.Reason

		if meta, ok := c.meta.Metadata(device.ID, mac); ok {
			cd.CustomName = meta.CustomName
			cd.Comment = meta.Comment
			cd.Location = meta.Location
			cd.Tags = append([]string(nil), meta.Tags...)
		}

		batch = append(batch, cd)
	}

	if err := c.store.InsertConnectedDevices(ctx, batch); err != nil {
		return fmt.Errorf("connected-device write failed for %s: %w", device.Name, err)
	}
	log.Debug().Str("device", device.Name).Int("endpoints", len(batch)).Msg("Connected devices collected")
	return nil
}

// CollectApplications pulls the application statistics report and persists
// one row per application.
func (c *Collector) CollectApplications(ctx context.Context, device models.Device, client firewall.Client) error {
	now := time.Now()

	stats, err := client.ApplicationStats(ctx)
	if err != nil {
		return fmt.Errorf("application stats fetch failed for %s: %w", device.Name, err)
	}

	batch := make([]*models.ApplicationSample, 0, len(stats))
	for _, app := range stats {
		batch = append(batch, &models.ApplicationSample{
			DeviceID:     device.ID,
			Application:  app.Name,
			Time:         now,
			Category:     app.Category,
			BytesTotal:   app.BytesTotal,
			BytesSent:    app.BytesSent,
			BytesRecv:    app.BytesRecv,
			Sessions:     app.Sessions,
			Sources:      toEndpoints(app.Sources),
			Destinations: toEndpoints(app.Destinations),
			Protocols:    app.Protocols,
			Ports:        app.Ports,
			VLANs:        app.VLANs,
			Zones:        app.Zones,
		})
	}

	if err := c.store.InsertApplications(ctx, batch); err != nil {
		return fmt.Errorf("application write failed for %s: %w", device.Name, err)
	}
	return nil
}

func toEndpoints(eps []firewall.Endpoint) []models.AppEndpoint {
	if len(eps) == 0 {
		return nil
	}
	out := make([]models.AppEndpoint, len(eps))
	for i, ep := range eps {
		out[i] = models.AppEndpoint{IP: ep.IP, Bytes: ep.Bytes}
	}
	return out
}

// CollectLogs pulls the four rolling log windows, deduplicating against the
// stored device-side sequence watermark where the category provides one.
func (c *Collector) CollectLogs(ctx context.Context, device models.Device, client firewall.Client) error {
	kinds := []models.LogKind{
		models.LogKindThreat, models.LogKindURL,
		models.LogKindSystem, models.LogKindTraffic,
	}

	var firstErr error
	for _, kind := range kinds {
		if err := c.collectLogKind(ctx, device, client, kind); err != nil {
			log.Warn().
				Str("device", device.Name).
				Str("kind", string(kind)).
				Err(err).
				Msg("Log collection failed for kind")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Collector) collectLogKind(ctx context.Context, device models.Device, client firewall.Client, kind models.LogKind) error {
	watermark, err := c.store.LatestLogSeq(ctx, device.ID, kind)
	if err != nil {
		return err
	}

	entries, err := client.Logs(ctx, kind, logPullLimit)
	if err != nil {
		return err
	}

	var fresh []*models.LogEntry
	for i := range entries {
		e := entries[i]
		if e.Seq != 0 && e.Seq <= watermark {
			continue
		}
		e.DeviceID = device.ID
		e.Kind = kind
		fresh = append(fresh, &e)
	}
	if len(fresh) == 0 {
		return nil
	}
	return c.store.InsertLogs(ctx, fresh)
}
