package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/alerting"
	"github.com/parapetdev/parapet/internal/config"
	"github.com/parapetdev/parapet/internal/firewall"
	"github.com/parapetdev/parapet/internal/logging"
	"github.com/parapetdev/parapet/internal/metrics"
	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/netutil"
	"github.com/parapetdev/parapet/internal/notify"
	"github.com/parapetdev/parapet/internal/poller"
	"github.com/parapetdev/parapet/internal/readapi"
	"github.com/parapetdev/parapet/internal/registry"
	"github.com/parapetdev/parapet/internal/scan"
	"github.com/parapetdev/parapet/internal/scheduler"
	"github.com/parapetdev/parapet/internal/timeseries"
)

const (
	alertEvaluateInterval = 30 * time.Second
	cooldownGCInterval    = 15 * time.Minute
	retentionInterval     = time.Hour
	selfReportInterval    = 30 * time.Second
	snapshotMaxAge        = 30 * time.Second

	stopDeadline      = 30 * time.Second
	scanDrainDeadline = 30 * time.Second

	resolvedAlertRetention = 30 * 24 * time.Hour
)

// daemon owns the assembled subsystems and the per-device job set.
type daemon struct {
	cfg         *config.Config
	store       *timeseries.Store
	reg         *registry.Registry
	collector   *poller.Collector
	rules       *alerting.Rules
	engine      *alerting.Engine
	dispatcher  *notify.Dispatcher
	scanManager *scan.Manager
	schedules   *scan.Schedules
	sched       *scheduler.Scheduler

	mu      sync.Mutex
	clients map[string]firewall.Client
}

func runDaemon() {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "parapet"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("PARAPET_DB_URL is not set")
	}

	logging.Init(logging.Config{
		Format:     "auto",
		Level:      cfg.LogLevel,
		Component:  "parapet",
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSize,
		MaxAgeDays: cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
	})
	log.Info().Str("version", Version).Msg("Starting parapet collector")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := timeseries.New(ctx, cfg.DatabaseURL, len(cfg.Devices))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to the time-series store")
	}
	defer store.Close()
	if err := store.InstallSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Schema installation failed")
	}

	persistence := config.NewPersistence(cfg.DataPath)
	snap, err := persistence.LoadSnapshot()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration snapshot")
	}

	d := assemble(cfg, store, persistence, snap)
	d.applySnapshot(snap)

	if err := d.registerCoreJobs(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register core jobs")
	}
	if err := d.sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	if err := d.scanManager.RecoverPending(ctx); err != nil {
		log.Warn().Err(err).Msg("Scan queue recovery failed")
	}

	api := readapi.New(store, d.collector.Cache(), d.rules, d.schedules, d.sched)
	startOpsServer(ctx, cfg.OpsListenAddr, api)

	watcher, err := config.NewWatcher(persistence)
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable, reload via SIGHUP only")
	} else {
		defer watcher.Close()
	}

	d.waitForShutdown(ctx, cancel, persistence, watcher)
}

func assemble(cfg *config.Config, store *timeseries.Store, persistence *config.Persistence, snap *config.Snapshot) *daemon {
	resolver := netutil.NewReverseResolver(cfg.Nameservers, cfg.DNSTimeout)
	reg := registry.New(persistence, snap)
	collector := poller.New(store, reg, resolver)

	dispatcher := notify.NewDispatcher()
	rules := alerting.NewRules(persistence)
	engine := alerting.NewEngine(rules, store, dispatcher)
	engine.ResolveHostname = func(ctx context.Context, ip string) string {
		return resolver.Lookup(ctx, ip)
	}

	sched := scheduler.New(cfg.Location())
	scanManager := scan.NewManager(store, scan.NewRunner(cfg.NmapPath), reg, cfg.ScansPerDevice)
	schedules := scan.NewSchedules(scanManager, sched, persistence)

	return &daemon{
		cfg:         cfg,
		store:       store,
		reg:         reg,
		collector:   collector,
		rules:       rules,
		engine:      engine,
		dispatcher:  dispatcher,
		scanManager: scanManager,
		schedules:   schedules,
		sched:       sched,
		clients:     make(map[string]firewall.Client),
	}
}

// applySnapshot pushes a fresh config snapshot into every subsystem and
// reconciles the per-device job set.
func (d *daemon) applySnapshot(snap *config.Snapshot) {
	d.reg.Apply(snap)
	d.rules.Apply(snap.AlertConfigs, snap.MaintenanceWindows)
	d.dispatcher.SetChannels(snap.Channels)
	d.schedules.Apply(snap.ScheduledScans)
	d.reconcileDevices()
}

// reconcileDevices aligns clients and polling jobs with the enabled device
// set.
func (d *daemon) reconcileDevices() {
	enabled := d.reg.EnabledDevices()
	want := make(map[string]models.Device, len(enabled))
	for _, dev := range enabled {
		want[dev.ID] = dev
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for id := range d.clients {
		if _, still := want[id]; !still {
			d.dropDeviceLocked(id)
		}
	}
	for id, dev := range want {
		if _, have := d.clients[id]; have {
			continue
		}
		if err := d.addDeviceLocked(dev); err != nil {
			log.Error().Str("device", dev.Name).Err(err).Msg("Device setup failed")
		}
	}

	metrics.DevicesMonitored.Set(float64(len(d.clients)))
}

func (d *daemon) addDeviceLocked(dev models.Device) error {
	client, err := firewall.NewXMLClient(firewall.XMLClientConfig{
		Address:     dev.Address,
		APIKey:      dev.AuthToken,
		VerifyTLS:   dev.VerifyTLS,
		Fingerprint: dev.Fingerprint,
		Timeout:     d.cfg.ConnectionTimeout,
	})
	if err != nil {
		return err
	}
	name := dev.Name
	instrumented := firewall.Instrument(client, func(op string, elapsed time.Duration, err error) {
		metrics.DeviceCallDuration.WithLabelValues(name, op).Observe(elapsed.Seconds())
		if err != nil {
			metrics.DeviceCallErrors.WithLabelValues(name, op).Inc()
		}
	})
	d.clients[dev.ID] = instrumented

	device := dev
	jobs := []struct {
		id      string
		every   time.Duration
		handler scheduler.Handler
	}{
		{"throughput.collect." + dev.ID, d.cfg.ThroughputInterval, func(ctx context.Context) error {
			return d.collector.CollectThroughput(ctx, device, instrumented)
		}},
		{"connected_devices.collect." + dev.ID, d.cfg.InventoryInterval, func(ctx context.Context) error {
			return d.collector.CollectConnectedDevices(ctx, device, instrumented)
		}},
		{"applications.collect." + dev.ID, d.cfg.InventoryInterval, func(ctx context.Context) error {
			return d.collector.CollectApplications(ctx, device, instrumented)
		}},
		{"logs.collect." + dev.ID, d.cfg.InventoryInterval, func(ctx context.Context) error {
			return d.collector.CollectLogs(ctx, device, instrumented)
		}},
	}
	for _, j := range jobs {
		err := d.sched.Register(j.id, scheduler.Every(j.every), j.handler,
			scheduler.Options{Coalesce: true, SingleInstance: true})
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", j.id, err)
		}
	}
	log.Info().Str("device", dev.Name).Str("address", dev.Address).Msg("Device under monitoring")
	return nil
}

func (d *daemon) dropDeviceLocked(id string) {
	for _, prefix := range []string{"throughput.collect.", "connected_devices.collect.", "applications.collect.", "logs.collect."} {
		d.sched.Unregister(prefix + id)
	}
	delete(d.clients, id)
	d.collector.Tracker().Forget(id)
	d.collector.Cache().Drop(id)
	log.Info().Str("device", id).Msg("Device removed from monitoring")
}

// registerCoreJobs adds the device-independent jobs.
func (d *daemon) registerCoreJobs() error {
	core := []struct {
		id      string
		every   time.Duration
		opts    scheduler.Options
		handler scheduler.Handler
	}{
		{"alerts.evaluate", alertEvaluateInterval,
			scheduler.Options{Coalesce: true, SingleInstance: true},
			func(ctx context.Context) error {
				return d.engine.EvaluateTick(ctx, d.reg.EnabledDevices(), d.collector.Cache(), snapshotMaxAge)
			}},
		{"alerts.cooldown_gc", cooldownGCInterval,
			scheduler.Options{Coalesce: true},
			d.engine.CooldownGC},
		{"retention.cleanup", retentionInterval,
			scheduler.Options{Coalesce: true, SingleInstance: true},
			d.retentionSweep},
		{"scheduler.self_report", selfReportInterval,
			scheduler.Options{Coalesce: true},
			func(ctx context.Context) error {
				return d.store.InsertSchedulerStats(ctx, d.sched.Stats())
			}},
	}
	for _, j := range core {
		if err := d.sched.Register(j.id, scheduler.Every(j.every), j.handler, j.opts); err != nil {
			return err
		}
	}
	return nil
}

// retentionSweep runs the guarded cleanup the database policies do not
// cover: log window caps, resolved alert history, old scan queue rows.
func (d *daemon) retentionSweep(ctx context.Context) error {
	var firstErr error
	if err := d.store.TrimLogWindows(ctx); err != nil {
		firstErr = err
	}
	if _, err := d.store.PruneResolvedAlerts(ctx, resolvedAlertRetention); err != nil && firstErr == nil {
		firstErr = err
	}
	keep := time.Duration(d.cfg.ScanResultRetention) * 24 * time.Hour
	if _, err := d.store.PruneScanQueue(ctx, keep); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// waitForShutdown blocks on signals and config changes until terminated.
func (d *daemon) waitForShutdown(ctx context.Context, cancel context.CancelFunc, persistence *config.Persistence, watcher *config.Watcher) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var changes <-chan *config.Snapshot
	if watcher != nil {
		changes = watcher.Subscribe()
	}

	for {
		select {
		case snap := <-changes:
			log.Info().Msg("Configuration changed, applying")
			d.applySnapshot(snap)

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Info().Msg("SIGHUP received, reloading configuration")
				snap, err := persistence.LoadSnapshot()
				if err != nil {
					log.Error().Err(err).Msg("Configuration reload failed")
					continue
				}
				d.applySnapshot(snap)
				continue
			}

			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			d.sched.Stop(true, stopDeadline)
			d.scanManager.Wait(scanDrainDeadline)
			cancel()
			log.Info().Msg("Shutdown complete")
			return

		case <-ctx.Done():
			d.sched.Stop(true, stopDeadline)
			return
		}
	}
}
