package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/metrics"
	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/notify"
)

// bandwidthWindow is the trailing window behind the synthetic app_<name> and
// per_ip_bandwidth_5min metrics.
const bandwidthWindow = 5 * time.Minute

// appMetricPrefix marks the synthetic per-application metric.
const appMetricPrefix = "app_"

// PerIPBandwidthMetric is the synthetic metric counting endpoints whose
// windowed traffic exceeds the threshold (MB).
const PerIPBandwidthMetric = "per_ip_bandwidth_5min"

const megabyte = 1_000_000

// MetricStore is the persistence surface the engine consumes: synthetic
// metric sources, history, and the cooldown table.
type MetricStore interface {
	AppBytesInWindow(ctx context.Context, deviceID, application string, window time.Duration) (int64, error)
	PerIPBandwidthInWindow(ctx context.Context, deviceID string, window time.Duration) ([]models.IPBandwidth, error)
	InsertAlertEvent(ctx context.Context, e *models.AlertEvent) error
	Cooldown(ctx context.Context, deviceID, configID string) (*models.AlertCooldown, error)
	UpsertCooldown(ctx context.Context, c *models.AlertCooldown) error
	ExpiredCooldownGC(ctx context.Context) (int64, error)
}

// Notifier delivers a recorded alert to its channels.
type Notifier interface {
	Send(ctx context.Context, event *models.AlertEvent, channelIDs []string) []notify.Result
}

// SnapshotSource serves the freshest complete sample per device.
type SnapshotSource interface {
	Get(deviceID string, maxAge time.Duration) *models.ThroughputSample
}

// Trigger is one rule firing: the config, the observed value, and for the
// per-IP metric the offending endpoint list.
type Trigger struct {
	Config models.AlertConfig
	Value  float64
	PerIP  []models.IPBandwidth
}

// Engine runs threshold evaluation for the fleet.
type Engine struct {
	rules    *Rules
	store    MetricStore
	notifier Notifier

	// ResolveHostname decorates per-IP trigger messages; nil disables it.
	ResolveHostname func(ctx context.Context, ip string) string
}

// NewEngine assembles an engine. notifier may be nil for evaluation-only use.
func NewEngine(rules *Rules, store MetricStore, notifier Notifier) *Engine {
	return &Engine{rules: rules, store: store, notifier: notifier}
}

// EvaluateDevice resolves and compares every enabled config for one device
// against the metric map, honoring maintenance windows and cooldowns. It
// emits triggers only; recording and dispatch happen in ProcessTriggers.
func (e *Engine) EvaluateDevice(ctx context.Context, deviceID string, latest map[string]float64, now time.Time) ([]Trigger, error) {
	if InMaintenance(e.rules.Windows(), deviceID, now) {
		log.Debug().Str("device", deviceID).Msg("Device in maintenance window, skipping evaluation")
		return nil, nil
	}

	var triggers []Trigger
	for _, cfg := range e.rules.ConfigsForDevice(deviceID) {
		value, perIP, ok, err := e.resolveMetric(ctx, deviceID, cfg, latest)
		if err != nil {
			log.Warn().
				Str("device", deviceID).
				Str("metric", cfg.MetricType).
				Err(err).
				Msg("Metric resolution failed, skipping config")
			continue
		}
		if !ok || !Evaluate(value, cfg.Threshold, cfg.Operator) {
			continue
		}

		cooldown, err := e.store.Cooldown(ctx, deviceID, cfg.ID)
		if err != nil {
			return nil, fmt.Errorf("cooldown lookup failed: %w", err)
		}
		if cooldown != nil && now.Before(cooldown.Until) {
			continue
		}

		triggers = append(triggers, Trigger{Config: cfg, Value: value, PerIP: perIP})
	}
	return triggers, nil
}

// resolveMetric produces the actual value for one config. ok is false when a
// scalar metric is absent from the map.
func (e *Engine) resolveMetric(ctx context.Context, deviceID string, cfg models.AlertConfig, latest map[string]float64) (float64, []models.IPBandwidth, bool, error) {
	switch {
	case strings.HasPrefix(cfg.MetricType, appMetricPrefix):
		app := strings.TrimPrefix(cfg.MetricType, appMetricPrefix)
		bytes, err := e.store.AppBytesInWindow(ctx, deviceID, app, bandwidthWindow)
		if err != nil {
			return 0, nil, false, err
		}
		return float64(bytes) / megabyte, nil, true, nil

	case cfg.MetricType == PerIPBandwidthMetric:
		rows, err := e.store.PerIPBandwidthInWindow(ctx, deviceID, bandwidthWindow)
		if err != nil {
			return 0, nil, false, err
		}
		thresholdBytes := cfg.Threshold * megabyte
		var offenders []models.IPBandwidth
		for _, row := range rows {
			if float64(row.TotalBytes) > thresholdBytes {
				offenders = append(offenders, row)
			}
		}
		return float64(len(offenders)), offenders, true, nil

	default:
		value, present := latest[cfg.MetricType]
		return value, nil, present, nil
	}
}

// ProcessTriggers records history, sets cooldowns, and dispatches each
// trigger. Delivery failures never roll back the history insert.
func (e *Engine) ProcessTriggers(ctx context.Context, device models.Device, triggers []Trigger, now time.Time) error {
	var firstErr error
	for _, trig := range triggers {
		if trig.Config.MetricType == PerIPBandwidthMetric {
			e.resolvePerIPHostnames(ctx, trig.PerIP)
		}

		event := &models.AlertEvent{
			ConfigID:   trig.Config.ID,
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Metric:     trig.Config.MetricType,
			Threshold:  trig.Config.Threshold,
			Value:      trig.Value,
			Operator:   trig.Config.Operator,
			Severity:   trig.Config.Severity,
			Message:    FormatMessage(device.Name, trig),
			Time:       now,
		}
		if err := e.store.InsertAlertEvent(ctx, event); err != nil {
			log.Error().Str("device", device.Name).Err(err).Msg("Alert history insert failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.AlertTriggers.WithLabelValues(string(event.Severity)).Inc()

		cooldown := time.Duration(trig.Config.CooldownSeconds) * time.Second
		if cooldown <= 0 {
			cooldown = DefaultCooldown
		}
		if err := e.store.UpsertCooldown(ctx, &models.AlertCooldown{
			DeviceID:      device.ID,
			ConfigID:      trig.Config.ID,
			LastTriggered: now,
			Until:         now.Add(cooldown),
		}); err != nil {
			log.Error().Str("device", device.Name).Err(err).Msg("Cooldown upsert failed")
			if firstErr == nil {
				firstErr = err
			}
		}

		log.Info().
			Str("device", device.Name).
			Str("metric", event.Metric).
			Str("severity", string(event.Severity)).
			Float64("value", event.Value).
			Msg("Alert triggered")

		if e.notifier != nil && len(trig.Config.ChannelIDs) > 0 {
			e.notifier.Send(ctx, event, trig.Config.ChannelIDs)
		}
	}
	return firstErr
}

func (e *Engine) resolvePerIPHostnames(ctx context.Context, rows []models.IPBandwidth) {
	if e.ResolveHostname == nil {
		return
	}
	for i := range rows {
		if rows[i].Hostname == "" {
			rows[i].Hostname = e.ResolveHostname(ctx, rows[i].IP)
		}
	}
}

// EvaluateTick is the scheduler handler body: one evaluation pass over the
// fleet against the latest snapshot cache.
func (e *Engine) EvaluateTick(ctx context.Context, devices []models.Device, snapshots SnapshotSource, maxAge time.Duration) error {
	now := time.Now()
	var firstErr error
	for _, device := range devices {
		sample := snapshots.Get(device.ID, maxAge)
		if sample == nil {
			continue
		}
		triggers, err := e.EvaluateDevice(ctx, device.ID, sample.MetricMap(), now)
		if err != nil {
			log.Error().Str("device", device.Name).Err(err).Msg("Alert evaluation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.ProcessTriggers(ctx, device, triggers, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CooldownGC deletes expired cooldown rows; the scheduler runs it
// periodically.
func (e *Engine) CooldownGC(ctx context.Context) error {
	removed, err := e.store.ExpiredCooldownGC(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Debug().Int64("removed", removed).Msg("Expired alert cooldowns removed")
	}
	return nil
}
