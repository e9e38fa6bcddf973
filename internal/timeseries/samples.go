package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/metrics"
	"github.com/parapetdev/parapet/internal/models"
)

// sampleExtras holds the structured blobs persisted alongside the scalar
// columns of a throughput sample.
type sampleExtras struct {
	TopApps             []models.TopApp        `json:"topApps,omitempty"`
	InterfaceStats      []models.InterfaceStat `json:"interfaceStats,omitempty"`
	TopClientInternal   *models.TopClient      `json:"topClientInternal,omitempty"`
	TopClientInternet   *models.TopClient      `json:"topClientInternet,omitempty"`
	TopCategoryInternal *models.TopCategory    `json:"topCategoryInternal,omitempty"`
	TopCategoryInternet *models.TopCategory    `json:"topCategoryInternet,omitempty"`
}

func (e sampleExtras) empty() bool {
	return len(e.TopApps) == 0 && len(e.InterfaceStats) == 0 &&
		e.TopClientInternal == nil && e.TopClientInternet == nil &&
		e.TopCategoryInternal == nil && e.TopCategoryInternet == nil
}

// InsertSample writes one throughput sample. A duplicate (device_id, time)
// pair is silently ignored so a retried collection tick cannot double-insert.
func (s *Store) InsertSample(ctx context.Context, sample *models.ThroughputSample) error {
	extras := sampleExtras{
		TopApps:             sample.TopApps,
		InterfaceStats:      sample.InterfaceStats,
		TopClientInternal:   sample.TopClientInternal,
		TopClientInternet:   sample.TopClientInternet,
		TopCategoryInternal: sample.TopCategoryInternal,
		TopCategoryInternet: sample.TopCategoryInternet,
	}
	var extrasJSON []byte
	if !extras.empty() {
		var err error
		extrasJSON, err = json.Marshal(extras)
		if err != nil {
			return fmt.Errorf("failed to encode sample extras: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO throughput_samples (
			time, device_id,
			bytes_in, bytes_out, packets_in, packets_out,
			inbound_mbps, outbound_mbps, total_mbps,
			inbound_pps, outbound_pps, total_pps,
			sessions_active, sessions_tcp, sessions_udp, sessions_icmp, sessions_max,
			cpu_data_plane, cpu_mgmt_plane, memory_pct, uptime_sec,
			threats_critical, threats_high, threats_medium, blocked_urls,
			last_critical_seen, last_high_seen, last_medium_seen, last_url_block_seen,
			interface_errors, interface_drops,
			licenses_valid, licenses_expired,
			wan_address, wan_link_speed, hostname, panos_version, extras
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38
		)
		ON CONFLICT (device_id, time) DO NOTHING`,
		sample.Time, sample.DeviceID,
		sample.BytesIn, sample.BytesOut, sample.PacketsIn, sample.PacketsOut,
		sample.InboundMbps, sample.OutboundMbps, sample.TotalMbps,
		sample.InboundPPS, sample.OutboundPPS, sample.TotalPPS,
		sample.SessionsActive, sample.SessionsTCP, sample.SessionsUDP, sample.SessionsICMP, sample.SessionsMax,
		sample.CPUDataPlane, sample.CPUMgmtPlane, sample.MemoryPct, sample.UptimeSec,
		sample.ThreatsCritical, sample.ThreatsHigh, sample.ThreatsMedium, sample.BlockedURLs,
		sample.LastCriticalSeen, sample.LastHighSeen, sample.LastMediumSeen, sample.LastURLBlockSeen,
		sample.InterfaceErrors, sample.InterfaceDrops,
		sample.LicensesValid, sample.LicensesExpired,
		nullString(sample.WANAddress), nullString(sample.WANLinkSpeed),
		nullString(sample.Hostname), nullString(sample.PanOSVersion),
		extrasJSON)
	if err != nil {
		if isDuplicateKey(err) {
			metrics.SampleInserts.WithLabelValues("duplicate").Inc()
			return nil
		}
		metrics.SampleInserts.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to insert sample for %s: %w", sample.DeviceID, err)
	}
	metrics.SampleInserts.WithLabelValues("ok").Inc()
	return nil
}

// LatestSample returns the newest stored sample for a device, or nil when
// nothing has been recorded within maxAge.
func (s *Store) LatestSample(ctx context.Context, deviceID string, maxAge time.Duration) (*models.ThroughputSample, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT time, device_id,
			bytes_in, bytes_out, packets_in, packets_out,
			inbound_mbps, outbound_mbps, total_mbps,
			inbound_pps, outbound_pps, total_pps,
			sessions_active, sessions_tcp, sessions_udp, sessions_icmp, sessions_max,
			cpu_data_plane, cpu_mgmt_plane, memory_pct, uptime_sec,
			threats_critical, threats_high, threats_medium, blocked_urls,
			last_critical_seen, last_high_seen, last_medium_seen, last_url_block_seen,
			interface_errors, interface_drops,
			licenses_valid, licenses_expired,
			COALESCE(wan_address, ''), COALESCE(wan_link_speed, ''),
			COALESCE(hostname, ''), COALESCE(panos_version, ''), extras
		FROM throughput_samples
		WHERE device_id = $1 AND time > now() - $2::interval
		ORDER BY time DESC
		LIMIT 1`,
		deviceID, pgInterval(maxAge))

	sample := &models.ThroughputSample{}
	var extrasJSON []byte
	err := row.Scan(
		&sample.Time, &sample.DeviceID,
		&sample.BytesIn, &sample.BytesOut, &sample.PacketsIn, &sample.PacketsOut,
		&sample.InboundMbps, &sample.OutboundMbps, &sample.TotalMbps,
		&sample.InboundPPS, &sample.OutboundPPS, &sample.TotalPPS,
		&sample.SessionsActive, &sample.SessionsTCP, &sample.SessionsUDP, &sample.SessionsICMP, &sample.SessionsMax,
		&sample.CPUDataPlane, &sample.CPUMgmtPlane, &sample.MemoryPct, &sample.UptimeSec,
		&sample.ThreatsCritical, &sample.ThreatsHigh, &sample.ThreatsMedium, &sample.BlockedURLs,
		&sample.LastCriticalSeen, &sample.LastHighSeen, &sample.LastMediumSeen, &sample.LastURLBlockSeen,
		&sample.InterfaceErrors, &sample.InterfaceDrops,
		&sample.LicensesValid, &sample.LicensesExpired,
		&sample.WANAddress, &sample.WANLinkSpeed,
		&sample.Hostname, &sample.PanOSVersion, &extrasJSON)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest sample for %s: %w", deviceID, err)
	}

	if len(extrasJSON) > 0 {
		var extras sampleExtras
		if err := json.Unmarshal(extrasJSON, &extras); err != nil {
			log.Warn().Str("device", deviceID).Err(err).Msg("Discarding unreadable sample extras")
		} else {
			sample.TopApps = extras.TopApps
			sample.InterfaceStats = extras.InterfaceStats
			sample.TopClientInternal = extras.TopClientInternal
			sample.TopClientInternet = extras.TopClientInternet
			sample.TopCategoryInternal = extras.TopCategoryInternal
			sample.TopCategoryInternet = extras.TopCategoryInternet
		}
	}
	return sample, nil
}

// RangePoint is one row of a throughput time range, raw or aggregated.
type RangePoint struct {
	Time            time.Time `json:"time"`
	InboundMbps     float64   `json:"inboundMbps"`
	OutboundMbps    float64   `json:"outboundMbps"`
	TotalMbps       float64   `json:"totalMbps"`
	InboundPPS      float64   `json:"inboundPps"`
	OutboundPPS     float64   `json:"outboundPps"`
	TotalPPS        float64   `json:"totalPps"`
	SessionsActive  float64   `json:"sessionsActive"`
	SessionsTCP     float64   `json:"sessionsTcp"`
	SessionsUDP     float64   `json:"sessionsUdp"`
	SessionsICMP    float64   `json:"sessionsIcmp"`
	CPUDataPlane    float64   `json:"cpuDataPlane"`
	CPUMgmtPlane    float64   `json:"cpuMgmtPlane"`
	MemoryPct       float64   `json:"memoryPct"`
	ThreatsCritical float64   `json:"threatsCritical"`
	ThreatsHigh     float64   `json:"threatsHigh"`
	ThreatsMedium   float64   `json:"threatsMedium"`
	BlockedURLs     float64   `json:"blockedUrls"`
	InterfaceErrors float64   `json:"interfaceErrors"`
	InterfaceDrops  float64   `json:"interfaceDrops"`
}

// Range resolutions accepted by RangeSamplesAt.
const (
	ResolutionAuto   = "auto"
	ResolutionRaw    = "raw"
	ResolutionHourly = "hourly"
	ResolutionDaily  = "daily"
)

// RangeSamples returns throughput points for a device between from and to,
// reading the tier appropriate for the span: raw samples up to 7 days back,
// the hourly rollup up to 30, the daily rollup beyond.
func (s *Store) RangeSamples(ctx context.Context, deviceID string, from, to time.Time) ([]RangePoint, error) {
	age := time.Since(from)
	switch {
	case age <= 7*24*time.Hour:
		return s.rangeRaw(ctx, deviceID, from, to)
	case age <= 30*24*time.Hour:
		return s.rangeAggregate(ctx, "throughput_hourly", deviceID, from, to)
	default:
		return s.rangeAggregate(ctx, "throughput_daily", deviceID, from, to)
	}
}

// RangeSamplesAt is RangeSamples with a caller-chosen resolution. Raw reads
// beyond the raw retention window return whatever rows survive.
func (s *Store) RangeSamplesAt(ctx context.Context, deviceID string, from, to time.Time, resolution string) ([]RangePoint, error) {
	switch resolution {
	case "", ResolutionAuto:
		return s.RangeSamples(ctx, deviceID, from, to)
	case ResolutionRaw:
		return s.rangeRaw(ctx, deviceID, from, to)
	case ResolutionHourly:
		return s.rangeAggregate(ctx, "throughput_hourly", deviceID, from, to)
	case ResolutionDaily:
		return s.rangeAggregate(ctx, "throughput_daily", deviceID, from, to)
	default:
		return nil, fmt.Errorf("unknown range resolution %q", resolution)
	}
}

func (s *Store) rangeRaw(ctx context.Context, deviceID string, from, to time.Time) ([]RangePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT time,
			inbound_mbps, outbound_mbps, total_mbps,
			inbound_pps, outbound_pps, total_pps,
			sessions_active::float8, sessions_tcp::float8, sessions_udp::float8, sessions_icmp::float8,
			cpu_data_plane, cpu_mgmt_plane, memory_pct,
			threats_critical::float8, threats_high::float8, threats_medium::float8, blocked_urls::float8,
			interface_errors::float8, interface_drops::float8
		FROM throughput_samples
		WHERE device_id = $1 AND time >= $2 AND time <= $3
		ORDER BY time ASC`,
		deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw samples for %s: %w", deviceID, err)
	}
	defer rows.Close()
	return scanRangePoints(rows)
}

func (s *Store) rangeAggregate(ctx context.Context, view, deviceID string, from, to time.Time) ([]RangePoint, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT bucket,
			inbound_mbps, outbound_mbps, total_mbps,
			inbound_pps, outbound_pps, total_pps,
			sessions_active, sessions_tcp, sessions_udp, sessions_icmp,
			cpu_data_plane, cpu_mgmt_plane, memory_pct,
			threats_critical, threats_high, threats_medium, blocked_urls,
			interface_errors, interface_drops
		FROM %s
		WHERE device_id = $1 AND bucket >= $2 AND bucket <= $3
		ORDER BY bucket ASC`, view),
		deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s for %s: %w", view, deviceID, err)
	}
	defer rows.Close()
	return scanRangePoints(rows)
}

func scanRangePoints(rows scannableRows) ([]RangePoint, error) {
	var out []RangePoint
	for rows.Next() {
		var p RangePoint
		if err := rows.Scan(
			&p.Time,
			&p.InboundMbps, &p.OutboundMbps, &p.TotalMbps,
			&p.InboundPPS, &p.OutboundPPS, &p.TotalPPS,
			&p.SessionsActive, &p.SessionsTCP, &p.SessionsUDP, &p.SessionsICMP,
			&p.CPUDataPlane, &p.CPUMgmtPlane, &p.MemoryPct,
			&p.ThreatsCritical, &p.ThreatsHigh, &p.ThreatsMedium, &p.BlockedURLs,
			&p.InterfaceErrors, &p.InterfaceDrops); err != nil {
			return nil, fmt.Errorf("failed to scan range point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
