package timeseries

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// tableDDL declares every relation the collector owns. Order matters only
// for readability; each statement tolerates re-runs.
var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS throughput_samples (
		time              TIMESTAMPTZ NOT NULL,
		device_id         TEXT NOT NULL,
		bytes_in          BIGINT NOT NULL DEFAULT 0,
		bytes_out         BIGINT NOT NULL DEFAULT 0,
		packets_in        BIGINT NOT NULL DEFAULT 0,
		packets_out       BIGINT NOT NULL DEFAULT 0,
		inbound_mbps      DOUBLE PRECISION NOT NULL DEFAULT 0,
		outbound_mbps     DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_mbps        DOUBLE PRECISION NOT NULL DEFAULT 0,
		inbound_pps       DOUBLE PRECISION NOT NULL DEFAULT 0,
		outbound_pps      DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_pps         DOUBLE PRECISION NOT NULL DEFAULT 0,
		sessions_active   BIGINT NOT NULL DEFAULT 0,
		sessions_tcp      BIGINT NOT NULL DEFAULT 0,
		sessions_udp      BIGINT NOT NULL DEFAULT 0,
		sessions_icmp     BIGINT NOT NULL DEFAULT 0,
		sessions_max      BIGINT NOT NULL DEFAULT 0,
		cpu_data_plane    DOUBLE PRECISION NOT NULL DEFAULT 0,
		cpu_mgmt_plane    DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory_pct        DOUBLE PRECISION NOT NULL DEFAULT 0,
		uptime_sec        BIGINT NOT NULL DEFAULT 0,
		threats_critical  BIGINT NOT NULL DEFAULT 0,
		threats_high      BIGINT NOT NULL DEFAULT 0,
		threats_medium    BIGINT NOT NULL DEFAULT 0,
		blocked_urls      BIGINT NOT NULL DEFAULT 0,
		last_critical_seen  TIMESTAMPTZ,
		last_high_seen      TIMESTAMPTZ,
		last_medium_seen    TIMESTAMPTZ,
		last_url_block_seen TIMESTAMPTZ,
		interface_errors  BIGINT NOT NULL DEFAULT 0,
		interface_drops   BIGINT NOT NULL DEFAULT 0,
		licenses_valid    INT NOT NULL DEFAULT 0,
		licenses_expired  INT NOT NULL DEFAULT 0,
		wan_address       TEXT,
		wan_link_speed    TEXT,
		hostname          TEXT,
		panos_version     TEXT,
		extras            JSONB,
		CONSTRAINT throughput_samples_device_time UNIQUE (device_id, time)
	)`,
	`CREATE TABLE IF NOT EXISTS connected_devices (
		time        TIMESTAMPTZ NOT NULL,
		device_id   TEXT NOT NULL,
		mac         TEXT NOT NULL,
		ip          TEXT NOT NULL,
		hostname    TEXT,
		vlan        TEXT,
		interface   TEXT,
		zone        TEXT,
		vendor      TEXT,
		is_virtual  BOOLEAN NOT NULL DEFAULT FALSE,
		is_randomized BOOLEAN NOT NULL DEFAULT FALSE,
		mac_reason  TEXT,
		custom_name TEXT,
		comment     TEXT,
		location    TEXT,
		tags        TEXT[]
	)`,
	`CREATE TABLE IF NOT EXISTS firewall_logs (
		time        TIMESTAMPTZ NOT NULL,
		device_id   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		seq         BIGINT,
		severity    TEXT,
		source_ip   TEXT,
		dest_ip     TEXT,
		source_port INT,
		dest_port   INT,
		application TEXT,
		rule        TEXT,
		action      TEXT,
		threat_name TEXT,
		threat_id   TEXT,
		url         TEXT,
		category    TEXT,
		bytes       BIGINT,
		bytes_sent  BIGINT,
		bytes_recv  BIGINT,
		packets     BIGINT,
		event_id    TEXT,
		object      TEXT,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS application_samples (
		time         TIMESTAMPTZ NOT NULL,
		device_id    TEXT NOT NULL,
		application  TEXT NOT NULL,
		category     TEXT,
		bytes_total  BIGINT NOT NULL DEFAULT 0,
		bytes_sent   BIGINT NOT NULL DEFAULT 0,
		bytes_recv   BIGINT NOT NULL DEFAULT 0,
		sessions     BIGINT NOT NULL DEFAULT 0,
		sources      JSONB,
		destinations JSONB,
		protocols    TEXT[],
		ports        INT[],
		vlans        TEXT[],
		zones        TEXT[]
	)`,
	`CREATE TABLE IF NOT EXISTS alert_history (
		time            TIMESTAMPTZ NOT NULL,
		id              TEXT NOT NULL,
		config_id       TEXT NOT NULL,
		device_id       TEXT NOT NULL,
		device_name     TEXT,
		metric          TEXT NOT NULL,
		threshold       DOUBLE PRECISION NOT NULL,
		value           DOUBLE PRECISION NOT NULL,
		operator        TEXT,
		severity        TEXT NOT NULL,
		message         TEXT NOT NULL,
		ack_by          TEXT,
		ack_time        TIMESTAMPTZ,
		resolved_reason TEXT,
		resolved_time   TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS alert_cooldowns (
		device_id      TEXT NOT NULL,
		config_id      TEXT NOT NULL,
		last_triggered TIMESTAMPTZ NOT NULL,
		cooldown_until TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (device_id, config_id)
	)`,
	`CREATE TABLE IF NOT EXISTS scan_results (
		time          TIMESTAMPTZ NOT NULL,
		id            TEXT NOT NULL,
		device_id     TEXT NOT NULL,
		target_ip     TEXT NOT NULL,
		profile       TEXT NOT NULL,
		duration_sec  DOUBLE PRECISION NOT NULL DEFAULT 0,
		host_status   TEXT,
		os_name       TEXT,
		os_confidence INT,
		os_matches    JSONB,
		ports         JSONB,
		detail        JSONB,
		raw_output    TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS scan_changes (
		time        TIMESTAMPTZ NOT NULL,
		id          TEXT NOT NULL,
		device_id   TEXT NOT NULL,
		target_ip   TEXT NOT NULL,
		change_type TEXT NOT NULL,
		severity    TEXT NOT NULL,
		old_value   TEXT,
		new_value   TEXT,
		detail      JSONB,
		ack_by      TEXT,
		ack_time    TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS scan_queue (
		id          TEXT PRIMARY KEY,
		schedule_id TEXT,
		device_id   TEXT NOT NULL,
		target_ip   TEXT NOT NULL,
		profile     TEXT NOT NULL,
		status      TEXT NOT NULL,
		queued_at   TIMESTAMPTZ NOT NULL,
		started_at  TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		result_id   TEXT,
		error       TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS scheduler_stats (
		time     TIMESTAMPTZ NOT NULL,
		snapshot JSONB NOT NULL
	)`,
}

// hypertables lists the time-partitioned relations; all use 1-day chunks.
var hypertables = []string{
	"throughput_samples",
	"connected_devices",
	"firewall_logs",
	"application_samples",
	"alert_history",
	"scan_results",
	"scan_changes",
	"scheduler_stats",
}

var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS connected_devices_device_mac_idx
		ON connected_devices (device_id, mac, time DESC)`,
	`CREATE INDEX IF NOT EXISTS firewall_logs_device_kind_idx
		ON firewall_logs (device_id, kind, time DESC)`,
	`CREATE INDEX IF NOT EXISTS application_samples_device_app_idx
		ON application_samples (device_id, application, time DESC)`,
	`CREATE INDEX IF NOT EXISTS alert_history_device_idx
		ON alert_history (device_id, time DESC)`,
	`CREATE INDEX IF NOT EXISTS scan_results_target_idx
		ON scan_results (device_id, target_ip, time DESC)`,
	`CREATE INDEX IF NOT EXISTS scan_changes_target_idx
		ON scan_changes (device_id, target_ip, time DESC)`,
	`CREATE INDEX IF NOT EXISTS scan_queue_status_idx
		ON scan_queue (device_id, status)`,
}

// retentionPolicies maps hypertables to their raw retention. AlertHistory
// is excluded: resolved rows are pruned by a guarded job instead, because a
// blanket drop would delete unresolved alerts.
var retentionPolicies = map[string]string{
	"throughput_samples":  "7 days",
	"connected_devices":   "7 days",
	"firewall_logs":       "7 days",
	"application_samples": "7 days",
	"scan_results":        "30 days",
	"scan_changes":        "30 days",
	"scheduler_stats":     "24 hours",
}

// compressionSettings maps tables to their segment-by column list. Chunks
// older than 2 days are compressed, ordered by time DESC.
var compressionSettings = map[string]string{
	"throughput_samples":  "device_id",
	"connected_devices":   "device_id, mac",
	"firewall_logs":       "device_id, kind",
	"application_samples": "device_id, application",
}

// aggregateDDL declares the hourly and daily rollups over throughput
// samples. Averages cover every numeric metric the dashboard graphs.
var aggregateDDL = []string{
	`CREATE MATERIALIZED VIEW IF NOT EXISTS throughput_hourly
	WITH (timescaledb.continuous) AS
	SELECT device_id,
		time_bucket('1 hour', time) AS bucket,
		avg(inbound_mbps)    AS inbound_mbps,
		avg(outbound_mbps)   AS outbound_mbps,
		avg(total_mbps)      AS total_mbps,
		avg(inbound_pps)     AS inbound_pps,
		avg(outbound_pps)    AS outbound_pps,
		avg(total_pps)       AS total_pps,
		avg(sessions_active) AS sessions_active,
		avg(sessions_tcp)    AS sessions_tcp,
		avg(sessions_udp)    AS sessions_udp,
		avg(sessions_icmp)   AS sessions_icmp,
		avg(cpu_data_plane)  AS cpu_data_plane,
		avg(cpu_mgmt_plane)  AS cpu_mgmt_plane,
		avg(memory_pct)      AS memory_pct,
		avg(threats_critical) AS threats_critical,
		avg(threats_high)     AS threats_high,
		avg(threats_medium)   AS threats_medium,
		avg(blocked_urls)     AS blocked_urls,
		avg(interface_errors) AS interface_errors,
		avg(interface_drops)  AS interface_drops
	FROM throughput_samples
	GROUP BY device_id, bucket
	WITH NO DATA`,
	`CREATE MATERIALIZED VIEW IF NOT EXISTS throughput_daily
	WITH (timescaledb.continuous) AS
	SELECT device_id,
		time_bucket('1 day', time) AS bucket,
		avg(inbound_mbps)    AS inbound_mbps,
		avg(outbound_mbps)   AS outbound_mbps,
		avg(total_mbps)      AS total_mbps,
		avg(inbound_pps)     AS inbound_pps,
		avg(outbound_pps)    AS outbound_pps,
		avg(total_pps)       AS total_pps,
		avg(sessions_active) AS sessions_active,
		avg(sessions_tcp)    AS sessions_tcp,
		avg(sessions_udp)    AS sessions_udp,
		avg(sessions_icmp)   AS sessions_icmp,
		avg(cpu_data_plane)  AS cpu_data_plane,
		avg(cpu_mgmt_plane)  AS cpu_mgmt_plane,
		avg(memory_pct)      AS memory_pct,
		avg(threats_critical) AS threats_critical,
		avg(threats_high)     AS threats_high,
		avg(threats_medium)   AS threats_medium,
		avg(blocked_urls)     AS blocked_urls,
		avg(interface_errors) AS interface_errors,
		avg(interface_drops)  AS interface_drops
	FROM throughput_samples
	GROUP BY device_id, bucket
	WITH NO DATA`,
}

// InstallSchema creates or repairs the full schema. It is safe to re-run:
// every step tolerates "already exists", and only extension or table
// creation failures are fatal.
func (s *Store) InstallSchema(ctx context.Context) error {
	// The extension is the one hard prerequisite.
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS timescaledb`); err != nil {
		return fmt.Errorf("failed to create timescaledb extension: %w", err)
	}

	for _, ddl := range tableDDL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("table creation failed: %w", err)
		}
	}

	for _, table := range hypertables {
		stmt := fmt.Sprintf(
			`SELECT create_hypertable('%s', 'time', chunk_time_interval => INTERVAL '1 day', if_not_exists => TRUE)`,
			table)
		if _, err := s.pool.Exec(ctx, stmt); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("hypertable conversion failed for %s: %w", table, err)
		}
	}

	for _, ddl := range indexDDL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil && !isAlreadyExists(err) {
			log.Warn().Err(err).Msg("Index creation failed, continuing")
		}
	}

	for table, keep := range retentionPolicies {
		stmt := fmt.Sprintf(
			`SELECT add_retention_policy('%s', INTERVAL '%s', if_not_exists => TRUE)`,
			table, keep)
		if _, err := s.pool.Exec(ctx, stmt); err != nil && !isAlreadyExists(err) {
			log.Warn().Str("table", table).Err(err).Msg("Retention policy failed, continuing")
		}
	}

	for table, segmentBy := range compressionSettings {
		alter := fmt.Sprintf(
			`ALTER TABLE %s SET (timescaledb.compress, timescaledb.compress_segmentby = '%s', timescaledb.compress_orderby = 'time DESC')`,
			table, segmentBy)
		if _, err := s.pool.Exec(ctx, alter); err != nil && !isAlreadyExists(err) {
			log.Warn().Str("table", table).Err(err).Msg("Compression settings failed, continuing")
			continue
		}
		policy := fmt.Sprintf(
			`SELECT add_compression_policy('%s', INTERVAL '2 days', if_not_exists => TRUE)`,
			table)
		if _, err := s.pool.Exec(ctx, policy); err != nil && !isAlreadyExists(err) {
			log.Warn().Str("table", table).Err(err).Msg("Compression policy failed, continuing")
		}
	}

	for _, ddl := range aggregateDDL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil && !isAlreadyExists(err) {
			log.Warn().Err(err).Msg("Continuous aggregate creation failed, continuing")
		}
	}

	// Refresh policies keep the rollups current; retention on the rollups
	// implements the 30-day hourly / 365-day daily tiers.
	aggPolicies := []string{
		`SELECT add_continuous_aggregate_policy('throughput_hourly',
			start_offset => INTERVAL '3 hours', end_offset => INTERVAL '1 hour',
			schedule_interval => INTERVAL '1 hour', if_not_exists => TRUE)`,
		`SELECT add_continuous_aggregate_policy('throughput_daily',
			start_offset => INTERVAL '3 days', end_offset => INTERVAL '1 day',
			schedule_interval => INTERVAL '1 day', if_not_exists => TRUE)`,
		`SELECT add_retention_policy('throughput_hourly', INTERVAL '30 days', if_not_exists => TRUE)`,
		`SELECT add_retention_policy('throughput_daily', INTERVAL '365 days', if_not_exists => TRUE)`,
	}
	for _, stmt := range aggPolicies {
		if _, err := s.pool.Exec(ctx, stmt); err != nil && !isAlreadyExists(err) {
			log.Warn().Err(err).Msg("Aggregate policy failed, continuing")
		}
	}

	log.Info().Msg("Schema installation complete")
	return nil
}
