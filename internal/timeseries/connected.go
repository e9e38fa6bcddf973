package timeseries

import (
	"context"
	"fmt"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// InsertConnectedDevices writes one collection tick's endpoint snapshot in a
// single batched transaction.
func (s *Store) InsertConnectedDevices(ctx context.Context, devices []*models.ConnectedDevice) error {
	if len(devices) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, d := range devices {
		if _, err := tx.Exec(ctx, `
			INSERT INTO connected_devices (
				time, device_id, mac, ip, hostname, vlan, interface, zone,
				vendor, is_virtual, is_randomized, mac_reason,
				custom_name, comment, location, tags
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			d.Time, d.DeviceID, d.MAC, d.IP,
			nullString(d.Hostname), nullString(d.VLAN), nullString(d.Interface), nullString(d.Zone),
			nullString(d.Vendor), d.Virtual, d.Randomized, nullString(d.MACReason),
			nullString(d.CustomName), nullString(d.Comment), nullString(d.Location), d.Tags,
		); err != nil {
			return fmt.Errorf("failed to insert connected device %s: %w", d.MAC, err)
		}
	}
	return tx.Commit(ctx)
}

// LatestConnectedDevices returns the most recent snapshot row per MAC seen on
// a firewall within maxAge.
func (s *Store) LatestConnectedDevices(ctx context.Context, deviceID string, maxAge time.Duration) ([]*models.ConnectedDevice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (mac)
			time, device_id, mac, ip,
			COALESCE(hostname, ''), COALESCE(vlan, ''), COALESCE(interface, ''), COALESCE(zone, ''),
			COALESCE(vendor, ''), is_virtual, is_randomized, COALESCE(mac_reason, ''),
			COALESCE(custom_name, ''), COALESCE(comment, ''), COALESCE(location, ''), tags
		FROM connected_devices
		WHERE device_id = $1 AND time > now() - $2::interval
		ORDER BY mac, time DESC`,
		deviceID, pgInterval(maxAge))
	if err != nil {
		return nil, fmt.Errorf("failed to query connected devices for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []*models.ConnectedDevice
	for rows.Next() {
		d := &models.ConnectedDevice{}
		if err := rows.Scan(
			&d.Time, &d.DeviceID, &d.MAC, &d.IP,
			&d.Hostname, &d.VLAN, &d.Interface, &d.Zone,
			&d.Vendor, &d.Virtual, &d.Randomized, &d.MACReason,
			&d.CustomName, &d.Comment, &d.Location, &d.Tags); err != nil {
			return nil, fmt.Errorf("failed to scan connected device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// EnrichWithBandwidth fills WindowBytesIn/WindowBytesOut on the given rows
// from traffic log accounting over the trailing window.
func (s *Store) EnrichWithBandwidth(ctx context.Context, deviceID string, devices []*models.ConnectedDevice, window time.Duration) error {
	if len(devices) == 0 {
		return nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source_ip, COALESCE(SUM(bytes_recv), 0), COALESCE(SUM(bytes_sent), 0)
		FROM firewall_logs
		WHERE device_id = $1 AND kind = 'traffic'
			AND time > now() - $2::interval
			AND source_ip IS NOT NULL
		GROUP BY source_ip`,
		deviceID, pgInterval(window))
	if err != nil {
		return fmt.Errorf("failed to query per-IP bandwidth for %s: %w", deviceID, err)
	}
	defer rows.Close()

	type usage struct{ in, out int64 }
	byIP := make(map[string]usage)
	for rows.Next() {
		var ip string
		var u usage
		if err := rows.Scan(&ip, &u.in, &u.out); err != nil {
			return fmt.Errorf("failed to scan bandwidth row: %w", err)
		}
		byIP[ip] = u
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, d := range devices {
		if u, ok := byIP[d.IP]; ok {
			d.WindowBytesIn = u.in
			d.WindowBytesOut = u.out
		}
	}
	return nil
}
