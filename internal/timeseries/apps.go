package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// InsertApplications writes one tick's per-application traffic rows in a
// single transaction. Endpoint lists are capped before persisting.
func (s *Store) InsertApplications(ctx context.Context, samples []*models.ApplicationSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, a := range samples {
		sources, err := marshalEndpoints(a.Sources)
		if err != nil {
			return fmt.Errorf("failed to encode sources for %s: %w", a.Application, err)
		}
		destinations, err := marshalEndpoints(a.Destinations)
		if err != nil {
			return fmt.Errorf("failed to encode destinations for %s: %w", a.Application, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO application_samples (
				time, device_id, application, category,
				bytes_total, bytes_sent, bytes_recv, sessions,
				sources, destinations, protocols, ports, vlans, zones
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			a.Time, a.DeviceID, a.Application, nullString(a.Category),
			a.BytesTotal, a.BytesSent, a.BytesRecv, a.Sessions,
			sources, destinations, a.Protocols, a.Ports, a.VLANs, a.Zones,
		); err != nil {
			return fmt.Errorf("failed to insert application sample %s: %w", a.Application, err)
		}
	}
	return tx.Commit(ctx)
}

func marshalEndpoints(eps []models.AppEndpoint) ([]byte, error) {
	if len(eps) == 0 {
		return nil, nil
	}
	if len(eps) > models.MaxEndpointsPerApplication {
		eps = eps[:models.MaxEndpointsPerApplication]
	}
	return json.Marshal(eps)
}

// RecentApplications returns the per-application aggregate over the trailing
// window, summed across ticks and ranked by bytes.
func (s *Store) RecentApplications(ctx context.Context, deviceID string, window time.Duration, limit int) ([]*models.ApplicationSample, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT application, COALESCE(MAX(category), ''),
			SUM(bytes_total), SUM(bytes_sent), SUM(bytes_recv), SUM(sessions),
			MAX(time)
		FROM application_samples
		WHERE device_id = $1 AND time > now() - $2::interval
		GROUP BY application
		ORDER BY SUM(bytes_total) DESC
		LIMIT $3`,
		deviceID, pgInterval(window), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []*models.ApplicationSample
	for rows.Next() {
		a := &models.ApplicationSample{DeviceID: deviceID}
		if err := rows.Scan(&a.Application, &a.Category,
			&a.BytesTotal, &a.BytesSent, &a.BytesRecv, &a.Sessions,
			&a.Time); err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplicationDetail returns the latest stored row for one application,
// including its endpoint lists.
func (s *Store) ApplicationDetail(ctx context.Context, deviceID, application string, window time.Duration) (*models.ApplicationSample, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT time, device_id, application, COALESCE(category, ''),
			bytes_total, bytes_sent, bytes_recv, sessions,
			sources, destinations, protocols, ports, vlans, zones
		FROM application_samples
		WHERE device_id = $1 AND application = $2 AND time > now() - $3::interval
		ORDER BY time DESC
		LIMIT 1`,
		deviceID, application, pgInterval(window))

	a := &models.ApplicationSample{}
	var sources, destinations []byte
	err := row.Scan(&a.Time, &a.DeviceID, &a.Application, &a.Category,
		&a.BytesTotal, &a.BytesSent, &a.BytesRecv, &a.Sessions,
		&sources, &destinations, &a.Protocols, &a.Ports, &a.VLANs, &a.Zones)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query application %s: %w", application, err)
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &a.Sources); err != nil {
			return nil, fmt.Errorf("failed to decode sources: %w", err)
		}
	}
	if len(destinations) > 0 {
		if err := json.Unmarshal(destinations, &a.Destinations); err != nil {
			return nil, fmt.Errorf("failed to decode destinations: %w", err)
		}
	}
	return a, nil
}

// ApplicationSummary aggregates the dashboard card figures over the window.
func (s *Store) ApplicationSummary(ctx context.Context, deviceID string, window time.Duration) (*models.AppSummary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT application),
			COUNT(DISTINCT v), COUNT(DISTINCT z),
			COALESCE(SUM(bytes_total), 0)
		FROM application_samples
			LEFT JOIN LATERAL unnest(vlans) AS v ON TRUE
			LEFT JOIN LATERAL unnest(zones) AS z ON TRUE
		WHERE device_id = $1 AND time > now() - $2::interval`,
		deviceID, pgInterval(window))

	sum := &models.AppSummary{}
	if err := row.Scan(&sum.UniqueApps, &sum.UniqueVLANs, &sum.UniqueZones, &sum.TotalBytes); err != nil {
		return nil, fmt.Errorf("failed to query application summary for %s: %w", deviceID, err)
	}
	return sum, nil
}

// AppBytesInWindow returns one application's total bytes over the trailing
// window. A name with no traffic reports zero; the alert engine treats that
// as a real observation, not an error.
func (s *Store) AppBytesInWindow(ctx context.Context, deviceID, application string, window time.Duration) (int64, error) {
	var bytes int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(bytes_total), 0)
		FROM application_samples
		WHERE device_id = $1 AND application = $2 AND time > now() - $3::interval`,
		deviceID, application, pgInterval(window)).Scan(&bytes)
	if err != nil {
		return 0, fmt.Errorf("failed to query app bytes for %s: %w", application, err)
	}
	return bytes, nil
}

// PerIPBandwidthInWindow returns per-endpoint download and upload totals over
// the trailing window, largest first, from traffic log accounting.
func (s *Store) PerIPBandwidthInWindow(ctx context.Context, deviceID string, window time.Duration) ([]models.IPBandwidth, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_ip, 'download', COALESCE(SUM(bytes_recv), 0)
		FROM firewall_logs
		WHERE device_id = $1 AND kind = 'traffic'
			AND time > now() - $2::interval AND source_ip IS NOT NULL
		GROUP BY source_ip
		UNION ALL
		SELECT source_ip, 'upload', COALESCE(SUM(bytes_sent), 0)
		FROM firewall_logs
		WHERE device_id = $1 AND kind = 'traffic'
			AND time > now() - $2::interval AND source_ip IS NOT NULL
		GROUP BY source_ip
		ORDER BY 3 DESC`,
		deviceID, pgInterval(window))
	if err != nil {
		return nil, fmt.Errorf("failed to query per-IP bandwidth for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []models.IPBandwidth
	for rows.Next() {
		var b models.IPBandwidth
		if err := rows.Scan(&b.IP, &b.Direction, &b.TotalBytes); err != nil {
			return nil, fmt.Errorf("failed to scan bandwidth row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// TopCategoryByBytes returns the application category moving the most bytes
// over the window, or nil when no categorized traffic was seen.
func (s *Store) TopCategoryByBytes(ctx context.Context, deviceID string, window time.Duration) (*models.TopCategory, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT category, SUM(bytes_total)
		FROM application_samples
		WHERE device_id = $1 AND time > now() - $2::interval
			AND category IS NOT NULL AND category <> ''
		GROUP BY category
		ORDER BY SUM(bytes_total) DESC
		LIMIT 1`,
		deviceID, pgInterval(window))

	top := &models.TopCategory{}
	if err := row.Scan(&top.Category, &top.Bytes); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query top category for %s: %w", deviceID, err)
	}
	return top, nil
}
