package timeseries

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/models"
)

// maxLogRows caps each (device, kind) log window. The trim runs in the same
// transaction as the insert so the cap holds under concurrent collectors.
const maxLogRows = 1000

// InsertLogs appends entries to the rolling log windows, then trims each
// touched (device, kind) window back to maxLogRows.
func (s *Store) InsertLogs(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	touched := make(map[[2]string]bool)
	for _, e := range entries {
		if !models.ValidLogKind(e.Kind) {
			return fmt.Errorf("unknown log kind %q", e.Kind)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO firewall_logs (
				time, device_id, kind, seq, severity,
				source_ip, dest_ip, source_port, dest_port,
				application, rule, action,
				threat_name, threat_id, url, category,
				bytes, bytes_sent, bytes_recv, packets,
				event_id, object, description
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
				$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
			e.Time, e.DeviceID, string(e.Kind), e.Seq, nullString(e.Severity),
			nullString(e.SourceIP), nullString(e.DestIP), e.SourcePort, e.DestPort,
			nullString(e.Application), nullString(e.Rule), nullString(e.Action),
			nullString(e.ThreatName), nullString(e.ThreatID), nullString(e.URL), nullString(e.Category),
			e.Bytes, e.BytesSent, e.BytesRecv, e.Packets,
			nullString(e.EventID), nullString(e.Object), nullString(e.Description),
		); err != nil {
			return fmt.Errorf("failed to insert %s log entry: %w", e.Kind, err)
		}
		touched[[2]string{e.DeviceID, string(e.Kind)}] = true
	}

	for key := range touched {
		if _, err := tx.Exec(ctx, `
			DELETE FROM firewall_logs
			WHERE device_id = $1 AND kind = $2 AND time < (
				SELECT time FROM firewall_logs
				WHERE device_id = $1 AND kind = $2
				ORDER BY time DESC
				OFFSET $3 LIMIT 1
			)`,
			key[0], key[1], maxLogRows-1); err != nil {
			return fmt.Errorf("failed to trim %s log window: %w", key[1], err)
		}
	}
	return tx.Commit(ctx)
}

// LogFilter narrows RecentLogs. Zero values mean "any".
type LogFilter struct {
	Severity    string
	SourceIP    string
	DestIP      string
	Application string
	Search      string // substring over threat name, URL and description
	Limit       int
}

// RecentLogs returns the newest entries of one (device, kind) window.
func (s *Store) RecentLogs(ctx context.Context, deviceID string, kind models.LogKind, f LogFilter) ([]*models.LogEntry, error) {
	if !models.ValidLogKind(kind) {
		return nil, fmt.Errorf("unknown log kind %q", kind)
	}
	limit := f.Limit
	if limit <= 0 || limit > maxLogRows {
		limit = 100
	}

	query := `
		SELECT time, device_id, kind, COALESCE(seq, 0), COALESCE(severity, ''),
			COALESCE(source_ip, ''), COALESCE(dest_ip, ''),
			COALESCE(source_port, 0), COALESCE(dest_port, 0),
			COALESCE(application, ''), COALESCE(rule, ''), COALESCE(action, ''),
			COALESCE(threat_name, ''), COALESCE(threat_id, ''),
			COALESCE(url, ''), COALESCE(category, ''),
			COALESCE(bytes, 0), COALESCE(bytes_sent, 0), COALESCE(bytes_recv, 0), COALESCE(packets, 0),
			COALESCE(event_id, ''), COALESCE(object, ''), COALESCE(description, '')
		FROM firewall_logs
		WHERE device_id = $1 AND kind = $2`
	args := []any{deviceID, string(kind)}

	if f.Severity != "" {
		args = append(args, f.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if f.SourceIP != "" {
		args = append(args, f.SourceIP)
		query += fmt.Sprintf(" AND source_ip = $%d", len(args))
	}
	if f.DestIP != "" {
		args = append(args, f.DestIP)
		query += fmt.Sprintf(" AND dest_ip = $%d", len(args))
	}
	if f.Application != "" {
		args = append(args, f.Application)
		query += fmt.Sprintf(" AND application = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		query += fmt.Sprintf(" AND (threat_name ILIKE $%d OR url ILIKE $%d OR description ILIKE $%d)", n, n, n)
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY time DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s logs for %s: %w", kind, deviceID, err)
	}
	defer rows.Close()

	var out []*models.LogEntry
	for rows.Next() {
		e := &models.LogEntry{}
		var k string
		if err := rows.Scan(
			&e.Time, &e.DeviceID, &k, &e.Seq, &e.Severity,
			&e.SourceIP, &e.DestIP, &e.SourcePort, &e.DestPort,
			&e.Application, &e.Rule, &e.Action,
			&e.ThreatName, &e.ThreatID, &e.URL, &e.Category,
			&e.Bytes, &e.BytesSent, &e.BytesRecv, &e.Packets,
			&e.EventID, &e.Object, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Kind = models.LogKind(k)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestLogSeq returns the highest device-side sequence number stored for a
// (device, kind) window, used to dedupe incremental pulls.
func (s *Store) LatestLogSeq(ctx context.Context, deviceID string, kind models.LogKind) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM firewall_logs
		WHERE device_id = $1 AND kind = $2`,
		deviceID, string(kind)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest log seq for %s/%s: %w", deviceID, kind, err)
	}
	return seq, nil
}

// TrimLogWindows enforces the row cap across every (device, kind) window.
// It backs the periodic cleanup job; per-insert trimming already keeps
// steady-state windows bounded.
func (s *Store) TrimLogWindows(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, kind, COUNT(*) FROM firewall_logs
		GROUP BY device_id, kind
		HAVING COUNT(*) > $1`, maxLogRows)
	if err != nil {
		return fmt.Errorf("failed to find oversized log windows: %w", err)
	}

	type window struct {
		deviceID, kind string
		count          int64
	}
	var oversized []window
	for rows.Next() {
		var w window
		if err := rows.Scan(&w.deviceID, &w.kind, &w.count); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan log window size: %w", err)
		}
		oversized = append(oversized, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, w := range oversized {
		if _, err := s.pool.Exec(ctx, `
			DELETE FROM firewall_logs
			WHERE device_id = $1 AND kind = $2 AND time < (
				SELECT time FROM firewall_logs
				WHERE device_id = $1 AND kind = $2
				ORDER BY time DESC
				OFFSET $3 LIMIT 1
			)`,
			w.deviceID, w.kind, maxLogRows-1); err != nil {
			return fmt.Errorf("failed to trim %s window for %s: %w", w.kind, w.deviceID, err)
		}
		log.Debug().
			Str("device", w.deviceID).
			Str("kind", w.kind).
			Int64("had", w.count).
			Msg("Trimmed oversized log window")
	}
	return nil
}
