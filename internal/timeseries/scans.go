package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// InsertScanResult stores one parsed scan outcome. A missing ID is minted
// from the scan time.
func (s *Store) InsertScanResult(ctx context.Context, r *models.ScanResult) error {
	if r.ID == "" {
		r.ID = NewEventID(r.Time)
	}

	osMatches, err := marshalOrNil(r.OSMatches)
	if err != nil {
		return fmt.Errorf("failed to encode OS matches: %w", err)
	}
	ports, err := marshalOrNil(r.Ports)
	if err != nil {
		return fmt.Errorf("failed to encode port findings: %w", err)
	}
	detail, err := marshalOrNil(r.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode scan detail: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scan_results (
			time, id, device_id, target_ip, profile, duration_sec,
			host_status, os_name, os_confidence, os_matches, ports, detail, raw_output
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.Time, r.ID, r.DeviceID, r.TargetIP, string(r.Profile), r.Duration,
		nullString(r.HostStatus), nullString(r.OSName), r.OSConfidence,
		osMatches, ports, detail, nullString(r.RawOutput))
	if err != nil {
		return fmt.Errorf("failed to insert scan result for %s: %w", r.TargetIP, err)
	}
	return nil
}

func marshalOrNil(v any) ([]byte, error) {
	switch t := v.(type) {
	case []models.OSMatch:
		if len(t) == 0 {
			return nil, nil
		}
	case []models.PortFinding:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// PreviousScanResult returns the newest result for a (device, target) pair
// strictly before the given time, or nil. The change detector compares the
// fresh result against it.
func (s *Store) PreviousScanResult(ctx context.Context, deviceID, targetIP string, before time.Time) (*models.ScanResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT time, id, device_id, target_ip, profile, duration_sec,
			COALESCE(host_status, ''), COALESCE(os_name, ''), COALESCE(os_confidence, 0),
			os_matches, ports, detail
		FROM scan_results
		WHERE device_id = $1 AND target_ip = $2 AND time < $3
		ORDER BY time DESC
		LIMIT 1`,
		deviceID, targetIP, before)
	return scanResultRow(row)
}

// ScanResultByID fetches one stored result.
func (s *Store) ScanResultByID(ctx context.Context, id string) (*models.ScanResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT time, id, device_id, target_ip, profile, duration_sec,
			COALESCE(host_status, ''), COALESCE(os_name, ''), COALESCE(os_confidence, 0),
			os_matches, ports, detail
		FROM scan_results
		WHERE id = $1`, id)
	return scanResultRow(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResultRow(row rowScanner) (*models.ScanResult, error) {
	r := &models.ScanResult{}
	var profile string
	var osMatches, ports, detail []byte
	err := row.Scan(&r.Time, &r.ID, &r.DeviceID, &r.TargetIP, &profile, &r.Duration,
		&r.HostStatus, &r.OSName, &r.OSConfidence,
		&osMatches, &ports, &detail)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan result row: %w", err)
	}
	r.Profile = models.ScanProfile(profile)
	if len(osMatches) > 0 {
		if err := json.Unmarshal(osMatches, &r.OSMatches); err != nil {
			return nil, fmt.Errorf("failed to decode OS matches: %w", err)
		}
	}
	if len(ports) > 0 {
		if err := json.Unmarshal(ports, &r.Ports); err != nil {
			return nil, fmt.Errorf("failed to decode port findings: %w", err)
		}
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &r.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode scan detail: %w", err)
		}
	}
	return r, nil
}

// ScanHistory returns stored results for a (device, target) pair, newest
// first. An empty targetIP matches every target on the device.
func (s *Store) ScanHistory(ctx context.Context, deviceID, targetIP string, limit int) ([]*models.ScanResult, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT time, id, device_id, target_ip, profile, duration_sec,
			COALESCE(host_status, ''), COALESCE(os_name, ''), COALESCE(os_confidence, 0),
			os_matches, ports, detail
		FROM scan_results
		WHERE device_id = $1`
	args := []any{deviceID}
	if targetIP != "" {
		args = append(args, targetIP)
		query += fmt.Sprintf(" AND target_ip = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY time DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	var out []*models.ScanResult
	for rows.Next() {
		r, err := scanResultRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertScanChange appends one change event to the feed.
func (s *Store) InsertScanChange(ctx context.Context, e *models.ScanChangeEvent) error {
	if e.ID == "" {
		e.ID = NewEventID(e.Time)
	}
	detail, err := marshalOrNil(e.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode change detail: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scan_changes (
			time, id, device_id, target_ip, change_type, severity,
			old_value, new_value, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Time, e.ID, e.DeviceID, e.TargetIP, e.ChangeType, string(e.Severity),
		nullString(e.OldValue), nullString(e.NewValue), detail)
	if err != nil {
		return fmt.Errorf("failed to insert scan change: %w", err)
	}
	return nil
}

// ScanChangeFilter narrows ScanChanges. Zero values mean "any".
type ScanChangeFilter struct {
	DeviceID           string
	TargetIP           string
	ChangeType         string
	UnacknowledgedOnly bool
	Limit              int
}

// ScanChanges returns the change feed, newest first.
func (s *Store) ScanChanges(ctx context.Context, f ScanChangeFilter) ([]*models.ScanChangeEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT time, id, device_id, target_ip, change_type, severity,
			COALESCE(old_value, ''), COALESCE(new_value, ''), detail,
			COALESCE(ack_by, ''), ack_time
		FROM scan_changes
		WHERE TRUE`
	var args []any
	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if f.TargetIP != "" {
		args = append(args, f.TargetIP)
		query += fmt.Sprintf(" AND target_ip = $%d", len(args))
	}
	if f.ChangeType != "" {
		args = append(args, f.ChangeType)
		query += fmt.Sprintf(" AND change_type = $%d", len(args))
	}
	if f.UnacknowledgedOnly {
		query += " AND ack_time IS NULL"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY time DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan changes: %w", err)
	}
	defer rows.Close()

	var out []*models.ScanChangeEvent
	for rows.Next() {
		e := &models.ScanChangeEvent{}
		var severity string
		var detail []byte
		if err := rows.Scan(&e.Time, &e.ID, &e.DeviceID, &e.TargetIP, &e.ChangeType, &severity,
			&e.OldValue, &e.NewValue, &detail, &e.AckBy, &e.AckTime); err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		e.Severity = models.AlertSeverity(severity)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode change detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AcknowledgeScanChange marks one change event acknowledged.
func (s *Store) AcknowledgeScanChange(ctx context.Context, id, by string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scan_changes
		SET ack_by = $2, ack_time = now()
		WHERE id = $1 AND ack_time IS NULL`,
		id, by)
	if err != nil {
		return fmt.Errorf("failed to acknowledge scan change %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scan change %s not found or already acknowledged", id)
	}
	return nil
}

// SaveScanQueueItem upserts one queue item's lifecycle state.
func (s *Store) SaveScanQueueItem(ctx context.Context, item *models.ScanQueueItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_queue (
			id, schedule_id, device_id, target_ip, profile, status,
			queued_at, started_at, finished_at, result_id, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			result_id = EXCLUDED.result_id,
			error = EXCLUDED.error`,
		item.ID, nullString(item.ScheduleID), item.DeviceID, item.TargetIP,
		string(item.Profile), item.Status,
		item.QueuedAt, item.StartedAt, item.FinishedAt,
		nullString(item.ResultID), nullString(item.Error))
	if err != nil {
		return fmt.Errorf("failed to save scan queue item %s: %w", item.ID, err)
	}
	return nil
}

// PendingScanQueueItems returns queued and running items, oldest first. At
// startup running items are re-queued by the scan subsystem.
func (s *Store) PendingScanQueueItems(ctx context.Context) ([]*models.ScanQueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(schedule_id, ''), device_id, target_ip, profile, status,
			queued_at, started_at, finished_at, COALESCE(result_id, ''), COALESCE(error, '')
		FROM scan_queue
		WHERE status IN ($1, $2)
		ORDER BY queued_at ASC`,
		models.ScanQueued, models.ScanRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending scans: %w", err)
	}
	defer rows.Close()

	var out []*models.ScanQueueItem
	for rows.Next() {
		item := &models.ScanQueueItem{}
		var profile string
		if err := rows.Scan(&item.ID, &item.ScheduleID, &item.DeviceID, &item.TargetIP,
			&profile, &item.Status,
			&item.QueuedAt, &item.StartedAt, &item.FinishedAt,
			&item.ResultID, &item.Error); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Profile = models.ScanProfile(profile)
		out = append(out, item)
	}
	return out, rows.Err()
}

// PruneScanQueue removes finished queue items older than the window.
func (s *Store) PruneScanQueue(ctx context.Context, keep time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM scan_queue
		WHERE status IN ($1, $2) AND queued_at < now() - $3::interval`,
		models.ScanCompleted, models.ScanFailed, pgInterval(keep))
	if err != nil {
		return 0, fmt.Errorf("failed to prune scan queue: %w", err)
	}
	return tag.RowsAffected(), nil
}
