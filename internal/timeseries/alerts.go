package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parapetdev/parapet/internal/models"
)

// NewEventID mints a sortable unique id for alert history and scan rows.
func NewEventID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// InsertAlertEvent appends one trigger to alert history. A missing ID is
// minted from the event time.
func (s *Store) InsertAlertEvent(ctx context.Context, e *models.AlertEvent) error {
	if e.ID == "" {
		e.ID = NewEventID(e.Time)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_history (
			time, id, config_id, device_id, device_name,
			metric, threshold, value, operator, severity, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.Time, e.ID, e.ConfigID, e.DeviceID, nullString(e.DeviceName),
		e.Metric, e.Threshold, e.Value, nullString(e.Operator), string(e.Severity), e.Message)
	if err != nil {
		return fmt.Errorf("failed to insert alert event: %w", err)
	}
	return nil
}

// AlertHistoryFilter narrows AlertHistory. Zero values mean "any".
type AlertHistoryFilter struct {
	DeviceID       string
	Severity       models.AlertSeverity
	Metric         string
	UnresolvedOnly bool
	Since          time.Time
	Limit          int
}

// AlertHistory returns history rows newest first.
func (s *Store) AlertHistory(ctx context.Context, f AlertHistoryFilter) ([]*models.AlertEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT time, id, config_id, device_id, COALESCE(device_name, ''),
			metric, threshold, value, COALESCE(operator, ''), severity, message,
			COALESCE(ack_by, ''), ack_time,
			COALESCE(resolved_reason, ''), resolved_time
		FROM alert_history
		WHERE TRUE`
	var args []any

	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if f.Severity != "" {
		args = append(args, string(f.Severity))
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if f.Metric != "" {
		args = append(args, f.Metric)
		query += fmt.Sprintf(" AND metric = $%d", len(args))
	}
	if f.UnresolvedOnly {
		query += " AND resolved_time IS NULL"
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND time >= $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY time DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert history: %w", err)
	}
	defer rows.Close()

	var out []*models.AlertEvent
	for rows.Next() {
		e := &models.AlertEvent{}
		var severity string
		if err := rows.Scan(
			&e.Time, &e.ID, &e.ConfigID, &e.DeviceID, &e.DeviceName,
			&e.Metric, &e.Threshold, &e.Value, &e.Operator, &severity, &e.Message,
			&e.AckBy, &e.AckTime,
			&e.ResolvedReason, &e.ResolvedTime); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		e.Severity = models.AlertSeverity(severity)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AcknowledgeAlert marks one event acknowledged. Acknowledging an already
// acknowledged event keeps the original acknowledgement.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, by string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_history
		SET ack_by = $2, ack_time = now()
		WHERE id = $1 AND ack_time IS NULL`,
		id, by)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s not found or already acknowledged", id)
	}
	return nil
}

// ResolveAlert closes out one event with a reason.
func (s *Store) ResolveAlert(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_history
		SET resolved_reason = $2, resolved_time = now()
		WHERE id = $1 AND resolved_time IS NULL`,
		id, reason)
	if err != nil {
		return fmt.Errorf("failed to resolve alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s not found or already resolved", id)
	}
	return nil
}

// AlertStats aggregates history counts over the trailing window.
func (s *Store) AlertStats(ctx context.Context, window time.Duration) (*models.AlertStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE severity = 'critical'),
			COUNT(*) FILTER (WHERE severity = 'warning'),
			COUNT(*) FILTER (WHERE severity = 'info'),
			COUNT(*) FILTER (WHERE resolved_time IS NULL),
			COUNT(*) FILTER (WHERE ack_time IS NULL)
		FROM alert_history
		WHERE time > now() - $1::interval`,
		pgInterval(window))

	stats := &models.AlertStats{}
	if err := row.Scan(&stats.Total, &stats.Critical, &stats.Warning, &stats.Info,
		&stats.Unresolved, &stats.Unacknowledged); err != nil {
		return nil, fmt.Errorf("failed to query alert stats: %w", err)
	}
	return stats, nil
}

// PruneResolvedAlerts removes resolved history older than the retention
// window. Unresolved events are kept regardless of age.
func (s *Store) PruneResolvedAlerts(ctx context.Context, keep time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM alert_history
		WHERE resolved_time IS NOT NULL AND time < now() - $1::interval`,
		pgInterval(keep))
	if err != nil {
		return 0, fmt.Errorf("failed to prune resolved alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Cooldown returns the cooldown row for a (device, config) pair, or nil.
func (s *Store) Cooldown(ctx context.Context, deviceID, configID string) (*models.AlertCooldown, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT device_id, config_id, last_triggered, cooldown_until
		FROM alert_cooldowns
		WHERE device_id = $1 AND config_id = $2`,
		deviceID, configID)

	c := &models.AlertCooldown{}
	if err := row.Scan(&c.DeviceID, &c.ConfigID, &c.LastTriggered, &c.Until); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query cooldown: %w", err)
	}
	return c, nil
}

// UpsertCooldown records a trigger and the suppression deadline that follows.
func (s *Store) UpsertCooldown(ctx context.Context, c *models.AlertCooldown) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_cooldowns (device_id, config_id, last_triggered, cooldown_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, config_id)
		DO UPDATE SET last_triggered = EXCLUDED.last_triggered,
			cooldown_until = EXCLUDED.cooldown_until`,
		c.DeviceID, c.ConfigID, c.LastTriggered, c.Until)
	if err != nil {
		return fmt.Errorf("failed to upsert cooldown: %w", err)
	}
	return nil
}

// ExpiredCooldownGC deletes cooldown rows whose suppression window has passed.
func (s *Store) ExpiredCooldownGC(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_cooldowns WHERE cooldown_until < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to garbage-collect cooldowns: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertSchedulerStats persists one scheduler self-report snapshot.
func (s *Store) InsertSchedulerStats(ctx context.Context, snap *models.SchedulerSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode scheduler snapshot: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO scheduler_stats (time, snapshot) VALUES ($1, $2)`,
		snap.Time, payload); err != nil {
		return fmt.Errorf("failed to insert scheduler snapshot: %w", err)
	}
	return nil
}

// RecentSchedulerStats returns the newest stored snapshots.
func (s *Store) RecentSchedulerStats(ctx context.Context, limit int) ([]*models.SchedulerSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT snapshot FROM scheduler_stats
		ORDER BY time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduler stats: %w", err)
	}
	defer rows.Close()

	var out []*models.SchedulerSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan scheduler snapshot: %w", err)
		}
		snap := &models.SchedulerSnapshot{}
		if err := json.Unmarshal(payload, snap); err != nil {
			return nil, fmt.Errorf("failed to decode scheduler snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
