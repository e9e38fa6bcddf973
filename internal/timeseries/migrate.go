package timeseries

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// deviceIDTables lists every relation keyed by device_id. Cooldowns come
// last so a partial failure leaves the history tables already consistent.
var deviceIDTables = []string{
	"throughput_samples",
	"connected_devices",
	"firewall_logs",
	"application_samples",
	"alert_history",
	"scan_results",
	"scan_changes",
	"scan_queue",
	"alert_cooldowns",
}

// RewriteDeviceID repoints every stored row from oldID to newID inside one
// transaction and returns per-table row counts. It backs the device-ID
// migration command.
func (s *Store) RewriteDeviceID(ctx context.Context, oldID, newID string) (map[string]int64, error) {
	if oldID == newID {
		return map[string]int64{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	counts := make(map[string]int64, len(deviceIDTables))
	for _, table := range deviceIDTables {
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET device_id = $1 WHERE device_id = $2`, table),
			newID, oldID)
		if err != nil {
			return nil, fmt.Errorf("failed to rewrite device id in %s: %w", table, err)
		}
		counts[table] = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit migration: %w", err)
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	log.Info().
		Str("oldId", oldID).
		Str("newId", newID).
		Int64("rows", total).
		Msg("Rewrote device id across store")
	return counts, nil
}
