package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/config"
	"github.com/parapetdev/parapet/internal/models"
)

// IDRewriter is the slice of the time-series store the migration needs: a
// bulk rename of one device id across every table, in dependency order.
type IDRewriter interface {
	RewriteDeviceID(ctx context.Context, oldID, newID string) (map[string]int64, error)
}

// MigrationResult reports what a device-id migration did.
type MigrationResult struct {
	BackupPath string
	Renamed    map[string]string           // old id -> new id
	RowCounts  map[string]map[string]int64 // old id -> table -> rows updated
}

// MigrateDeviceIDs rewrites legacy random device ids to their deterministic
// form, in the persisted config and across the time-series store.
//
// Workflow: back up devices.enc first, then rewrite store rows per device,
// then save the updated device list. Any failure aborts with the backup path
// in the error so the operator can restore. Devices already carrying their
// deterministic id are untouched.
func MigrateDeviceIDs(ctx context.Context, p *config.Persistence, store IDRewriter) (*MigrationResult, error) {
	devices, err := p.LoadDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}
	if len(devices) == 0 {
		return &MigrationResult{Renamed: map[string]string{}}, nil
	}

	pending := make(map[string]string)
	for _, d := range devices {
		want := DeviceID(d.Address, d.Name)
		if d.ID != want {
			pending[d.ID] = want
		}
	}
	if len(pending) == 0 {
		log.Info().Msg("All device ids are already deterministic, nothing to migrate")
		return &MigrationResult{Renamed: map[string]string{}}, nil
	}

	backup, err := p.CreateBackup("devices.enc")
	if err != nil {
		return nil, fmt.Errorf("failed to create backup: %w", err)
	}
	log.Info().Str("backup", backup).Int("devices", len(pending)).Msg("Starting device id migration")

	result := &MigrationResult{
		BackupPath: backup,
		Renamed:    pending,
		RowCounts:  make(map[string]map[string]int64, len(pending)),
	}

	for oldID, newID := range pending {
		counts, err := store.RewriteDeviceID(ctx, oldID, newID)
		if err != nil {
			return result, fmt.Errorf(
				"store rewrite failed for %s -> %s: %w (config backup at %s, restore it before retrying)",
				oldID, newID, err, backup)
		}
		result.RowCounts[oldID] = counts

		var total int64
		for _, n := range counts {
			total += n
		}
		log.Info().
			Str("oldId", oldID).
			Str("newId", newID).
			Int64("rows", total).
			Msg("Rewrote device id in time-series store")
	}

	migrated := make([]models.Device, len(devices))
	copy(migrated, devices)
	for i := range migrated {
		if newID, ok := pending[migrated[i].ID]; ok {
			migrated[i].ID = newID
		}
	}
	if err := p.SaveDevices(migrated); err != nil {
		return result, fmt.Errorf(
			"failed to save migrated devices: %w (config backup at %s)", err, backup)
	}

	// Verify the rewrite held.
	verify, err := p.LoadDevices()
	if err != nil {
		return result, fmt.Errorf("verification load failed: %w (config backup at %s)", err, backup)
	}
	for _, d := range verify {
		if want := DeviceID(d.Address, d.Name); d.ID != want {
			return result, fmt.Errorf(
				"verification failed: device %q still has id %s (want %s); config backup at %s",
				d.Name, d.ID, want, backup)
		}
	}

	log.Info().Int("migrated", len(pending)).Msg("Device id migration complete")
	return result, nil
}
