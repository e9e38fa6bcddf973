package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/notify"
)

const (
	exportVersion    = "1"
	pbkdf2Iterations = 100_000
	exportSaltSize   = 32
)

// ExportData is the JSON envelope carried inside an export blob.
type ExportData struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"timestamp"`

	Devices            []StoredDevice             `json:"devices,omitempty"`
	Metadata           []*models.DeviceMetadata   `json:"metadata,omitempty"`
	Channels           []notify.Channel           `json:"channels,omitempty"`
	AlertConfigs       []models.AlertConfig       `json:"alertConfigs,omitempty"`
	MaintenanceWindows []models.MaintenanceWindow `json:"maintenanceWindows,omitempty"`
	ScheduledScans     []models.ScheduledScan     `json:"scheduledScans,omitempty"`
	System             *SystemSettings            `json:"system,omitempty"`
}

// ImportSections selects which parts of an export are restored. The zero
// value restores nothing; callers enable sections explicitly.
type ImportSections struct {
	Devices     bool
	Metadata    bool
	Channels    bool
	Alerts      bool
	Maintenance bool
	Scans       bool
	System      bool
}

// AllSections selects every section for restore.
func AllSections() ImportSections {
	return ImportSections{
		Devices: true, Metadata: true, Channels: true,
		Alerts: true, Maintenance: true, Scans: true, System: true,
	}
}

// ExportConfig bundles every configuration section into a passphrase-
// encrypted, base64-encoded blob. The key is derived with PBKDF2-SHA256 so
// the export survives a lost key file.
func (p *Persistence) ExportConfig(passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("passphrase is required for export")
	}

	snap, err := p.LoadSnapshot()
	if err != nil {
		return "", fmt.Errorf("failed to load configuration for export: %w", err)
	}

	stored := make([]StoredDevice, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		stored = append(stored, storedFromModel(d))
	}

	data := ExportData{
		Version:            exportVersion,
		ExportedAt:         time.Now().UTC(),
		Devices:            stored,
		Metadata:           snap.Metadata,
		Channels:           snap.Channels,
		AlertConfigs:       snap.AlertConfigs,
		MaintenanceWindows: snap.MaintenanceWindows,
		ScheduledScans:     snap.ScheduledScans,
		System:             &snap.Settings,
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal export data: %w", err)
	}

	salt := make([]byte, exportSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Blob layout: salt || nonce || ciphertext, base64 encoded.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	blob := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	log.Info().
		Int("devices", len(stored)).
		Int("channels", len(snap.Channels)).
		Msg("Configuration exported")
	return base64.StdEncoding.EncodeToString(blob), nil
}

// ImportConfig decrypts an export blob and restores the selected sections.
// Nothing is written until the whole blob decrypts and parses.
func (p *Persistence) ImportConfig(blob, passphrase string, sections ImportSections) (*ExportData, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required for import")
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("invalid export blob: %w", err)
	}
	if len(raw) < exportSaltSize+13 {
		return nil, fmt.Errorf("export blob is truncated")
	}

	salt := raw[:exportSaltSize]
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	rest := raw[exportSaltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("export blob is truncated")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong passphrase?): %w", err)
	}

	var data ExportData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to parse export data: %w", err)
	}
	if data.Version != exportVersion {
		return nil, fmt.Errorf("unsupported export version %q", data.Version)
	}

	if sections.Devices {
		devices := make([]models.Device, 0, len(data.Devices))
		for _, s := range data.Devices {
			devices = append(devices, s.Model())
		}
		if err := p.SaveDevices(devices); err != nil {
			return nil, fmt.Errorf("failed to restore devices: %w", err)
		}
	}
	if sections.Metadata {
		if err := p.SaveMetadata(data.Metadata); err != nil {
			return nil, fmt.Errorf("failed to restore metadata: %w", err)
		}
	}
	if sections.Channels {
		if err := p.SaveChannels(data.Channels); err != nil {
			return nil, fmt.Errorf("failed to restore channels: %w", err)
		}
	}
	if sections.Alerts {
		if err := p.SaveAlertConfigs(data.AlertConfigs); err != nil {
			return nil, fmt.Errorf("failed to restore alert configs: %w", err)
		}
	}
	if sections.Maintenance {
		if err := p.SaveMaintenanceWindows(data.MaintenanceWindows); err != nil {
			return nil, fmt.Errorf("failed to restore maintenance windows: %w", err)
		}
	}
	if sections.Scans {
		if err := p.SaveScheduledScans(data.ScheduledScans); err != nil {
			return nil, fmt.Errorf("failed to restore scan schedules: %w", err)
		}
	}
	if sections.System && data.System != nil {
		if err := p.SaveSystemSettings(*data.System); err != nil {
			return nil, fmt.Errorf("failed to restore system settings: %w", err)
		}
	}

	log.Info().
		Time("exportedAt", data.ExportedAt).
		Msg("Configuration imported")
	return &data, nil
}
