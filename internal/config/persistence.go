package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/notify"
)

// Persistence handles saving and loading operator configuration.
type Persistence struct {
	mu              sync.RWMutex
	configDir       string
	devicesFile     string
	metadataFile    string
	alertsFile      string
	channelsFile    string
	maintenanceFile string
	scansFile       string
	systemFile      string
	crypto          *CryptoManager
}

// NewPersistence creates a persistence manager rooted at configDir. The
// process terminates if encryption cannot be initialized, to avoid writing
// credentials to disk in plaintext.
func NewPersistence(configDir string) *Persistence {
	p, err := newPersistence(configDir)
	if err != nil {
		log.Fatal().
			Str("configDir", configDir).
			Err(err).
			Msg("Failed to initialize config persistence")
	}
	return p
}

func newPersistence(configDir string) (*Persistence, error) {
	if configDir == "" {
		configDir = DataDir()
	}

	cryptoMgr, err := NewCryptoManagerAt(configDir)
	if err != nil {
		return nil, err
	}

	p := &Persistence{
		configDir:       configDir,
		devicesFile:     filepath.Join(configDir, "devices.enc"),
		metadataFile:    filepath.Join(configDir, "metadata.json"),
		alertsFile:      filepath.Join(configDir, "alerts.json"),
		channelsFile:    filepath.Join(configDir, "channels.enc"),
		maintenanceFile: filepath.Join(configDir, "maintenance.json"),
		scansFile:       filepath.Join(configDir, "scans.json"),
		systemFile:      filepath.Join(configDir, "system.json"),
		crypto:          cryptoMgr,
	}

	log.Debug().
		Str("configDir", configDir).
		Str("devicesFile", p.devicesFile).
		Msg("Config persistence initialized")

	return p, nil
}

// DataDir returns the configuration directory path.
func (p *Persistence) DataDir() string {
	return p.configDir
}

// EnsureConfigDir ensures the configuration directory exists.
func (p *Persistence) EnsureConfigDir() error {
	return os.MkdirAll(p.configDir, 0700)
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// saveEncrypted marshals v, encrypts it and writes it with 0600 permissions.
// Caller must hold p.mu.
func (p *Persistence) saveEncrypted(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.EnsureConfigDir(); err != nil {
		return err
	}
	encrypted, err := p.crypto.Encrypt(data)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, encrypted, 0600)
}

// loadEncrypted reads and decrypts path into v. Missing files return
// os.ErrNotExist untouched so callers can substitute defaults.
func (p *Persistence) loadEncrypted(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	decrypted, err := p.crypto.Decrypt(data)
	if err != nil {
		return fmt.Errorf("failed to decrypt %s: %w", filepath.Base(path), err)
	}
	return json.Unmarshal(decrypted, v)
}

func (p *Persistence) saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := p.EnsureConfigDir(); err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0644)
}

func (p *Persistence) loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// StoredDevice is the on-disk form of a device. It carries the auth token;
// the encrypted envelope keeps it off cleartext storage.
type StoredDevice struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	AuthToken    string    `json:"authToken"`
	Name         string    `json:"name"`
	Enabled      bool      `json:"enabled"`
	MonitorIface string    `json:"monitorInterface"`
	WANIface     string    `json:"wanInterface"`
	VerifyTLS    bool      `json:"verifyTls"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Model converts the stored form to the domain type.
func (s StoredDevice) Model() models.Device {
	return models.Device{
		ID:           s.ID,
		Address:      s.Address,
		AuthToken:    s.AuthToken,
		Name:         s.Name,
		Enabled:      s.Enabled,
		MonitorIface: s.MonitorIface,
		WANIface:     s.WANIface,
		VerifyTLS:    s.VerifyTLS,
		Fingerprint:  s.Fingerprint,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func storedFromModel(d models.Device) StoredDevice {
	return StoredDevice{
		ID:           d.ID,
		Address:      d.Address,
		AuthToken:    d.AuthToken,
		Name:         d.Name,
		Enabled:      d.Enabled,
		MonitorIface: d.MonitorIface,
		WANIface:     d.WANIface,
		VerifyTLS:    d.VerifyTLS,
		Fingerprint:  d.Fingerprint,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// SaveDevices writes the device list to the encrypted store.
func (p *Persistence) SaveDevices(devices []models.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored := make([]StoredDevice, 0, len(devices))
	for _, d := range devices {
		stored = append(stored, storedFromModel(d))
	}
	if err := p.saveEncrypted(p.devicesFile, stored); err != nil {
		return err
	}

	log.Info().
		Str("file", p.devicesFile).
		Int("devices", len(stored)).
		Msg("Device configuration saved")
	return nil
}

// LoadDevices reads the device list. A missing file yields an empty list.
func (p *Persistence) LoadDevices() ([]models.Device, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var stored []StoredDevice
	if err := p.loadEncrypted(p.devicesFile, &stored); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	devices := make([]models.Device, 0, len(stored))
	for _, s := range stored {
		devices = append(devices, s.Model())
	}
	return devices, nil
}

// SaveMetadata writes endpoint metadata (non-secret).
func (p *Persistence) SaveMetadata(meta []*models.DeviceMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveJSON(p.metadataFile, meta)
}

// LoadMetadata reads endpoint metadata. A missing file yields an empty list.
func (p *Persistence) LoadMetadata() ([]*models.DeviceMetadata, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var meta []*models.DeviceMetadata
	if err := p.loadJSON(p.metadataFile, &meta); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return meta, nil
}

// SaveAlertConfigs writes alert rules (non-secret).
func (p *Persistence) SaveAlertConfigs(configs []models.AlertConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveJSON(p.alertsFile, configs)
}

// LoadAlertConfigs reads alert rules. A missing file yields an empty list.
func (p *Persistence) LoadAlertConfigs() ([]models.AlertConfig, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var configs []models.AlertConfig
	if err := p.loadJSON(p.alertsFile, &configs); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return configs, nil
}

// SaveMaintenanceWindows writes maintenance windows (non-secret).
func (p *Persistence) SaveMaintenanceWindows(windows []models.MaintenanceWindow) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveJSON(p.maintenanceFile, windows)
}

// LoadMaintenanceWindows reads maintenance windows.
func (p *Persistence) LoadMaintenanceWindows() ([]models.MaintenanceWindow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var windows []models.MaintenanceWindow
	if err := p.loadJSON(p.maintenanceFile, &windows); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return windows, nil
}

// SaveChannels writes notification channels to the encrypted store. Channel
// settings carry SMTP credentials and webhook URLs, which are secrets.
func (p *Persistence) SaveChannels(channels []notify.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.saveEncrypted(p.channelsFile, channels); err != nil {
		return err
	}
	log.Info().
		Str("file", p.channelsFile).
		Int("channels", len(channels)).
		Msg("Notification channels saved")
	return nil
}

// LoadChannels reads notification channels.
func (p *Persistence) LoadChannels() ([]notify.Channel, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var channels []notify.Channel
	if err := p.loadEncrypted(p.channelsFile, &channels); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return channels, nil
}

// SaveScheduledScans writes scan schedules (non-secret).
func (p *Persistence) SaveScheduledScans(scans []models.ScheduledScan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveJSON(p.scansFile, scans)
}

// LoadScheduledScans reads scan schedules.
func (p *Persistence) LoadScheduledScans() ([]models.ScheduledScan, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var scans []models.ScheduledScan
	if err := p.loadJSON(p.scansFile, &scans); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return scans, nil
}

// SaveSystemSettings writes system.json.
func (p *Persistence) SaveSystemSettings(settings SystemSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveJSON(p.systemFile, settings)
}

// LoadSystemSettings reads system.json. Returns (nil, nil) when absent.
func (p *Persistence) LoadSystemSettings() (*SystemSettings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var settings SystemSettings
	if err := p.loadJSON(p.systemFile, &settings); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

// CreateBackup copies a config file aside with a timestamp suffix and returns
// the backup path. Used by migrations that must be able to roll back.
func (p *Persistence) CreateBackup(filename string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := filepath.Join(p.configDir, filename)
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}

	backup := fmt.Sprintf("%s.backup-%s", src, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backup, data, 0600); err != nil {
		return "", err
	}

	p.cleanupOldBackups(filepath.Base(src) + ".backup-*")
	return backup, nil
}

// cleanupOldBackups keeps the five most recent backups matching pattern.
// Caller must hold p.mu.
func (p *Persistence) cleanupOldBackups(pattern string) {
	matches, err := filepath.Glob(filepath.Join(p.configDir, pattern))
	if err != nil || len(matches) <= 5 {
		return
	}

	sort.Strings(matches)
	for _, old := range matches[:len(matches)-5] {
		if !strings.Contains(old, ".backup-") {
			continue
		}
		if err := os.Remove(old); err != nil {
			log.Warn().Str("file", old).Err(err).Msg("Failed to remove old backup")
		}
	}
}
