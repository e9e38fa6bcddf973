// Package config manages parapet configuration from multiple sources.
//
// Configuration file separation:
//   - .env: deployment overrides (database URL, listen addresses, log level)
//   - system.json: operator-tunable runtime settings (intervals, retention,
//     scan tool path, nameservers)
//   - devices.enc: encrypted device credentials
//   - channels.enc: encrypted notification channel settings
//   - metadata.json, alerts.json, maintenance.json, scans.json: non-secret
//     operator state
//
// Environment variables always win over file contents.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/models"
)

// Config holds all application configuration.
type Config struct {
	// Paths
	DataPath string

	// Database
	DatabaseURL string

	// Read API and operational endpoints
	ListenAddr    string
	OpsListenAddr string

	// Polling cadences
	ThroughputInterval time.Duration
	InventoryInterval  time.Duration
	ConnectionTimeout  time.Duration

	// Retention, in days, for the raw/hourly/daily tiers
	RawRetentionDays    int
	HourlyRetentionDays int
	DailyRetentionDays  int

	// Alerting
	DefaultCooldown time.Duration

	// Scanning
	NmapPath            string
	ScansPerDevice      int
	ScanResultRetention int // days

	// Reverse DNS
	Nameservers []string
	DNSTimeout  time.Duration

	// Scheduler
	Timezone string

	// Logging settings
	LogLevel    string
	LogFile     string
	LogMaxSize  int // MB
	LogMaxAge   int // days
	LogCompress bool

	// Devices under monitoring, loaded from the encrypted store.
	Devices []models.Device

	// Track which settings are pinned by environment variables.
	EnvOverrides map[string]bool `json:"-"`
}

// SystemSettings is the operator-tunable subset persisted in system.json.
// Zero values mean "keep the default".
type SystemSettings struct {
	ThroughputIntervalSeconds int      `json:"throughputIntervalSeconds,omitempty"`
	InventoryIntervalSeconds  int      `json:"inventoryIntervalSeconds,omitempty"`
	ConnectionTimeoutSeconds  int      `json:"connectionTimeoutSeconds,omitempty"`
	RawRetentionDays          int      `json:"rawRetentionDays,omitempty"`
	HourlyRetentionDays       int      `json:"hourlyRetentionDays,omitempty"`
	DailyRetentionDays        int      `json:"dailyRetentionDays,omitempty"`
	CooldownSeconds           int      `json:"cooldownSeconds,omitempty"`
	NmapPath                  string   `json:"nmapPath,omitempty"`
	ScansPerDevice            int      `json:"scansPerDevice,omitempty"`
	ScanResultRetentionDays   int      `json:"scanResultRetentionDays,omitempty"`
	Nameservers               []string `json:"nameservers,omitempty"`
	DNSTimeoutMillis          int      `json:"dnsTimeoutMillis,omitempty"`
	Timezone                  string   `json:"timezone,omitempty"`
	LogLevel                  string   `json:"logLevel,omitempty"`
}

// DefaultSystemSettings returns the settings written when no system.json
// exists yet.
func DefaultSystemSettings() SystemSettings {
	return SystemSettings{
		ThroughputIntervalSeconds: 5,
		InventoryIntervalSeconds:  60,
		ConnectionTimeoutSeconds:  10,
		RawRetentionDays:          7,
		HourlyRetentionDays:       30,
		DailyRetentionDays:        365,
		CooldownSeconds:           900,
		NmapPath:                  "nmap",
		ScansPerDevice:            3,
		ScanResultRetentionDays:   90,
	}
}

// DataDir resolves the configuration directory.
func DataDir() string {
	if dir := os.Getenv("PARAPET_DATA_DIR"); dir != "" {
		return dir
	}
	return "/etc/parapet"
}

// Load reads configuration: defaults, then persisted files, then environment.
func Load() (*Config, error) {
	dataDir := DataDir()

	// Load .env if present (deployment overrides).
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}
	// Also try the working directory for development setups.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from current directory")
	}

	cfg := &Config{
		DataPath:            dataDir,
		ListenAddr:          "0.0.0.0:7744",
		OpsListenAddr:       "127.0.0.1:9114",
		ThroughputInterval:  5 * time.Second,
		InventoryInterval:   60 * time.Second,
		ConnectionTimeout:   10 * time.Second,
		RawRetentionDays:    7,
		HourlyRetentionDays: 30,
		DailyRetentionDays:  365,
		DefaultCooldown:     15 * time.Minute,
		NmapPath:            "nmap",
		ScansPerDevice:      3,
		ScanResultRetention: 90,
		DNSTimeout:          2500 * time.Millisecond,
		LogLevel:            "info",
		LogMaxSize:          100,
		LogMaxAge:           30,
		LogCompress:         true,
		EnvOverrides:        make(map[string]bool),
	}

	persistence := NewPersistence(dataDir)

	if devices, err := persistence.LoadDevices(); err == nil {
		cfg.Devices = devices
		log.Info().Int("devices", len(devices)).Msg("Loaded device configuration")
	} else {
		log.Warn().Err(err).Msg("Failed to load device configuration")
	}

	if settings, err := persistence.LoadSystemSettings(); err == nil && settings != nil {
		cfg.applySystemSettings(*settings)
		log.Info().
			Dur("throughputInterval", cfg.ThroughputInterval).
			Dur("inventoryInterval", cfg.InventoryInterval).
			Str("logLevel", cfg.LogLevel).
			Msg("Loaded system configuration")
	} else {
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load system settings")
		} else {
			log.Info().Msg("No system.json found, creating default")
			if err := persistence.SaveSystemSettings(DefaultSystemSettings()); err != nil {
				log.Warn().Err(err).Msg("Failed to create default system.json")
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySystemSettings folds non-zero persisted settings into the config.
func (c *Config) applySystemSettings(s SystemSettings) {
	if s.ThroughputIntervalSeconds > 0 {
		c.ThroughputInterval = time.Duration(s.ThroughputIntervalSeconds) * time.Second
	}
	if s.InventoryIntervalSeconds > 0 {
		c.InventoryInterval = time.Duration(s.InventoryIntervalSeconds) * time.Second
	}
	if s.ConnectionTimeoutSeconds > 0 {
		c.ConnectionTimeout = time.Duration(s.ConnectionTimeoutSeconds) * time.Second
	}
	if s.RawRetentionDays > 0 {
		c.RawRetentionDays = s.RawRetentionDays
	}
	if s.HourlyRetentionDays > 0 {
		c.HourlyRetentionDays = s.HourlyRetentionDays
	}
	if s.DailyRetentionDays > 0 {
		c.DailyRetentionDays = s.DailyRetentionDays
	}
	if s.CooldownSeconds > 0 {
		c.DefaultCooldown = time.Duration(s.CooldownSeconds) * time.Second
	}
	if s.NmapPath != "" {
		c.NmapPath = s.NmapPath
	}
	if s.ScansPerDevice > 0 {
		c.ScansPerDevice = s.ScansPerDevice
	}
	if s.ScanResultRetentionDays > 0 {
		c.ScanResultRetention = s.ScanResultRetentionDays
	}
	if len(s.Nameservers) > 0 {
		c.Nameservers = append([]string(nil), s.Nameservers...)
	}
	if s.DNSTimeoutMillis > 0 {
		c.DNSTimeout = time.Duration(s.DNSTimeoutMillis) * time.Millisecond
	}
	if s.Timezone != "" {
		c.Timezone = s.Timezone
	}
	if s.LogLevel != "" {
		c.LogLevel = s.LogLevel
	}
}

func (c *Config) applyEnvOverrides() {
	c.overrideString("PARAPET_DB_URL", &c.DatabaseURL, "databaseUrl")
	if c.DatabaseURL == "" {
		c.overrideString("DATABASE_URL", &c.DatabaseURL, "databaseUrl")
	}
	if c.DatabaseURL == "" {
		if dsn := composeDatabaseDSN(); dsn != "" {
			c.DatabaseURL = dsn
			c.EnvOverrides["databaseUrl"] = true
		}
	}
	c.overrideString("PARAPET_LISTEN", &c.ListenAddr, "listenAddr")
	c.overrideString("PARAPET_OPS_LISTEN", &c.OpsListenAddr, "opsListenAddr")
	c.overrideString("PARAPET_LOG_LEVEL", &c.LogLevel, "logLevel")
	c.overrideString("PARAPET_LOG_FILE", &c.LogFile, "logFile")
	c.overrideString("PARAPET_NMAP_PATH", &c.NmapPath, "nmapPath")
	c.overrideString("PARAPET_TIMEZONE", &c.Timezone, "timezone")

	c.overrideSeconds("PARAPET_THROUGHPUT_INTERVAL", &c.ThroughputInterval, "throughputInterval")
	c.overrideSeconds("PARAPET_INVENTORY_INTERVAL", &c.InventoryInterval, "inventoryInterval")
	c.overrideSeconds("PARAPET_CONNECTION_TIMEOUT", &c.ConnectionTimeout, "connectionTimeout")
	c.overrideSeconds("PARAPET_ALERT_COOLDOWN", &c.DefaultCooldown, "defaultCooldown")

	c.overrideInt("PARAPET_SCANS_PER_DEVICE", &c.ScansPerDevice, "scansPerDevice")
	c.overrideInt("PARAPET_LOG_MAX_SIZE", &c.LogMaxSize, "logMaxSize")
	c.overrideInt("PARAPET_LOG_MAX_AGE", &c.LogMaxAge, "logMaxAge")

	if raw := os.Getenv("PARAPET_NAMESERVERS"); raw != "" {
		var servers []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		c.Nameservers = servers
		c.EnvOverrides["nameservers"] = true
	}
}

// composeDatabaseDSN assembles a keyword/value connection string from the
// individual PARAPET_DB_* parts. A full PARAPET_DB_URL always wins; the
// parts exist for deployments that template host and password separately.
// Returns "" when no part is set.
func composeDatabaseDSN() string {
	host := os.Getenv("PARAPET_DB_HOST")
	port := os.Getenv("PARAPET_DB_PORT")
	user := os.Getenv("PARAPET_DB_USER")
	password := os.Getenv("PARAPET_DB_PASSWORD")
	name := os.Getenv("PARAPET_DB_NAME")
	if host == "" && port == "" && user == "" && password == "" && name == "" {
		return ""
	}

	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	if user == "" {
		user = "parapet"
	}
	if name == "" {
		name = "parapet"
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s", host, port, user, name)
	if password != "" {
		dsn += " password=" + password
	}
	return dsn
}

func (c *Config) overrideString(key string, dst *string, name string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
		c.EnvOverrides[name] = true
	}
}

func (c *Config) overrideInt(key string, dst *int, name string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("var", key).Str("value", v).Msg("Ignoring non-numeric environment override")
			return
		}
		*dst = n
		c.EnvOverrides[name] = true
	}
}

func (c *Config) overrideSeconds(key string, dst *time.Duration, name string) {
	if v := os.Getenv(key); v != "" {
		// Accept both bare seconds ("5") and duration syntax ("5s").
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
			c.EnvOverrides[name] = true
			return
		}
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
			c.EnvOverrides[name] = true
			return
		}
		log.Warn().Str("var", key).Str("value", v).Msg("Ignoring unparseable duration override")
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ThroughputInterval < time.Second {
		return fmt.Errorf("throughput interval %v is below the 1s floor", c.ThroughputInterval)
	}
	if c.InventoryInterval < c.ThroughputInterval {
		return fmt.Errorf("inventory interval %v must not be shorter than throughput interval %v",
			c.InventoryInterval, c.ThroughputInterval)
	}
	if c.ScansPerDevice < 1 {
		return fmt.Errorf("scans per device must be at least 1")
	}
	if c.RawRetentionDays < 1 || c.HourlyRetentionDays < 1 || c.DailyRetentionDays < 1 {
		return fmt.Errorf("retention days must be positive")
	}
	for _, d := range c.Devices {
		if d.Address == "" {
			return fmt.Errorf("device %q has no management address", d.Name)
		}
	}
	return nil
}

// Location resolves the scheduler timezone, defaulting to local time.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Str("timezone", c.Timezone).Err(err).Msg("Unknown timezone, using local")
		return time.Local
	}
	return loc
}
