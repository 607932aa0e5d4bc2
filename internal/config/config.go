// ABOUTME: healthsync configuration with storage backend selection and env overrides.
// ABOUTME: Reads the XDG JSON config file, applies HEALTHSYNC_* variables, opens the KV store.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/healthsync/internal/kvstore"
	"github.com/harperreed/healthsync/internal/models"
)

const (
	appName = "healthsync"

	// DefaultSource names the data source when none is configured.
	DefaultSource = "export"
	// DefaultMaxLookbackDays matches the platform history limit of most phones.
	DefaultMaxLookbackDays = 30

	floorLayout = "2006-01-02"
)

// Config stores healthsync configuration.
type Config struct {
	// Backend selects the KV store: "badger" (default), "charm", "sqlite" or "memory".
	Backend string `json:"backend,omitempty"`

	// DataDir is the root directory for local state.
	// Supports ~ expansion for home directory. Defaults to ~/.local/share/healthsync.
	DataDir string `json:"data_dir,omitempty"`

	// DisableAutoSync stops the charm backend from pushing after every write.
	DisableAutoSync bool `json:"disable_auto_sync,omitempty"`

	Source    string `json:"source,omitempty"`
	ExportDir string `json:"export_dir,omitempty"`
	UploadURL string `json:"upload_url,omitempty"`
	Token     string `json:"token,omitempty"`

	// FloorDate (YYYY-MM-DD) is the earliest day ever synced.
	FloorDate       string `json:"floor_date,omitempty"`
	MaxLookbackDays *int   `json:"max_lookback_days,omitempty"`

	IntradayInterval string `json:"intraday_interval,omitempty"`
	DailyInterval    string `json:"daily_interval,omitempty"`
	ProfileInterval  string `json:"profile_interval,omitempty"`

	LogLevel    string `json:"log_level,omitempty"`
	LogFile     string `json:"log_file,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// GetBackend returns the configured backend, defaulting to "badger".
func (c *Config) GetBackend() string {
	if c.Backend == "" {
		return "badger"
	}
	return c.Backend
}

// GetDataDir returns the configured data directory with ~ expanded,
// defaulting to the standard XDG data directory.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return DataDir()
	}
	return ExpandPath(c.DataDir)
}

// GetSource returns the data source name.
func (c *Config) GetSource() string {
	if c.Source == "" {
		return DefaultSource
	}
	return c.Source
}

// GetExportDir returns the export directory, defaulting to <data dir>/export.
func (c *Config) GetExportDir() string {
	if c.ExportDir == "" {
		return filepath.Join(c.GetDataDir(), "export")
	}
	return ExpandPath(c.ExportDir)
}

// GetMaxLookbackDays returns the lookback limit. Zero or negative means unlimited.
func (c *Config) GetMaxLookbackDays() int {
	if c.MaxLookbackDays == nil {
		return DefaultMaxLookbackDays
	}
	return *c.MaxLookbackDays
}

// GetFloor parses FloorDate as a UTC midnight. Empty means no floor.
func (c *Config) GetFloor() (time.Time, error) {
	if c.FloorDate == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(floorLayout, c.FloorDate, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid floor_date %q: expected YYYY-MM-DD", c.FloorDate)
	}
	return t, nil
}

// GetIntervals parses the per-kind minimum resync intervals. Unset kinds are omitted.
func (c *Config) GetIntervals() (map[models.SyncKind]time.Duration, error) {
	out := make(map[models.SyncKind]time.Duration)
	for kind, raw := range map[models.SyncKind]string{
		models.SyncIntraday: c.IntradayInterval,
		models.SyncDaily:    c.DailyInterval,
		models.SyncProfile:  c.ProfileInterval,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid %s_interval %q", kind, raw)
		}
		out[kind] = d
	}
	return out, nil
}

// Validate checks every parsed field.
func (c *Config) Validate() error {
	switch c.GetBackend() {
	case "badger", "charm", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown backend: %q", c.Backend)
	}
	if _, err := c.GetFloor(); err != nil {
		return err
	}
	_, err := c.GetIntervals()
	return err
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DataDir returns the default XDG data directory.
func DataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appName)
}

// OpenStorage creates the KV store for the configured backend.
func (c *Config) OpenStorage(logger *log.Logger) (kvstore.Store, error) {
	dataDir := c.GetDataDir()

	switch backend := c.GetBackend(); backend {
	case "badger":
		return kvstore.OpenBadger(filepath.Join(dataDir, "badger"), logger)
	case "sqlite":
		return kvstore.OpenSQLite(filepath.Join(dataDir, "healthsync.db"))
	case "charm":
		return kvstore.OpenCharm(!c.DisableAutoSync)
	case "memory":
		return kvstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown backend: %q", backend)
	}
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, appName, "config.json")
}

// Load reads config from disk and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := LoadFile()
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFile reads config from disk without environment overrides.
func LoadFile() (*Config, error) {
	path := GetConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from HEALTHSYNC_* environment variables.
func (c *Config) ApplyEnv() {
	c.Backend = getEnv("HEALTHSYNC_BACKEND", c.Backend)
	c.DataDir = getEnv("HEALTHSYNC_DATA_DIR", c.DataDir)
	c.Source = getEnv("HEALTHSYNC_SOURCE", c.Source)
	c.ExportDir = getEnv("HEALTHSYNC_EXPORT_DIR", c.ExportDir)
	c.UploadURL = getEnv("HEALTHSYNC_UPLOAD_URL", c.UploadURL)
	c.Token = getEnv("HEALTHSYNC_TOKEN", c.Token)
	c.FloorDate = getEnv("HEALTHSYNC_FLOOR_DATE", c.FloorDate)
	c.IntradayInterval = getEnv("HEALTHSYNC_INTRADAY_INTERVAL", c.IntradayInterval)
	c.DailyInterval = getEnv("HEALTHSYNC_DAILY_INTERVAL", c.DailyInterval)
	c.ProfileInterval = getEnv("HEALTHSYNC_PROFILE_INTERVAL", c.ProfileInterval)
	c.LogLevel = getEnv("HEALTHSYNC_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("HEALTHSYNC_LOG_FILE", c.LogFile)
	c.MetricsAddr = getEnv("HEALTHSYNC_METRICS_ADDR", c.MetricsAddr)
	if _, ok := os.LookupEnv("HEALTHSYNC_MAX_LOOKBACK_DAYS"); ok {
		days := getIntEnv("HEALTHSYNC_MAX_LOOKBACK_DAYS", c.GetMaxLookbackDays())
		c.MaxLookbackDays = &days
	}
	if v, ok := os.LookupEnv("HEALTHSYNC_DISABLE_AUTO_SYNC"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DisableAutoSync = b
		}
	}
}

// Set assigns a config field by its JSON name.
func (c *Config) Set(key, value string) error {
	switch key {
	case "backend":
		c.Backend = value
	case "data_dir":
		c.DataDir = value
	case "source":
		c.Source = value
	case "export_dir":
		c.ExportDir = value
	case "upload_url":
		c.UploadURL = value
	case "token":
		c.Token = value
	case "floor_date":
		c.FloorDate = value
	case "intraday_interval":
		c.IntradayInterval = value
	case "daily_interval":
		c.DailyInterval = value
	case "profile_interval":
		c.ProfileInterval = value
	case "log_level":
		c.LogLevel = value
	case "log_file":
		c.LogFile = value
	case "metrics_addr":
		c.MetricsAddr = value
	case "max_lookback_days":
		days, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_lookback_days must be an integer: %w", err)
		}
		c.MaxLookbackDays = &days
	case "disable_auto_sync":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("disable_auto_sync must be true or false: %w", err)
		}
		c.DisableAutoSync = b
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return c.Validate()
}

// Save writes config to disk.
func (c *Config) Save() error {
	path := GetConfigPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
