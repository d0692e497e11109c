package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultSerialBaud = 9600

	defaultGuardIntervalMs    = 1000
	defaultDiscoveryWindowSec = 15
	defaultAmbientTimeoutSec  = 20
	defaultDatabaseFile       = "peers.db"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig holds the serial line parameters.
type ConnectionConfig struct {
	SerialPort string `json:"serial_port"`
	SerialBaud int    `json:"serial_baud"`
}

// DeviceConfig tunes session timing. Values are plain integers so the file
// stays hand-editable.
type DeviceConfig struct {
	// GuardIntervalMs is the silence held around the command-mode escape
	// sequence.
	GuardIntervalMs int `json:"guard_interval_ms"`
	// DiscoveryWindowSec bounds how long a discovery run listens.
	DiscoveryWindowSec int `json:"discovery_window_sec"`
	// AmbientTimeoutSec is the transport's resting read timeout.
	AmbientTimeoutSec int `json:"ambient_timeout_sec"`
	// DatabaseFile stores discovered peers; relative paths resolve against
	// the config directory.
	DatabaseFile string `json:"database_file"`
}

// AppConfig is the root persisted configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Device     DeviceConfig     `json:"device"`
	Logging    LoggingConfig    `json:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			SerialPort: "",
			SerialBaud: DefaultSerialBaud,
		},
		Device: DeviceConfig{
			GuardIntervalMs:    defaultGuardIntervalMs,
			DiscoveryWindowSec: defaultDiscoveryWindowSec,
			AmbientTimeoutSec:  defaultAmbientTimeoutSec,
			DatabaseFile:       defaultDatabaseFile,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
	}
}

func (c DeviceConfig) GuardInterval() time.Duration {
	return time.Duration(c.GuardIntervalMs) * time.Millisecond
}

func (c DeviceConfig) DiscoveryWindow() time.Duration {
	return time.Duration(c.DiscoveryWindowSec) * time.Second
}

func (c DeviceConfig) AmbientTimeout() time.Duration {
	return time.Duration(c.AmbientTimeoutSec) * time.Second
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by the entrypoint and points to the user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Device.GuardIntervalMs <= 0 {
		c.Device.GuardIntervalMs = defaultGuardIntervalMs
	}
	if c.Device.DiscoveryWindowSec <= 0 {
		c.Device.DiscoveryWindowSec = defaultDiscoveryWindowSec
	}
	if c.Device.AmbientTimeoutSec <= 0 {
		c.Device.AmbientTimeoutSec = defaultAmbientTimeoutSec
	}
	if strings.TrimSpace(c.Device.DatabaseFile) == "" {
		c.Device.DatabaseFile = defaultDatabaseFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Connection.SerialPort) == "" {
		return errors.New("serial port is required")
	}
	if c.Connection.SerialBaud <= 0 {
		return errors.New("serial baud must be positive")
	}
	if c.Device.GuardIntervalMs <= 0 {
		return errors.New("guard interval must be positive")
	}
	if c.Device.DiscoveryWindowSec <= 0 {
		return errors.New("discovery window must be positive")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}

// DefaultPaths resolves the user config dir locations for the config file,
// log file, and peer database.
func DefaultPaths() (configFile, logFile, dbFile string, err error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", "", "", fmt.Errorf("resolve user config dir: %w", err)
	}
	dir := filepath.Join(base, "digimesh")

	return filepath.Join(dir, "config.json"),
		filepath.Join(dir, "digimesh.log"),
		filepath.Join(dir, defaultDatabaseFile),
		nil
}
