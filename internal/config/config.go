package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Role       string           `yaml:"role"` // "central" or "peripheral"
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Central    CentralConfig    `yaml:"central"`
	Game       GameConfig       `yaml:"game"`
	LogLevel   string           `yaml:"log_level"`
}

// PeripheralConfig holds advertising and GATT server settings.
type PeripheralConfig struct {
	Name              string        `yaml:"name"`
	AdvertiseInterval time.Duration `yaml:"advertise_interval"`
	BufferSize        int           `yaml:"buffer_size"`
}

// CentralConfig holds scan and connection settings.
type CentralConfig struct {
	ScanDuration   time.Duration `yaml:"scan_duration"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	ScanWindow     time.Duration `yaml:"scan_window"`
	PeerAddress    string        `yaml:"peer_address"` // skip scanning when set
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectMax   int           `yaml:"reconnect_max"` // backoff cap in seconds
}

// GameConfig holds beep test settings.
type GameConfig struct {
	MoveInterval time.Duration `yaml:"move_interval"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "beeplink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Role: "central",
		Peripheral: PeripheralConfig{
			Name:              "beeplink",
			AdvertiseInterval: 500 * time.Millisecond,
			BufferSize:        64,
		},
		Central: CentralConfig{
			ScanDuration:   30 * time.Second,
			ScanInterval:   30 * time.Millisecond,
			ScanWindow:     30 * time.Millisecond,
			ConnectTimeout: 10 * time.Second,
			ReconnectMax:   30,
		},
		Game: GameConfig{
			MoveInterval: 2 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Central.PeerAddress = strings.TrimSpace(cfg.Central.PeerAddress)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Role {
	case "central", "peripheral":
	default:
		return fmt.Errorf("role must be \"central\" or \"peripheral\", got %q", c.Role)
	}

	if c.Peripheral.Name == "" {
		return fmt.Errorf("peripheral.name must not be empty")
	}
	// Flags, name, service list and appearance must fit a 31-byte payload.
	if len(c.Peripheral.Name) > 16 {
		return fmt.Errorf("peripheral.name must be at most 16 bytes, got %d", len(c.Peripheral.Name))
	}
	if c.Peripheral.AdvertiseInterval <= 0 {
		return fmt.Errorf("peripheral.advertise_interval must be > 0")
	}
	if c.Peripheral.BufferSize < 64 {
		return fmt.Errorf("peripheral.buffer_size must be >= 64, got %d", c.Peripheral.BufferSize)
	}

	if c.Central.ScanDuration <= 0 {
		return fmt.Errorf("central.scan_duration must be > 0")
	}
	if c.Central.ScanInterval <= 0 || c.Central.ScanWindow <= 0 {
		return fmt.Errorf("central.scan_interval and central.scan_window must be > 0")
	}
	if c.Central.ScanWindow > c.Central.ScanInterval {
		return fmt.Errorf("central.scan_window (%s) must not exceed central.scan_interval (%s)", c.Central.ScanWindow, c.Central.ScanInterval)
	}
	if c.Central.PeerAddress != "" && !validPeerAddress(c.Central.PeerAddress) {
		return fmt.Errorf("central.peer_address must be AA:BB:CC:DD:EE:FF, got %q", c.Central.PeerAddress)
	}
	if c.Central.ConnectTimeout <= 0 {
		return fmt.Errorf("central.connect_timeout must be > 0")
	}
	if c.Central.ReconnectMax <= 0 {
		return fmt.Errorf("central.reconnect_max must be > 0")
	}

	if c.Game.MoveInterval <= 0 {
		return fmt.Errorf("game.move_interval must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

func validPeerAddress(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 || strings.Trim(p, "0123456789abcdefABCDEF") != "" {
			return false
		}
	}
	return true
}

// ParseLogLevel maps a config log level to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# beeplink configuration
# role: central scans for and connects to a peripheral; peripheral advertises.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
