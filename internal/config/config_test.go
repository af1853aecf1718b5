package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Role != "central" {
		t.Errorf("Role = %q, want %q", cfg.Role, "central")
	}
	if cfg.Peripheral.Name != "beeplink" {
		t.Errorf("Peripheral.Name = %q, want %q", cfg.Peripheral.Name, "beeplink")
	}
	if cfg.Peripheral.AdvertiseInterval != 500*time.Millisecond {
		t.Errorf("Peripheral.AdvertiseInterval = %v, want 500ms", cfg.Peripheral.AdvertiseInterval)
	}
	if cfg.Peripheral.BufferSize != 64 {
		t.Errorf("Peripheral.BufferSize = %d, want 64", cfg.Peripheral.BufferSize)
	}
	if cfg.Central.ScanDuration != 30*time.Second {
		t.Errorf("Central.ScanDuration = %v, want 30s", cfg.Central.ScanDuration)
	}
	if cfg.Central.ScanInterval != 30*time.Millisecond || cfg.Central.ScanWindow != 30*time.Millisecond {
		t.Errorf("Central scan interval/window = %v/%v, want 30ms/30ms", cfg.Central.ScanInterval, cfg.Central.ScanWindow)
	}
	if cfg.Central.ReconnectMax != 30 {
		t.Errorf("Central.ReconnectMax = %d, want 30", cfg.Central.ReconnectMax)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
role: peripheral
peripheral:
  name: zip96
  advertise_interval: 250ms
  buffer_size: 128
central:
  scan_duration: 5s
  peer_address: " AA:BB:CC:DD:EE:FF "
  reconnect_max: 15
game:
  move_interval: 500ms
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Role != "peripheral" {
		t.Errorf("Role = %q, want %q", cfg.Role, "peripheral")
	}
	if cfg.Peripheral.Name != "zip96" {
		t.Errorf("Peripheral.Name = %q, want %q", cfg.Peripheral.Name, "zip96")
	}
	if cfg.Peripheral.AdvertiseInterval != 250*time.Millisecond {
		t.Errorf("Peripheral.AdvertiseInterval = %v, want 250ms", cfg.Peripheral.AdvertiseInterval)
	}
	if cfg.Peripheral.BufferSize != 128 {
		t.Errorf("Peripheral.BufferSize = %d, want 128", cfg.Peripheral.BufferSize)
	}
	if cfg.Central.ScanDuration != 5*time.Second {
		t.Errorf("Central.ScanDuration = %v, want 5s", cfg.Central.ScanDuration)
	}
	if cfg.Central.PeerAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Central.PeerAddress = %q, want trimmed address", cfg.Central.PeerAddress)
	}
	if cfg.Central.ReconnectMax != 15 {
		t.Errorf("Central.ReconnectMax = %d, want 15", cfg.Central.ReconnectMax)
	}
	if cfg.Game.MoveInterval != 500*time.Millisecond {
		t.Errorf("Game.MoveInterval = %v, want 500ms", cfg.Game.MoveInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}

	// Fields absent from the file keep their defaults.
	if cfg.Central.ScanWindow != 30*time.Millisecond {
		t.Errorf("Central.ScanWindow = %v, want default 30ms", cfg.Central.ScanWindow)
	}
	if cfg.Central.ConnectTimeout != 10*time.Second {
		t.Errorf("Central.ConnectTimeout = %v, want default 10s", cfg.Central.ConnectTimeout)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("central: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "valid peripheral role",
			modify:  func(c *Config) { c.Role = "peripheral" },
			wantErr: false,
		},
		{
			name:    "valid peer address",
			modify:  func(c *Config) { c.Central.PeerAddress = "aa:bb:cc:dd:ee:ff" },
			wantErr: false,
		},
		{
			name:    "invalid role",
			modify:  func(c *Config) { c.Role = "observer" },
			wantErr: true,
		},
		{
			name:    "empty name",
			modify:  func(c *Config) { c.Peripheral.Name = "" },
			wantErr: true,
		},
		{
			name:    "name too long",
			modify:  func(c *Config) { c.Peripheral.Name = strings.Repeat("x", 17) },
			wantErr: true,
		},
		{
			name:    "zero advertise interval",
			modify:  func(c *Config) { c.Peripheral.AdvertiseInterval = 0 },
			wantErr: true,
		},
		{
			name:    "small buffer",
			modify:  func(c *Config) { c.Peripheral.BufferSize = 20 },
			wantErr: true,
		},
		{
			name:    "zero scan duration",
			modify:  func(c *Config) { c.Central.ScanDuration = 0 },
			wantErr: true,
		},
		{
			name:    "window exceeds interval",
			modify:  func(c *Config) { c.Central.ScanWindow = time.Second },
			wantErr: true,
		},
		{
			name:    "bad peer address",
			modify:  func(c *Config) { c.Central.PeerAddress = "AA:BB:CC" },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.Central.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero reconnect max",
			modify:  func(c *Config) { c.Central.ReconnectMax = 0 },
			wantErr: true,
		},
		{
			name:    "zero move interval",
			modify:  func(c *Config) { c.Game.MoveInterval = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "beeplink", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# beeplink") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Peripheral.AdvertiseInterval != 500*time.Millisecond {
		t.Errorf("written config Peripheral.AdvertiseInterval = %v, want 500ms", cfg.Peripheral.AdvertiseInterval)
	}
	if cfg.Central.ScanDuration != 30*time.Second {
		t.Errorf("written config Central.ScanDuration = %v, want 30s", cfg.Central.ScanDuration)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "beeplink")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("role: peripheral\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
