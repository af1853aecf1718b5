// Command beeplink runs one end of the beep test over the host Bluetooth
// adapter. The peripheral advertises the link service; the central finds it,
// connects, reads the start command and then both sides trade moves and
// acknowledge each other's tones, logging the round-trip time.
//
// Usage:
//
//	go run ./cmd/beeplink [--config path] [--role central|peripheral]
//	go run ./cmd/beeplink --init
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/beeplink/internal/ble"
	"github.com/chaz8081/beeplink/internal/config"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/beeplink/config.yaml)")
	role := flag.String("role", "", "override the configured role: central or peripheral")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
			return
		}
		fmt.Println("Wrote default config to", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *role != "" {
		cfg.Role = *role
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	radio := ble.NewHostRadio(bluetooth.DefaultAdapter)
	if err := radio.Enable(); err != nil {
		log.Fatalf("Failed to enable Bluetooth: %v\n\nEnsure Bluetooth is on and this program has permission to use it.", err)
	}
	go func() {
		if err := radio.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("[BLE] radio stopped", "error", err)
		}
	}()

	switch cfg.Role {
	case "peripheral":
		err = runPeripheral(ctx, radio, cfg)
	default:
		err = runCentral(ctx, radio, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%s: %v", cfg.Role, err)
	}
	log.Println("Goodbye!")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== beeplink ===")
	fmt.Printf("  Role:    %s\n", cfg.Role)
	if cfg.Role == "peripheral" {
		fmt.Printf("  Name:    %s (every %s)\n", cfg.Peripheral.Name, cfg.Peripheral.AdvertiseInterval)
	} else {
		peer := cfg.Central.PeerAddress
		if peer == "" {
			peer = "scan"
		}
		fmt.Printf("  Peer:    %s (scan %s)\n", peer, cfg.Central.ScanDuration)
	}
	fmt.Printf("  Moves:   every %s\n", cfg.Game.MoveInterval)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("================")
}
