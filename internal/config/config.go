package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/deskwire/internal/transport"
)

// BridgeConfig is the TOML schema for a bridge daemon. Durations are
// strings in time.ParseDuration form.
type BridgeConfig struct {
	BridgeID    string   `toml:"bridge_id"`
	Addr        string   `toml:"addr"`
	WSAddr      string   `toml:"ws_addr"`
	WSPath      string   `toml:"ws_path"`
	DiagAddr    string   `toml:"diag_addr"`
	CorsOrigins []string `toml:"cors_origins"`

	AuthToken        string  `toml:"auth_token"`
	DisableClipboard bool    `toml:"disable_clipboard"`
	Backend          string  `toml:"backend"`
	InputRatePerSec  float64 `toml:"input_rate_per_sec"`
	InputRateBurst   int     `toml:"input_rate_burst"`
	RecordPath       string  `toml:"record_path"`
	Heartbeat        string  `toml:"heartbeat"`
	MaxFrameBytes    uint32  `toml:"max_frame_bytes"`

	SecurityMode string    `toml:"security_mode"`
	TLS          TLSConfig `toml:"tls"`
	MFA          MFAConfig `toml:"mfa"`
}

// ViewerConfig is the TOML schema for a viewer. Exactly one of addr
// (TCP) or url (websocket) must be set.
type ViewerConfig struct {
	Addr     string `toml:"addr"`
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Width    uint32 `toml:"width"`
	Height   uint32 `toml:"height"`

	AuthToken   string `toml:"auth_token"`
	MaxAttempts int    `toml:"max_connect_attempts"`

	SecurityMode string    `toml:"security_mode"`
	TLS          TLSConfig `toml:"tls"`
}

type TLSConfig struct {
	Enabled    bool   `toml:"enabled"`
	Mutual     bool   `toml:"mutual"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	CAFile     string `toml:"ca_file"`
	ServerName string `toml:"server_name"`
}

type MFAConfig struct {
	Require       bool   `toml:"require"`
	Type          string `toml:"type"`
	Timeout       string `toml:"timeout"`
	SweepInterval string `toml:"sweep_interval"`
}

func LoadBridgeConfig(path string) (BridgeConfig, error) {
	var cfg BridgeConfig
	if err := loadToml(path, &cfg); err != nil {
		return BridgeConfig{}, err
	}
	if cfg.BridgeID == "" {
		cfg.BridgeID = "bridge.local"
	}
	if cfg.Addr == "" && cfg.WSAddr == "" {
		cfg.Addr = "127.0.0.1:7410"
	}
	if cfg.DiagAddr == "" {
		cfg.DiagAddr = "127.0.0.1:7412"
	}
	if err := ValidateBridgeConfig(cfg); err != nil {
		return BridgeConfig{}, err
	}
	return cfg, nil
}

func LoadViewerConfig(path string) (ViewerConfig, error) {
	var cfg ViewerConfig
	if err := loadToml(path, &cfg); err != nil {
		return ViewerConfig{}, err
	}
	if cfg.Addr == "" && cfg.URL == "" {
		cfg.Addr = "127.0.0.1:7410"
	}
	if err := ValidateViewerConfig(cfg); err != nil {
		return ViewerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateBridgeConfig(cfg BridgeConfig) error {
	if strings.TrimSpace(cfg.BridgeID) == "" {
		return fmt.Errorf("bridge config missing bridge_id")
	}
	if strings.TrimSpace(cfg.Addr) == "" && strings.TrimSpace(cfg.WSAddr) == "" {
		return fmt.Errorf("bridge config needs addr or ws_addr")
	}
	if err := validateSecurityMode(cfg.SecurityMode); err != nil {
		return err
	}
	if err := validateDuration("heartbeat", cfg.Heartbeat); err != nil {
		return err
	}
	if cfg.MFA.Require {
		switch strings.ToLower(strings.TrimSpace(cfg.MFA.Type)) {
		case "", "webauthn", "u2f":
		default:
			return fmt.Errorf("bridge config mfa type must be webauthn or u2f, got %q", cfg.MFA.Type)
		}
	}
	if err := validateDuration("mfa.timeout", cfg.MFA.Timeout); err != nil {
		return err
	}
	if err := validateDuration("mfa.sweep_interval", cfg.MFA.SweepInterval); err != nil {
		return err
	}
	return nil
}

func ValidateViewerConfig(cfg ViewerConfig) error {
	if strings.TrimSpace(cfg.Username) == "" {
		return fmt.Errorf("viewer config missing username")
	}
	if strings.TrimSpace(cfg.Addr) == "" && strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("viewer config needs addr or url")
	}
	if strings.TrimSpace(cfg.Addr) != "" && strings.TrimSpace(cfg.URL) != "" {
		return fmt.Errorf("viewer config addr and url are mutually exclusive")
	}
	return validateSecurityMode(cfg.SecurityMode)
}

func validateSecurityMode(mode string) error {
	switch transport.NormalizeSecurityMode(transport.SecurityMode(mode)) {
	case transport.SecurityModeDevelopment, transport.SecurityModeProduction:
		return nil
	default:
		return fmt.Errorf("security_mode must be development or production, got %q", mode)
	}
}

func validateDuration(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if _, err := time.ParseDuration(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	return nil
}
