package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/deskwire/internal/bridge"
	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/transport"
)

type fileConfig struct {
	BridgeID            string    `toml:"bridge_id"`
	Addr                string    `toml:"addr"`
	WSAddr              string    `toml:"ws_addr"`
	WSPath              string    `toml:"ws_path"`
	DiagAddr            string    `toml:"diag_addr"`
	CorsOrigins         []string  `toml:"cors_origins"`
	AuthToken           string    `toml:"auth_token"`
	AllowClipboard      bool      `toml:"allow_clipboard"`
	Backend             string    `toml:"backend"`
	InputRatePerSec     float64   `toml:"input_rate_per_sec"`
	InputRateBurst      int       `toml:"input_rate_burst"`
	RecordPath          string    `toml:"record_path"`
	Heartbeat           string    `toml:"heartbeat"`
	HeartbeatIntervalMS int64     `toml:"heartbeat_interval_ms"`
	MaxFrameBytes       uint32    `toml:"max_frame_bytes"`
	SecurityMode        string    `toml:"security_mode"`
	TLS                 tlsConfig `toml:"tls"`
	MFA                 mfaConfig `toml:"mfa"`
}

type tlsConfig struct {
	Enabled    bool   `toml:"enabled"`
	Mutual     bool   `toml:"mutual"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	CAFile     string `toml:"ca_file"`
	ServerName string `toml:"server_name"`
}

type mfaConfig struct {
	Require       bool   `toml:"require"`
	Type          string `toml:"type"`
	Timeout       string `toml:"timeout"`
	SweepInterval string `toml:"sweep_interval"`
}

// loadServiceConfig overlays the file onto the daemon defaults. Only
// keys present in the file override; absent keys keep their defaults.
func loadServiceConfig(path string) (bridge.ServiceConfig, error) {
	cfg := bridge.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return bridge.ServiceConfig{}, fmt.Errorf("load bridge config: %w", err)
	}

	if meta.IsDefined("bridge_id") {
		id := strings.TrimSpace(raw.BridgeID)
		if id != "" {
			cfg.BridgeID = id
		}
	}

	if meta.IsDefined("addr") {
		cfg.Listen.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("ws_addr") {
		cfg.Listen.WSAddr = strings.TrimSpace(raw.WSAddr)
	}
	if meta.IsDefined("ws_path") {
		cfg.Listen.WSPath = strings.TrimSpace(raw.WSPath)
	}
	if meta.IsDefined("diag_addr") {
		cfg.DiagAddr = strings.TrimSpace(raw.DiagAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Listen.AllowedOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("allow_clipboard") {
		cfg.AllowClipboard = raw.AllowClipboard
	}
	if meta.IsDefined("backend") {
		cfg.BackendName = strings.TrimSpace(raw.Backend)
	}
	if meta.IsDefined("input_rate_per_sec") {
		cfg.InputRatePerSec = raw.InputRatePerSec
	}
	if meta.IsDefined("input_rate_burst") {
		cfg.InputRateBurst = raw.InputRateBurst
	}
	if meta.IsDefined("record_path") {
		cfg.RecordPath = strings.TrimSpace(raw.RecordPath)
	}

	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return bridge.ServiceConfig{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	if meta.IsDefined("heartbeat_interval_ms") {
		cfg.HeartbeatInterval = time.Duration(raw.HeartbeatIntervalMS) * time.Millisecond
	}

	if meta.IsDefined("max_frame_bytes") {
		cfg.Session.Limits.MaxVariableLen = raw.MaxFrameBytes
	}

	if meta.IsDefined("security_mode") {
		cfg.Transport.SecurityMode = transport.NormalizeSecurityMode(transport.SecurityMode(raw.SecurityMode))
	}
	if meta.IsDefined("tls") {
		cfg.Transport.TLS = transport.TLSConfig{
			Enabled:    raw.TLS.Enabled,
			Mutual:     raw.TLS.Mutual,
			CertFile:   strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:    strings.TrimSpace(raw.TLS.KeyFile),
			CAFile:     strings.TrimSpace(raw.TLS.CAFile),
			ServerName: strings.TrimSpace(raw.TLS.ServerName),
		}
	}

	if meta.IsDefined("mfa", "require") {
		cfg.MFA.Require = raw.MFA.Require
	}
	if meta.IsDefined("mfa", "type") {
		t, err := parseMFAType(raw.MFA.Type)
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg.MFA.Type = t
	}
	if meta.IsDefined("mfa", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.MFA.Timeout))
		if err != nil {
			return bridge.ServiceConfig{}, fmt.Errorf("parse mfa timeout: %w", err)
		}
		cfg.MFA.Timeout = d
	}
	if meta.IsDefined("mfa", "sweep_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.MFA.SweepInterval))
		if err != nil {
			return bridge.ServiceConfig{}, fmt.Errorf("parse mfa sweep interval: %w", err)
		}
		cfg.MFA.SweepInterval = d
	}

	return cfg, nil
}

func parseMFAType(kind string) (protocol.MFAType, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "webauthn":
		return protocol.MFATypeWebAuthn, nil
	case "u2f":
		return protocol.MFATypeU2F, nil
	default:
		return 0, fmt.Errorf("mfa type must be webauthn or u2f, got %q", kind)
	}
}

func normalizeOrigins(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
