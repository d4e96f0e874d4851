package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/transport"
)

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BridgeID != "bridge.lab" {
		t.Fatalf("unexpected bridge id: %q", cfg.BridgeID)
	}
	if cfg.Listen.Addr != "127.0.0.1:7410" {
		t.Fatalf("unexpected addr: %q", cfg.Listen.Addr)
	}
	if cfg.Listen.WSAddr != "127.0.0.1:7411" {
		t.Fatalf("unexpected ws addr: %q", cfg.Listen.WSAddr)
	}
	if cfg.Listen.WSPath != "/session" {
		t.Fatalf("unexpected ws path: %q", cfg.Listen.WSPath)
	}
	if cfg.DiagAddr != "127.0.0.1:7412" {
		t.Fatalf("unexpected diag addr: %q", cfg.DiagAddr)
	}
	if len(cfg.Listen.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %+v", cfg.Listen.AllowedOrigins)
	}
	if cfg.AuthToken != "temp-auth-key" {
		t.Fatalf("unexpected auth token: %q", cfg.AuthToken)
	}
	if !cfg.AllowClipboard {
		t.Fatalf("expected clipboard allowed")
	}
	if cfg.BackendName != "demo" {
		t.Fatalf("unexpected backend: %q", cfg.BackendName)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Fatalf("unexpected heartbeat: %v", cfg.HeartbeatInterval)
	}
	if cfg.Session.Limits.MaxVariableLen != 8<<20 {
		t.Fatalf("unexpected frame cap: %d", cfg.Session.Limits.MaxVariableLen)
	}
	if cfg.Transport.SecurityMode != transport.SecurityModeDevelopment {
		t.Fatalf("unexpected security mode: %q", cfg.Transport.SecurityMode)
	}
	if cfg.Transport.TLS.Enabled {
		t.Fatalf("expected tls disabled")
	}
	if cfg.Transport.TLS.Mutual {
		t.Fatalf("expected mtls disabled")
	}
	if cfg.MFA.Require {
		t.Fatalf("expected mfa optional")
	}
	if cfg.MFA.Type != protocol.MFATypeWebAuthn {
		t.Fatalf("unexpected mfa type: %v", cfg.MFA.Type)
	}
	if cfg.MFA.Timeout != 30*time.Second {
		t.Fatalf("unexpected mfa timeout: %v", cfg.MFA.Timeout)
	}
	if cfg.MFA.SweepInterval != 5*time.Second {
		t.Fatalf("unexpected mfa sweep: %v", cfg.MFA.SweepInterval)
	}
}

func TestLoadServiceConfigHeartbeatMillis(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
heartbeat_interval_ms = 1200
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HeartbeatInterval != 1200*time.Millisecond {
		t.Fatalf("unexpected heartbeat: %v", cfg.HeartbeatInterval)
	}
}

func TestLoadServiceConfigKeepsDefaultsForAbsentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
bridge_id = "bridge.override"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BridgeID != "bridge.override" {
		t.Fatalf("unexpected bridge id: %q", cfg.BridgeID)
	}
	if cfg.Listen.Addr != "127.0.0.1:7410" {
		t.Fatalf("default addr lost: %q", cfg.Listen.Addr)
	}
	if !cfg.AllowClipboard {
		t.Fatalf("default clipboard policy lost")
	}
	if cfg.HeartbeatInterval != 15*time.Second {
		t.Fatalf("default heartbeat lost: %v", cfg.HeartbeatInterval)
	}
}

func TestLoadServiceConfigBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
heartbeat = "abc"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := loadServiceConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadServiceConfigBadMFAType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[mfa]
type = "sms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := loadServiceConfig(path); err == nil {
		t.Fatalf("expected mfa type error")
	}
}
