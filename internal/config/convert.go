package config

import (
	"strings"
	"time"

	"github.com/danmuck/deskwire/internal/bridge"
	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/transport"
	"github.com/danmuck/deskwire/internal/viewer"
)

// BridgeService converts a validated schema into the daemon runtime
// config, filling unset fields from the daemon defaults.
func BridgeService(cfg BridgeConfig) (bridge.ServiceConfig, error) {
	out := bridge.DefaultServiceConfig()

	out.BridgeID = cfg.BridgeID
	out.Listen.Addr = cfg.Addr
	out.Listen.WSAddr = cfg.WSAddr
	if cfg.WSPath != "" {
		out.Listen.WSPath = cfg.WSPath
	}
	if len(cfg.CorsOrigins) > 0 {
		out.Listen.AllowedOrigins = cfg.CorsOrigins
	}
	out.DiagAddr = cfg.DiagAddr
	out.AuthToken = cfg.AuthToken
	out.AllowClipboard = !cfg.DisableClipboard
	if cfg.Backend != "" {
		out.BackendName = cfg.Backend
	}
	if cfg.InputRatePerSec != 0 {
		out.InputRatePerSec = cfg.InputRatePerSec
	}
	if cfg.InputRateBurst != 0 {
		out.InputRateBurst = cfg.InputRateBurst
	}
	out.RecordPath = cfg.RecordPath
	if cfg.MaxFrameBytes != 0 {
		out.Session.Limits.MaxVariableLen = cfg.MaxFrameBytes
	}

	if d, err := parseDuration(cfg.Heartbeat); err != nil {
		return bridge.ServiceConfig{}, err
	} else if d > 0 {
		out.HeartbeatInterval = d
	}

	out.Transport = transportConfig(cfg.SecurityMode, cfg.TLS)

	out.MFA.Require = cfg.MFA.Require
	if t, ok := mfaType(cfg.MFA.Type); ok {
		out.MFA.Type = t
	}
	if d, err := parseDuration(cfg.MFA.Timeout); err != nil {
		return bridge.ServiceConfig{}, err
	} else if d > 0 {
		out.MFA.Timeout = d
	}
	if d, err := parseDuration(cfg.MFA.SweepInterval); err != nil {
		return bridge.ServiceConfig{}, err
	} else if d > 0 {
		out.MFA.SweepInterval = d
	}

	return out, nil
}

// ViewerClient converts a validated schema into the viewer runtime
// config.
func ViewerClient(cfg ViewerConfig) (viewer.Config, error) {
	out := viewer.DefaultConfig()

	out.Addr = cfg.Addr
	out.URL = cfg.URL
	out.Username = cfg.Username
	if cfg.Width != 0 {
		out.Width = cfg.Width
	}
	if cfg.Height != 0 {
		out.Height = cfg.Height
	}
	out.AuthToken = cfg.AuthToken
	if cfg.MaxAttempts != 0 {
		out.MaxAttempts = cfg.MaxAttempts
	}
	out.Transport = transportConfig(cfg.SecurityMode, cfg.TLS)

	return out, nil
}

func transportConfig(mode string, tlsCfg TLSConfig) transport.Config {
	return transport.Config{
		SecurityMode: transport.NormalizeSecurityMode(transport.SecurityMode(mode)),
		TLS: transport.TLSConfig{
			Enabled:    tlsCfg.Enabled,
			Mutual:     tlsCfg.Mutual,
			CertFile:   tlsCfg.CertFile,
			KeyFile:    tlsCfg.KeyFile,
			CAFile:     tlsCfg.CAFile,
			ServerName: tlsCfg.ServerName,
		},
	}
}

func mfaType(kind string) (protocol.MFAType, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "webauthn":
		return protocol.MFATypeWebAuthn, true
	case "u2f":
		return protocol.MFATypeU2F, true
	default:
		return 0, false
	}
}

func parseDuration(value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}
