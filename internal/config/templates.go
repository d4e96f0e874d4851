package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "bridge":
		return bridgeTemplate, nil
	case "viewer":
		return viewerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const bridgeTemplate = `bridge_id = "bridge.local"
addr = "127.0.0.1:7410"
ws_addr = "127.0.0.1:7411"
ws_path = "/session"
diag_addr = "127.0.0.1:7412"
cors_origins = ["http://localhost:3000"]

auth_token = ""
disable_clipboard = false
backend = "demo"
input_rate_per_sec = 400.0
input_rate_burst = 800
record_path = ""
heartbeat = "15s"

security_mode = "development"

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
server_name = ""

[mfa]
require = false
type = "webauthn"
timeout = "30s"
sweep_interval = "5s"
`

const viewerTemplate = `addr = "127.0.0.1:7410"
username = "viewer"
width = 1280
height = 720

auth_token = ""
max_connect_attempts = 5

security_mode = "development"

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
server_name = ""
`
