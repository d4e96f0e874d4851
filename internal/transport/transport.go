package transport

import (
	"context"
	"crypto/tls"
	"net"
)

// Listen opens the bridge listener, TLS-wrapped when enabled.
func Listen(addr string, cfg Config) (net.Listener, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := cfg.ServerTLS()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

// Dial connects a viewer to the bridge, TLS-wrapped when enabled.
func Dial(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	tlsCfg, err := cfg.ClientTLS()
	if err != nil {
		return nil, err
	}
	d := &tls.Dialer{Config: tlsCfg}
	return d.DialContext(ctx, "tcp", addr)
}
