package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/protocol/wire"
	"github.com/danmuck/deskwire/internal/testutil/testlog"
	"github.com/danmuck/deskwire/internal/testutil/tlstest"
)

func TestValidateClientProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: SecurityModeProduction}
	if err := cfg.ValidateClient(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateClient(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestValidateClientMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClient(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClient(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClient(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClient(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateServerProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: SecurityModeProduction}
	if err := cfg.ValidateServer(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateServer(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func echoOneFrame(t *testing.T, ln net.Listener, done chan<- error) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		done <- err
		return
	}
	defer conn.Close()
	m, err := protocol.DecodeMessage(conn, wire.DefaultLimits())
	if err != nil {
		done <- err
		return
	}
	done <- protocol.WriteMessage(conn, m)
}

func TestListenDialPlaintextRoundTrip(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: SecurityModeDevelopment}

	ln, err := Listen("127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go echoOneFrame(t, ln, done)

	conn, err := Dial(context.Background(), ln.Addr().String(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sent := protocol.MouseButton{Button: protocol.ButtonLeft, State: protocol.ButtonPressed}
	if err := protocol.WriteMessage(conn, sent); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := protocol.DecodeMessage(conn, wire.DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != sent {
		t.Fatalf("round trip mismatch: got=%#v want=%#v", got, sent)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestListenDialMutualTLSRoundTrip(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "deskwire-test-ca")
	srvCert, srvKey := ca.IssueServerCert(t, dir, "bridge.local", []string{"bridge.local"}, []net.IP{net.ParseIP("127.0.0.1")})
	cliCert, cliKey := ca.IssueClientCert(t, dir, "viewer.alice")

	serverCfg := Config{
		SecurityMode: SecurityModeProduction,
		TLS: TLSConfig{
			Enabled:  true,
			Mutual:   true,
			CertFile: srvCert,
			KeyFile:  srvKey,
			CAFile:   ca.CAFile(),
		},
	}
	clientCfg := Config{
		SecurityMode: SecurityModeProduction,
		TLS: TLSConfig{
			Enabled:    true,
			Mutual:     true,
			CertFile:   cliCert,
			KeyFile:    cliKey,
			CAFile:     ca.CAFile(),
			ServerName: "bridge.local",
		},
	}

	ln, err := Listen("127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go echoOneFrame(t, ln, done)

	conn, err := Dial(context.Background(), ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sent := protocol.ClientUsername{Username: "alice"}
	if err := protocol.WriteMessage(conn, sent); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := protocol.DecodeMessage(conn, wire.DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.(protocol.ClientUsername).Username != "alice" {
		t.Fatalf("round trip mismatch: %#v", got)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestMutualTLSRejectsClientWithoutCert(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "deskwire-test-ca")
	srvCert, srvKey := ca.IssueServerCert(t, dir, "bridge.local", []string{"bridge.local"}, []net.IP{net.ParseIP("127.0.0.1")})

	serverCfg := Config{
		SecurityMode: SecurityModeProduction,
		TLS: TLSConfig{
			Enabled:  true,
			Mutual:   true,
			CertFile: srvCert,
			KeyFile:  srvKey,
			CAFile:   ca.CAFile(),
		},
	}
	clientCfg := Config{
		SecurityMode: SecurityModeDevelopment,
		TLS: TLSConfig{
			Enabled:    true,
			CAFile:     ca.CAFile(),
			ServerName: "bridge.local",
		},
	}

	ln, err := Listen("127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			// Drive the handshake so the missing client cert surfaces.
			buf := make([]byte, 1)
			_, _ = conn.Read(buf)
			conn.Close()
		}
	}()

	_, err = Dial(context.Background(), ln.Addr().String(), clientCfg)
	if err == nil {
		t.Fatalf("dial without client cert should fail")
	}
}

func TestWSConnRoundTrip(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: SecurityModeDevelopment}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := AcceptWS(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			m, err := protocol.DecodeMessage(ws, wire.DefaultLimits())
			if err != nil {
				return
			}
			if err := protocol.WriteMessage(ws, m); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := DialWS(context.Background(), url, cfg, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer ws.Close()

	for _, sent := range []protocol.Message{
		protocol.MouseMove{X: 7, Y: 8},
		protocol.ClipboardData{Data: []byte("shared text")},
	} {
		if err := protocol.WriteMessage(ws, sent); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		got, err := protocol.DecodeMessage(ws, wire.DefaultLimits())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if protocol.TypeOf(got) != protocol.TypeOf(sent) {
			t.Fatalf("echo mismatch: got=%v want=%v", protocol.TypeOf(got), protocol.TypeOf(sent))
		}
	}
}

func TestAcceptWSRejectsForeignOrigin(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: SecurityModeDevelopment}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := AcceptWS(w, r, []string{"http://localhost:3000"}); err != nil {
			return
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	if _, err := DialWS(context.Background(), url, cfg, header); err == nil {
		t.Fatalf("foreign origin should be rejected")
	}
}
