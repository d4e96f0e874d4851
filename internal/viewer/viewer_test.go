package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/protocol/session"
	"github.com/danmuck/deskwire/internal/testutil/testlog"
)

func TestClientConfigValidation(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		mut  func(cfg *Config)
		want error
	}{
		{
			name: "missing username",
			mut:  func(cfg *Config) { cfg.Addr = "127.0.0.1:1" },
			want: ErrUsernameRequired,
		},
		{
			name: "no endpoint",
			mut:  func(cfg *Config) { cfg.Username = "alice" },
			want: ErrNoEndpoint,
		},
		{
			name: "both endpoints",
			mut: func(cfg *Config) {
				cfg.Username = "alice"
				cfg.Addr = "127.0.0.1:1"
				cfg.URL = "ws://127.0.0.1:1/session"
			},
			want: ErrTwoEndpoints,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(&cfg)
			err := New(cfg).Run(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("Run() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEchoResponder(t *testing.T) {
	testlog.Start(t)

	respond := EchoResponder()

	challenge := protocol.MFA{Type: protocol.MFATypeWebAuthn, JSON: []byte(`{"challenge_id":"chal.1a2b3c4d","nonce":"feed"}`)}
	resp, ok := respond(challenge)
	if !ok {
		t.Fatal("expected responder to answer a well-formed challenge")
	}
	if resp.Type != protocol.MFATypeWebAuthn {
		t.Fatalf("response type = %v, want webauthn", resp.Type)
	}
	var payload struct {
		ChallengeID string `json:"challenge_id"`
	}
	if err := json.Unmarshal(resp.JSON, &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload.ChallengeID != "chal.1a2b3c4d" {
		t.Fatalf("response challenge id = %q", payload.ChallengeID)
	}

	if _, ok := respond(protocol.MFA{Type: protocol.MFATypeU2F, JSON: []byte("not json")}); ok {
		t.Fatal("expected responder to refuse a malformed challenge")
	}
	if _, ok := respond(protocol.MFA{Type: protocol.MFATypeU2F, JSON: []byte(`{}`)}); ok {
		t.Fatal("expected responder to refuse a challenge without an id")
	}
}

func TestClientSendWithoutSession(t *testing.T) {
	testlog.Start(t)

	c := New(DefaultConfig())
	if err := c.Send(protocol.MouseMove{X: 1, Y: 2}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() = %v, want ErrNotConnected", err)
	}
}

func TestViewerStreamsFromBridge(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	helloCh := make(chan session.ClientHello, 1)
	locksCh := make(chan protocol.SyncKeys, 1)
	moveCh := make(chan protocol.MouseMove, 1)
	mfaCh := make(chan protocol.MFA, 1)
	srvCh := make(chan *session.Session, 1)
	srvDone := make(chan error, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			srvDone <- err
			return
		}
		srv := session.New(conn, session.RoleServer, session.DefaultConfig())
		srv.OnHello(func(h session.ClientHello) {
			helloCh <- h
			_ = srv.Send(protocol.ConnectionActivated{IOChannelID: 1003, UserChannelID: 1004, ScreenWidth: 320, ScreenHeight: 200})
			_ = srv.Send(protocol.PNGFrame2{Right: 8, Bottom: 8, Data: []byte{0x89, 0x50}})
			_ = srv.Send(protocol.MFA{Type: protocol.MFATypeWebAuthn, JSON: []byte(`{"challenge_id":"chal.cafe0123","nonce":"aa"}`)})
		})
		srv.Handle(protocol.MsgSyncKeys, func(m protocol.Message) error {
			locksCh <- m.(protocol.SyncKeys)
			return nil
		})
		srv.Handle(protocol.MsgMouseMove, func(m protocol.Message) error {
			moveCh <- m.(protocol.MouseMove)
			return nil
		})
		srv.Handle(protocol.MsgMFA, func(m protocol.Message) error {
			mfaCh <- m.(protocol.MFA)
			return nil
		})
		srvCh <- srv
		srvDone <- srv.Run(context.Background())
	}()

	frames := make(chan protocol.Message, 16)
	cfg := DefaultConfig()
	cfg.Addr = ln.Addr().String()
	cfg.Username = "alice"
	cfg.Width = 320
	cfg.Height = 200
	cfg.Locks = protocol.SyncKeys{CapsLock: protocol.LockActive}
	cfg.OnFrame = func(m protocol.Message) { frames <- m }

	c := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	var hello session.ClientHello
	select {
	case hello = <-helloCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for hello")
	}
	if hello.Username != "alice" || hello.Width != 320 || hello.Height != 200 {
		t.Fatalf("hello = %+v", hello)
	}

	select {
	case locks := <-locksCh:
		if locks.CapsLock != protocol.LockActive {
			t.Fatalf("locks = %+v, want caps lock active", locks)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for initial lock state")
	}

	deadline := time.After(3 * time.Second)
	var sawActivation, sawRegion bool
	for !(sawActivation && sawRegion) {
		select {
		case m := <-frames:
			switch m.(type) {
			case protocol.ConnectionActivated:
				sawActivation = true
			case protocol.PNGFrame2:
				sawRegion = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for display stream")
		}
	}

	// The responder answers the server's challenge without caller help.
	select {
	case resp := <-mfaCh:
		var payload struct {
			ChallengeID string `json:"challenge_id"`
		}
		if err := json.Unmarshal(resp.JSON, &payload); err != nil {
			t.Fatalf("unmarshal mfa response: %v", err)
		}
		if payload.ChallengeID != "chal.cafe0123" {
			t.Fatalf("mfa response challenge id = %q", payload.ChallengeID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for mfa response")
	}

	if err := c.Send(protocol.MouseMove{X: 5, Y: 6}); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	select {
	case move := <-moveCh:
		if move.X != 5 || move.Y != 6 {
			t.Fatalf("move = %+v", move)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for forwarded input")
	}

	stats := c.Stats()
	if stats.Frames < 3 {
		t.Fatalf("Frames = %d, want at least 3", stats.Frames)
	}
	if stats.Regions != 1 {
		t.Fatalf("Regions = %d, want 1", stats.Regions)
	}

	srv := <-srvCh
	if err := srv.Close(); err != nil {
		t.Fatalf("server close: %v", err)
	}
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after clean server close", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for viewer to exit")
	}
	if err := <-srvDone; err != nil {
		t.Fatalf("server session: %v", err)
	}
}

func TestViewerDialExhaustionTripsBreaker(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.Username = "alice"
	cfg.MaxAttempts = 5
	cfg.Session.Backoff = session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1.0}

	c := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.Run(ctx)
	if !errors.Is(err, ErrDialExhausted) {
		t.Fatalf("Run() = %v, want ErrDialExhausted", err)
	}
	if state := c.breaker.State(); state != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open after repeated refusals", state)
	}
}
