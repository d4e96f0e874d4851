// Package viewer owns the client side of a bridge session. It dials the
// bridge over TCP or websocket, drives the handshake, answers MFA
// challenges, and redials with backoff when the stream drops. Dialing
// runs behind a circuit breaker so a dead bridge fails fast instead of
// hammering the endpoint.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/protocol/session"
	"github.com/danmuck/deskwire/internal/transport"
)

var (
	ErrUsernameRequired = errors.New("viewer: username required")
	ErrNoEndpoint       = errors.New("viewer: no bridge endpoint configured")
	ErrTwoEndpoints     = errors.New("viewer: addr and url are mutually exclusive")
	ErrNotConnected     = errors.New("viewer: not connected")
	ErrDialExhausted    = errors.New("viewer: dial attempts exhausted")
)

// MFAResponder produces the client's answer to a server challenge. ok
// false means the challenge cannot be answered and the session ends.
type MFAResponder func(challenge protocol.MFA) (resp protocol.MFA, ok bool)

// EchoResponder answers a challenge by returning its challenge id,
// which is the proof the demo bridge verifier accepts.
func EchoResponder() MFAResponder {
	return func(challenge protocol.MFA) (protocol.MFA, bool) {
		var payload struct {
			ChallengeID string `json:"challenge_id"`
		}
		if err := json.Unmarshal(challenge.JSON, &payload); err != nil || payload.ChallengeID == "" {
			return protocol.MFA{}, false
		}
		resp, err := json.Marshal(payload)
		if err != nil {
			return protocol.MFA{}, false
		}
		return protocol.MFA{Type: challenge.Type, JSON: resp}, true
	}
}

// Config carries everything a viewer needs to reach one bridge. Exactly
// one of Addr (TCP) or URL (websocket) must be set.
type Config struct {
	Addr      string
	URL       string
	AuthToken string

	Transport transport.Config
	Session   session.Config

	Username string
	Width    uint32
	Height   uint32
	Locks    protocol.SyncKeys

	// MaxAttempts bounds consecutive failed dials before Run gives up.
	// Zero retries forever.
	MaxAttempts int

	// OnFrame observes every server frame after dispatch. Optional.
	OnFrame func(m protocol.Message)

	// Responder answers MFA challenges. Defaults to EchoResponder.
	Responder MFAResponder
}

func DefaultConfig() Config {
	return Config{
		Transport:   transport.Config{SecurityMode: transport.SecurityModeDevelopment},
		Session:     session.DefaultConfig(),
		Width:       1280,
		Height:      720,
		MaxAttempts: 5,
	}
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.Username) == "" {
		return ErrUsernameRequired
	}
	if cfg.Addr == "" && cfg.URL == "" {
		return ErrNoEndpoint
	}
	if cfg.Addr != "" && cfg.URL != "" {
		return ErrTwoEndpoints
	}
	return cfg.Transport.ValidateClient()
}

// Stats is a point-in-time snapshot of the receive counters.
type Stats struct {
	Frames  uint64
	Regions uint64
}

// Client is a reconnecting bridge viewer. One Client drives at most one
// live session at a time.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	breaker *gobreaker.CircuitBreaker
	rng     *rand.Rand

	mu   sync.RWMutex
	sess *session.Session

	frames  atomic.Uint64
	regions atomic.Uint64
}

func New(cfg Config) *Client {
	if cfg.Responder == nil {
		cfg.Responder = EchoResponder()
	}
	if cfg.Width == 0 {
		cfg.Width = 1280
	}
	if cfg.Height == 0 {
		cfg.Height = 720
	}
	c := &Client{
		cfg: cfg,
		log: log.With().Str("component", "viewer").Str("username", cfg.Username).Logger(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bridge-dial",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("dial breaker state change")
		},
	})
	return c
}

// Stats reports how much of the display stream has arrived so far.
func (c *Client) Stats() Stats {
	return Stats{Frames: c.frames.Load(), Regions: c.regions.Load()}
}

// Send queues m on the live session. Callers use this to forward input
// once Run has connected.
func (c *Client) Send(m protocol.Message) error {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Send(m)
}

func (c *Client) setSession(sess *session.Session) {
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
}

// Run dials the bridge and drives sessions until the context ends, the
// server closes the stream cleanly, or the dial budget runs out. A lost
// session redials with backoff; a clean server close returns nil.
func (c *Client) Run(ctx context.Context) error {
	if err := c.cfg.validate(); err != nil {
		return err
	}
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, err := c.connect(ctx)
		if err != nil {
			attempt++
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("bridge dial failed")
			if c.cfg.MaxAttempts > 0 && attempt >= c.cfg.MaxAttempts {
				return fmt.Errorf("%w after %d attempts: %v", ErrDialExhausted, attempt, err)
			}
			if err := c.waitBackoff(ctx, attempt); err != nil {
				return nil
			}
			continue
		}
		attempt = 0

		err = c.runSession(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			c.log.Info().Msg("session ended")
			return nil
		}
		c.log.Warn().Err(err).Msg("session lost, redialing")
	}
}

// connect runs the dial through the circuit breaker so a bridge that
// keeps refusing connections trips to fail-fast.
func (c *Client) connect(ctx context.Context) (session.Conn, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.dial(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(session.Conn), nil
}

func (c *Client) dial(ctx context.Context) (session.Conn, error) {
	if c.cfg.URL != "" {
		header := http.Header{}
		if c.cfg.AuthToken != "" {
			header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
		}
		return transport.DialWS(ctx, c.cfg.URL, c.cfg.Transport, header)
	}
	return transport.Dial(ctx, c.cfg.Addr, c.cfg.Transport)
}

func (c *Client) waitBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runSession owns one connected stream: hello, initial lock state, then
// the dispatch loop until the stream ends.
func (c *Client) runSession(ctx context.Context, conn session.Conn) error {
	sessCfg := c.cfg.Session
	if sessCfg.Name == "" {
		sessCfg.Name = c.cfg.Username
	}
	sess := session.New(conn, session.RoleClient, sessCfg)
	c.setSession(sess)
	defer c.setSession(nil)

	sess.Tap(func(dir session.Direction, m protocol.Message) {
		if dir != session.Inbound {
			return
		}
		c.frames.Add(1)
		if c.cfg.OnFrame != nil {
			c.cfg.OnFrame(m)
		}
	})
	c.registerHandlers(sess)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	if err := sess.SendHello(c.cfg.Username, c.cfg.Width, c.cfg.Height); err != nil {
		_ = sess.Close()
		<-runErr
		return err
	}
	if err := sess.Send(c.cfg.Locks); err != nil {
		_ = sess.Close()
		<-runErr
		return err
	}
	c.log.Info().
		Uint32("width", c.cfg.Width).
		Uint32("height", c.cfg.Height).
		Msg("hello sent")
	return <-runErr
}

func (c *Client) registerHandlers(sess *session.Session) {
	sess.Handle(protocol.MsgConnectionActivated, func(m protocol.Message) error {
		act := m.(protocol.ConnectionActivated)
		c.log.Info().
			Uint16("io_channel", act.IOChannelID).
			Uint16("user_channel", act.UserChannelID).
			Uint16("width", act.ScreenWidth).
			Uint16("height", act.ScreenHeight).
			Msg("desktop activated")
		return nil
	})

	region := func(m protocol.Message) error {
		c.regions.Add(1)
		switch f := m.(type) {
		case protocol.PNGFrame2:
			c.log.Debug().
				Uint32("left", f.Left).
				Uint32("top", f.Top).
				Uint32("right", f.Right).
				Uint32("bottom", f.Bottom).
				Int("bytes", len(f.Data)).
				Msg("display region")
		case protocol.PNGFrame:
			c.log.Debug().
				Uint32("left", f.Left).
				Uint32("top", f.Top).
				Uint32("right", f.Right).
				Uint32("bottom", f.Bottom).
				Int("bytes", len(f.Data)).
				Msg("display region (legacy)")
		}
		return nil
	}
	sess.Handle(protocol.MsgPNGFrame2, region)
	sess.Handle(protocol.MsgPNGFrame, region)

	sess.Handle(protocol.MsgClipboardData, func(m protocol.Message) error {
		c.log.Info().Int("bytes", len(m.(protocol.ClipboardData).Data)).Msg("clipboard received")
		return nil
	})

	sess.Handle(protocol.MsgFastPathPDU, func(m protocol.Message) error {
		c.log.Debug().Int("bytes", len(m.(protocol.FastPathPDU).Data)).Msg("fastpath pdu")
		return nil
	})

	sess.Handle(protocol.MsgErrorNotice, func(m protocol.Message) error {
		c.log.Error().Str("message", m.(protocol.ErrorNotice).Message).Msg("server error notice")
		return nil
	})

	sess.Handle(protocol.MsgNotification, func(m protocol.Message) error {
		note := m.(protocol.Notification)
		switch note.Severity {
		case protocol.SeverityFatal:
			c.log.Error().Str("message", note.Message).Msg("fatal server notification")
			_ = sess.Close()
		case protocol.SeverityWarning:
			c.log.Warn().Str("message", note.Message).Msg("server notification")
		default:
			c.log.Info().Str("message", note.Message).Msg("server notification")
		}
		return nil
	})

	sess.Handle(protocol.MsgMFA, func(m protocol.Message) error {
		challenge := m.(protocol.MFA)
		resp, ok := c.cfg.Responder(challenge)
		if !ok {
			c.log.Warn().Str("mfa_type", challenge.Type.String()).Msg("mfa challenge unanswerable, closing session")
			_ = sess.Close()
			return nil
		}
		c.log.Info().Str("mfa_type", challenge.Type.String()).Msg("answering mfa challenge")
		return sess.Send(resp)
	})
}
