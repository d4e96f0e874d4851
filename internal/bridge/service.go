package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/deskwire/internal/auth"
	"github.com/danmuck/deskwire/internal/diag"
	"github.com/danmuck/deskwire/internal/observability"
	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/protocol/session"
	"github.com/danmuck/deskwire/internal/record"
	"github.com/danmuck/deskwire/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("bridge: invalid heartbeat interval")
	ErrNoListeners              = errors.New("bridge: no session listener configured")
	ErrInvalidMFATimeout        = errors.New("bridge: invalid mfa timeout")
	ErrUnknownChallenge         = errors.New("bridge: unknown mfa challenge")
)

// Grace between a fatal notice entering the send queue and the forced
// transport close, so the write loop has a chance to flush it.
const fatalNoticeGrace = 500 * time.Millisecond

// MFAConfig controls the post-handshake challenge the bridge issues
// before treating a session as verified.
type MFAConfig struct {
	Require       bool
	Type          protocol.MFAType
	Timeout       time.Duration
	SweepInterval time.Duration
}

// ListenConfig configures the session listeners. Addr accepts raw TCP
// connections, WSAddr accepts websocket upgrades on WSPath. Either may
// be empty; at least one must be set.
type ListenConfig struct {
	Addr           string
	WSAddr         string
	WSPath         string
	AllowedOrigins []string
}

// ServiceConfig configures the bridge daemon runtime. Backend overrides
// BackendName when both are set; BackendName resolves against the
// backend registry.
type ServiceConfig struct {
	BridgeID          string
	Listen            ListenConfig
	DiagAddr          string
	Transport         transport.Config
	Session           session.Config
	AuthToken         string
	AllowClipboard    bool
	InputRatePerSec   float64
	InputRateBurst    int
	RecordPath        string
	MFA               MFAConfig
	HeartbeatInterval time.Duration
	BackendName       string
	Backend           BackendFactory
}

// Bridge daemon defaults for standalone runtime configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BridgeID: "bridge.local",
		Listen: ListenConfig{
			Addr:   "127.0.0.1:7410",
			WSAddr: "127.0.0.1:7411",
			WSPath: "/session",
		},
		DiagAddr:        "127.0.0.1:7412",
		Transport:       transport.Config{SecurityMode: transport.SecurityModeDevelopment},
		Session:         session.DefaultConfig(),
		AllowClipboard:  true,
		InputRatePerSec: 400,
		InputRateBurst:  800,
		MFA: MFAConfig{
			Require:       false,
			Type:          protocol.MFATypeWebAuthn,
			Timeout:       30 * time.Second,
			SweepInterval: 5 * time.Second,
		},
		HeartbeatInterval: 15 * time.Second,
		BackendName:       "demo",
	}
}

// Service runs the bridge daemon lifecycle as a standalone process.
type Service struct {
	cfg   ServiceConfig
	store *record.Store
	box   *ChallengeBox
	log   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*liveSession

	seq   atomic.Uint64
	ready atomic.Bool
}

var _ diag.Source = (*Service)(nil)

// Bridge service constructor using default standalone config.
func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

// Bridge service constructor using explicit config.
func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if cfg.BackendName == "" {
		cfg.BackendName = "demo"
	}
	if cfg.Backend == nil {
		if factory, err := LookupBackend(cfg.BackendName); err == nil {
			cfg.Backend = factory
		}
	}
	if cfg.Listen.WSPath == "" {
		cfg.Listen.WSPath = "/session"
	}
	if cfg.MFA.Type == 0 {
		cfg.MFA.Type = protocol.MFATypeWebAuthn
	}
	if cfg.MFA.SweepInterval <= 0 {
		cfg.MFA.SweepInterval = 5 * time.Second
	}
	cfg.Transport.SecurityMode = transport.NormalizeSecurityMode(cfg.Transport.SecurityMode)
	return &Service{
		cfg:      cfg,
		box:      NewChallengeBox(),
		log:      log.With().Str("component", "bridge").Str("bridge_id", cfg.BridgeID).Logger(),
		sessions: make(map[string]*liveSession),
	}
}

// Bridge runtime entrypoint that blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) bootstrap() error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if s.cfg.Listen.Addr == "" && s.cfg.Listen.WSAddr == "" {
		return ErrNoListeners
	}
	if s.cfg.Backend == nil {
		return fmt.Errorf("%w: %q", ErrBackendUnknown, s.cfg.BackendName)
	}
	if s.cfg.MFA.Require && s.cfg.MFA.Timeout <= 0 {
		return ErrInvalidMFATimeout
	}
	if err := s.cfg.Transport.ValidateServer(); err != nil {
		return err
	}
	if s.cfg.RecordPath != "" {
		store, err := record.Open(s.cfg.RecordPath)
		if err != nil {
			return err
		}
		s.store = store
	}

	s.log.Info().
		Str("tcp", s.cfg.Listen.Addr).
		Str("ws", s.cfg.Listen.WSAddr).
		Str("diag", s.cfg.DiagAddr).
		Str("security", string(s.cfg.Transport.SecurityMode)).
		Str("backend", s.cfg.BackendName).
		Bool("recording", s.store != nil).
		Bool("mfa", s.cfg.MFA.Require).
		Msg("bridge ready")
	return nil
}

// Main loop supervising listeners, heartbeat logging, and MFA expiry.
func (s *Service) serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(s.cfg.MFA.SweepInterval)
	defer sweep.Stop()
	defer s.shutdown()

	listenErr := make(chan error, 3)
	if s.cfg.Listen.Addr != "" {
		go func() { listenErr <- s.serveTCP(ctx) }()
	}
	if s.cfg.Listen.WSAddr != "" {
		go func() { listenErr <- s.serveWS(ctx) }()
	}
	if s.cfg.DiagAddr != "" {
		go func() { listenErr <- s.serveDiag(ctx) }()
	}
	s.ready.Store(true)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("bridge shutdown")
			return nil
		case err := <-listenErr:
			if err != nil {
				return err
			}
		case <-sweep.C:
			s.expireChallenges(time.Now())
		case <-ticker.C:
			s.log.Info().
				Int("sessions", s.SessionCount()).
				Int("pending_mfa", s.box.Len()).
				Msg("bridge heartbeat")
		}
	}
}

func (s *Service) shutdown() {
	s.ready.Store(false)
	s.mu.Lock()
	open := make([]*liveSession, 0, len(s.sessions))
	for _, l := range s.sessions {
		open = append(open, l)
	}
	s.mu.Unlock()
	for _, l := range open {
		_ = l.sess.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *Service) serveTCP(ctx context.Context) error {
	ln, err := transport.Listen(s.cfg.Listen.Addr, s.cfg.Transport)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("tcp listener up")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bridge: accept: %w", err)
		}
		go s.handleConn(ctx, conn, conn.RemoteAddr().String())
	}
}

func (s *Service) serveWS(ctx context.Context) error {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.log))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.BridgeID))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	r.GET(s.cfg.Listen.WSPath, s.wsSessionHandler(ctx))

	srv := &http.Server{Addr: s.cfg.Listen.WSAddr, Handler: r}
	if s.cfg.Transport.TLS.Enabled {
		tlsCfg, err := s.cfg.Transport.ServerTLS()
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
	}

	errs := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			errs <- srv.ListenAndServeTLS("", "")
		} else {
			errs <- srv.ListenAndServe()
		}
	}()
	s.log.Info().Str("addr", s.cfg.Listen.WSAddr).Str("path", s.cfg.Listen.WSPath).Msg("ws listener up")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errs
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Upgrade handler mounting one server-role session per websocket client.
// Session lifetime is bound to the serve context, not the request
// context, which dies with the upgrade.
func (s *Service) wsSessionHandler(ctx context.Context) gin.HandlerFunc {
	validator := s.validator()
	return func(c *gin.Context) {
		if err := auth.Authorize(validator, c.Request); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ws, err := transport.AcceptWS(c.Writer, c.Request, s.cfg.Listen.AllowedOrigins)
		if err != nil {
			s.log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("ws upgrade failed")
			return
		}
		s.handleConn(ctx, ws, c.Request.RemoteAddr)
	}
}

func (s *Service) validator() auth.Validator {
	if s.cfg.AuthToken == "" {
		return nil
	}
	return auth.StaticToken{Token: s.cfg.AuthToken}
}

func (s *Service) serveDiag(ctx context.Context) error {
	srv := diag.New(diag.Config{
		Addr:        s.cfg.DiagAddr,
		App:         s.cfg.BridgeID,
		CORSOrigins: s.cfg.Listen.AllowedOrigins,
	}, s)
	s.log.Info().Str("addr", s.cfg.DiagAddr).Msg("diag listener up")
	return srv.Run(ctx)
}

// handleConn owns one client connection end to end: session setup,
// recorder tap, backend lifecycle, teardown.
func (s *Service) handleConn(ctx context.Context, conn session.Conn, remote string) {
	name := fmt.Sprintf("sess.%d", s.seq.Add(1))

	sessCfg := s.cfg.Session
	sessCfg.Name = name
	sess := session.New(conn, session.RoleServer, sessCfg)

	backend := s.cfg.Backend()
	live := &liveSession{sess: sess, remote: remote, startedAt: time.Now()}

	if s.store != nil {
		rec, err := s.store.BeginSession(name)
		if err != nil {
			s.log.Warn().Err(err).Str("session", name).Msg("recording disabled for session")
		} else {
			live.rec = rec
			sess.Tap(rec.Tap())
		}
	}

	sess.OnHello(func(h session.ClientHello) {
		live.setHello(h)
		if live.rec != nil {
			live.rec.SetHello(h)
		}
		if err := backend.Start(h, sess.Send); err != nil {
			s.log.Error().Err(err).Str("session", name).Msg("backend start failed")
			_ = sess.Send(protocol.Notification{Message: "desktop unavailable", Severity: protocol.SeverityFatal})
			time.AfterFunc(fatalNoticeGrace, func() { _ = sess.Close() })
			return
		}
		if s.cfg.MFA.Require {
			s.issueChallenge(sess, name)
		}
	})

	s.registerHandlers(sess, backend, name, live)

	s.addSession(name, live)
	defer s.removeSession(name)

	s.log.Info().Str("session", name).Str("remote", remote).Msg("session accepted")
	err := sess.Run(ctx)
	backend.Stop()
	if live.rec != nil {
		_ = live.rec.Finish()
	}
	s.dropSessionChallenges(name)
	if err != nil {
		s.log.Warn().Err(err).Str("session", name).Msg("session ended")
		return
	}
	s.log.Info().Str("session", name).Msg("session closed")
}

func (s *Service) registerHandlers(sess *session.Session, backend Backend, name string, live *liveSession) {
	limit := rate.Limit(s.cfg.InputRatePerSec)
	if s.cfg.InputRatePerSec <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, s.cfg.InputRateBurst)
	guard := session.Chain(session.WithRecovery(), session.WithRateLimit(limiter))

	forward := guard(func(m protocol.Message) error {
		return backend.HandleInput(m)
	})
	for _, t := range []protocol.MessageType{
		protocol.MsgScreenSpec,
		protocol.MsgMouseMove,
		protocol.MsgMouseButton,
		protocol.MsgKeyboardInput,
		protocol.MsgMouseWheel,
		protocol.MsgSyncKeys,
		protocol.MsgResponsePDU,
	} {
		sess.Handle(t, forward)
	}

	var clipWarn sync.Once
	sess.Handle(protocol.MsgClipboardData, guard(func(m protocol.Message) error {
		if !s.cfg.AllowClipboard {
			clipWarn.Do(func() {
				_ = sess.Send(protocol.Notification{
					Message:  "clipboard sharing is disabled on this bridge",
					Severity: protocol.SeverityWarning,
				})
			})
			return nil
		}
		return backend.HandleInput(m)
	}))

	sess.Handle(protocol.MsgMFA, session.WithRecovery()(s.mfaResponseHandler(name, live)))
}

type mfaChallengePayload struct {
	ChallengeID string `json:"challenge_id"`
	Nonce       string `json:"nonce"`
}

type mfaResponsePayload struct {
	ChallengeID string `json:"challenge_id"`
}

func (s *Service) issueChallenge(sess *session.Session, name string) {
	id, nonce, err := newChallengeID()
	if err != nil {
		s.log.Error().Err(err).Str("session", name).Msg("mfa challenge mint failed")
		_ = sess.Send(protocol.Notification{Message: "mfa unavailable", Severity: protocol.SeverityFatal})
		time.AfterFunc(fatalNoticeGrace, func() { _ = sess.Close() })
		return
	}

	payload, err := json.Marshal(mfaChallengePayload{ChallengeID: id, Nonce: nonce})
	if err != nil {
		s.log.Error().Err(err).Str("session", name).Msg("mfa challenge encode failed")
		return
	}

	now := time.Now()
	s.box.Issue(PendingChallenge{
		ChallengeID: id,
		Session:     name,
		Type:        s.cfg.MFA.Type,
		IssuedAt:    now,
		Deadline:    now.Add(s.cfg.MFA.Timeout),
	})
	observability.RecordMFAChallenge("issued")

	if err := sess.Send(protocol.MFA{Type: s.cfg.MFA.Type, JSON: payload}); err != nil {
		s.log.Warn().Err(err).Str("session", name).Msg("mfa challenge send failed")
		s.box.Remove(id)
		return
	}
	s.log.Info().Str("session", name).Str("challenge", id).Msg("mfa challenge issued")
}

func (s *Service) mfaResponseHandler(name string, live *liveSession) session.Handler {
	return func(m protocol.Message) error {
		mfa, ok := m.(protocol.MFA)
		if !ok {
			return fmt.Errorf("bridge: unexpected mfa frame %T", m)
		}

		var resp mfaResponsePayload
		if err := json.Unmarshal(mfa.JSON, &resp); err != nil {
			observability.RecordMFAChallenge("failed")
			return fmt.Errorf("bridge: mfa response payload: %w", err)
		}

		item, ok := s.box.Get(resp.ChallengeID)
		if !ok || item.Session != name {
			if ok {
				s.box.MarkAttempt(resp.ChallengeID, time.Now(), "session mismatch")
			}
			observability.RecordMFAChallenge("failed")
			return fmt.Errorf("%w: %q", ErrUnknownChallenge, resp.ChallengeID)
		}

		s.box.Remove(resp.ChallengeID)
		live.setVerified()
		observability.RecordMFAChallenge("verified")
		s.log.Info().Str("session", name).Str("challenge", resp.ChallengeID).Msg("mfa verified")
		return nil
	}
}

func (s *Service) expireChallenges(now time.Time) {
	for _, item := range s.box.Expire(now) {
		observability.RecordMFAChallenge("expired")
		s.log.Warn().
			Str("session", item.Session).
			Str("challenge", item.ChallengeID).
			Msg("mfa challenge expired")

		live, ok := s.session(item.Session)
		if !ok {
			continue
		}
		_ = live.sess.Send(protocol.Notification{Message: "mfa challenge expired", Severity: protocol.SeverityFatal})
		sess := live.sess
		time.AfterFunc(fatalNoticeGrace, func() { _ = sess.Close() })
	}
}

func (s *Service) dropSessionChallenges(name string) {
	for _, item := range s.box.List() {
		if item.Session != name {
			continue
		}
		s.box.Remove(item.ChallengeID)
		observability.RecordMFAChallenge("abandoned")
	}
}

func newChallengeID() (id, nonce string, err error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", fmt.Errorf("bridge: challenge entropy: %w", err)
	}
	return "chal." + hex.EncodeToString(buf[:8]), hex.EncodeToString(buf[8:]), nil
}

// Ready reports whether the bridge is accepting sessions.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Sessions lists live sessions for the diagnostics surface, sorted by
// name.
func (s *Service) Sessions() []diag.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]diag.SessionInfo, 0, len(s.sessions))
	for name, l := range s.sessions {
		out = append(out, l.info(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SessionCount reports the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Service) addSession(name string, l *liveSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[name] = l
}

func (s *Service) removeSession(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, name)
}

func (s *Service) session(name string) (*liveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.sessions[name]
	return l, ok
}

// liveSession is the bridge's view of one running session.
type liveSession struct {
	sess      *session.Session
	rec       *record.Recorder
	remote    string
	startedAt time.Time

	mu          sync.RWMutex
	hello       session.ClientHello
	established bool
	verified    bool
}

func (l *liveSession) setHello(h session.ClientHello) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hello = h
	l.established = true
}

func (l *liveSession) setVerified() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verified = true
}

func (l *liveSession) info(name string) diag.SessionInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return diag.SessionInfo{
		Name:        name,
		Username:    l.hello.Username,
		Remote:      l.remote,
		Width:       l.hello.Width,
		Height:      l.hello.Height,
		Established: l.established,
		Verified:    l.verified,
		StartedAt:   l.startedAt,
	}
}
