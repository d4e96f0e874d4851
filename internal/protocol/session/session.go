package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/deskwire/internal/observability"
	"github.com/danmuck/deskwire/internal/protocol"
)

var (
	ErrSessionClosed = errors.New("session: closed")
	ErrNilConn       = errors.New("session: nil transport")
)

// Role selects which side of the desktop stream this session drives.
// Only the server side gates inbound traffic through the handshake.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "invalid"
	}
}

// Direction labels frame flow relative to this session.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Conn is the minimal transport surface a session drives. Deadlines are
// honored when the concrete type carries them, as net.Conn does.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
}

type readDeadliner interface{ SetReadDeadline(time.Time) error }
type writeDeadliner interface{ SetWriteDeadline(time.Time) error }

// Handler consumes one delivered message. A handler error is logged and
// counted but does not end the session.
type Handler func(m protocol.Message) error

// TapFunc observes every frame crossing the session after decode. Taps
// run on both the reader and the writer, so implementations must be
// safe for concurrent use.
type TapFunc func(dir Direction, m protocol.Message)

type countingReader struct {
	r io.Reader
	n uint64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += uint64(n)
	return n, err
}

// Session multiplexes one desktop stream: a single reader decodes,
// gates, and dispatches inbound frames while a single writer drains the
// outbound queue. Handshake and dispatch state belong to the reader.
type Session struct {
	cfg  Config
	role Role
	conn Conn
	in   *countingReader
	seq  *Sequencer

	handlers map[protocol.MessageType]Handler
	tap      TapFunc
	onHello  func(ClientHello)

	sendQ chan protocol.Message
	done  chan struct{}
	wmu   sync.Mutex

	closeOnce sync.Once
	failOnce  sync.Once
	failErr   error

	deadlineArmed bool

	log zerolog.Logger
}

func New(conn Conn, role Role, cfg Config) *Session {
	cfg = cfg.withDefaults()
	logger := log.With().Str("component", "session").Str("role", role.String())
	if cfg.Name != "" {
		logger = logger.Str("session", cfg.Name)
	}
	return &Session{
		cfg:      cfg,
		role:     role,
		conn:     conn,
		in:       &countingReader{r: conn},
		seq:      NewSequencer(),
		handlers: make(map[protocol.MessageType]Handler),
		sendQ:    make(chan protocol.Message, cfg.SendQueueDepth),
		done:     make(chan struct{}),
		log:      logger.Logger(),
	}
}

// Handle registers h for messages of type t. Not safe once Run has
// started.
func (s *Session) Handle(t protocol.MessageType, h Handler) {
	s.handlers[t] = h
}

// Tap installs fn as the frame observer. Not safe once Run has started.
func (s *Session) Tap(fn TapFunc) {
	s.tap = fn
}

// OnHello installs the establishment callback. It fires on the reader
// once the handshake completes. Not safe once Run has started.
func (s *Session) OnHello(fn func(ClientHello)) {
	s.onHello = fn
}

// Hello returns the completed handshake result.
func (s *Session) Hello() (ClientHello, bool) {
	return s.seq.Hello()
}

func (s *Session) established() bool {
	return s.role == RoleClient || s.seq.Established()
}

// Run drives the session until the context ends, the peer closes the
// transport, or a fatal decode error surfaces. A clean peer close
// returns nil.
func (s *Session) Run(ctx context.Context) error {
	if s.conn == nil {
		return ErrNilConn
	}
	observability.SessionOpened(s.role.String())
	defer observability.SessionClosed(s.role.String())
	defer s.Close()

	go s.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.fail(ctx.Err())
		case <-s.done:
		}
	}()

	s.log.Info().Msg("session started")
	for {
		_, _, err := s.ReceiveNext()
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, ErrSessionClosed):
			s.fail(nil)
		case errors.Is(err, io.EOF):
			s.log.Info().Msg("peer closed transport")
			s.fail(nil)
		default:
			s.log.Error().Err(err).Msg("session unrecoverable")
			if s.role == RoleServer {
				s.notifyFatal(err)
			}
			s.fail(err)
		}
		return s.failErr
	}
}

// ReceiveNext reads, gates, and dispatches exactly one frame. It is the
// single-step form of the read side of Run and must not run
// concurrently with it.
func (s *Session) ReceiveNext() (protocol.Message, Verdict, error) {
	s.armReadDeadline()

	before := s.in.n
	m, err := protocol.DecodeMessage(s.in, s.cfg.Limits)
	if err != nil {
		select {
		case <-s.done:
			return nil, VerdictDiscarded, ErrSessionClosed
		default:
		}
		if errors.Is(err, io.EOF) {
			return nil, VerdictDiscarded, io.EOF
		}
		observability.RecordDecodeError(decodeErrorKind(err))
		return nil, VerdictDiscarded, err
	}

	t := protocol.TypeOf(m)
	observability.RecordFrame(Inbound.String(), t.String(), int(s.in.n-before))
	if s.tap != nil {
		s.tap(Inbound, m)
	}

	verdict := VerdictDeliver
	if s.role == RoleServer {
		verdict = s.seq.Admit(m)
	}
	switch verdict {
	case VerdictConsumed:
		if s.seq.Established() {
			hello, _ := s.seq.Hello()
			s.log.Info().
				Str("username", hello.Username).
				Uint32("width", hello.Width).
				Uint32("height", hello.Height).
				Msg("handshake complete")
			if s.onHello != nil {
				s.onHello(hello)
			}
		}
	case VerdictDiscarded:
		s.log.Debug().Str("type", t.String()).Str("phase", s.seq.Phase().String()).Msg("discarded pre-handshake frame")
		observability.RecordHandshakeDiscard(t.String())
	case VerdictDeliver:
		s.dispatch(t, m)
	}
	return m, verdict, nil
}

func (s *Session) dispatch(t protocol.MessageType, m protocol.Message) {
	h, ok := s.handlers[t]
	if !ok {
		s.log.Warn().Str("type", t.String()).Msg("no handler registered, dropping frame")
		observability.RecordDroppedFrame(t.String(), "no_handler")
		return
	}
	if err := h(m); err != nil {
		s.log.Error().Err(err).Str("type", t.String()).Msg("handler failed")
		observability.RecordHandlerError(t.String())
	}
}

// Send queues one outbound frame. It blocks while the writer is
// saturated, pushing backpressure onto the caller, and fails once the
// session has closed.
func (s *Session) Send(m protocol.Message) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.sendQ <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// SendHello emits the two-frame client hello. Viewers call it right
// after dialing, before any input is sent.
func (s *Session) SendHello(username string, width, height uint32) error {
	if err := s.Send(protocol.ClientUsername{Username: username}); err != nil {
		return err
	}
	return s.Send(protocol.ScreenSpec{Width: width, Height: height})
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.sendQ:
			if err := s.writeFrame(m); err != nil {
				select {
				case <-s.done:
				default:
					s.log.Error().Err(err).Msg("write failed")
				}
				s.fail(err)
				return
			}
		}
	}
}

// writeFrame emits one whole frame with a single Write call. The write
// mutex keeps the fatal-notice path from interleaving with the queue.
func (s *Session) writeFrame(m protocol.Message) error {
	frame, err := m.Encode()
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		if wd, ok := s.conn.(writeDeadliner); ok {
			_ = wd.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
	}
	if _, err := s.conn.Write(frame); err != nil {
		return err
	}
	t := protocol.TypeOf(m)
	observability.RecordFrame(Outbound.String(), t.String(), len(frame))
	if s.tap != nil {
		s.tap(Outbound, m)
	}
	return nil
}

// notifyFatal tells the peer why the session is ending. Best effort; the
// transport may already be gone.
func (s *Session) notifyFatal(cause error) {
	notice := protocol.Notification{
		Message:  fmt.Sprintf("protocol error: %s", decodeErrorKind(cause)),
		Severity: protocol.SeverityFatal,
	}
	if err := s.writeFrame(notice); err != nil {
		s.log.Debug().Err(err).Msg("fatal notice not delivered")
	}
}

// Close ends the session and unblocks both loops. Safe to call multiple
// times and from any goroutine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		s.failErr = err
	})
	s.Close()
}

func (s *Session) armReadDeadline() {
	rd, ok := s.conn.(readDeadliner)
	if !ok {
		return
	}
	timeout := s.cfg.ReadTimeout
	if !s.established() && s.cfg.HandshakeTimeout > 0 {
		timeout = s.cfg.HandshakeTimeout
	}
	if timeout > 0 {
		_ = rd.SetReadDeadline(time.Now().Add(timeout))
		s.deadlineArmed = true
	} else if s.deadlineArmed {
		_ = rd.SetReadDeadline(time.Time{})
		s.deadlineArmed = false
	}
}

func decodeErrorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownMessageType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrLengthOverflow):
		return "length_overflow"
	case errors.Is(err, protocol.ErrInvalidEncoding):
		return "invalid_encoding"
	case errors.Is(err, protocol.ErrTruncated):
		return "truncated"
	case errors.Is(err, protocol.ErrEmptyMessage):
		return "empty"
	default:
		return "io"
	}
}
