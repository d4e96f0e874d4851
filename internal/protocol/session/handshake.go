package session

import (
	"github.com/danmuck/deskwire/internal/protocol"
)

// Phase is the handshake progress of one client connection.
type Phase uint8

const (
	PhaseAwaitingUsername Phase = iota
	PhaseAwaitingScreenSpec
	PhaseEstablished
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingUsername:
		return "awaiting_username"
	case PhaseAwaitingScreenSpec:
		return "awaiting_screen_spec"
	case PhaseEstablished:
		return "established"
	default:
		return "invalid"
	}
}

// Verdict is the gate decision for one inbound message.
type Verdict uint8

const (
	// VerdictDiscarded drops a message decoded before establishment.
	VerdictDiscarded Verdict = iota
	// VerdictConsumed absorbs a handshake message into the hello.
	VerdictConsumed
	// VerdictDeliver passes the message on to dispatch.
	VerdictDeliver
)

func (v Verdict) String() string {
	switch v {
	case VerdictDiscarded:
		return "discarded"
	case VerdictConsumed:
		return "consumed"
	case VerdictDeliver:
		return "deliver"
	default:
		return "invalid"
	}
}

// ClientHello is the result of a completed handshake.
type ClientHello struct {
	Username string
	Width    uint32
	Height   uint32
}

// Sequencer gates client-to-server traffic until the username and screen
// spec frames arrive, in that order. Anything else decoded before
// establishment is dropped without effect; after establishment every
// message passes, including later screen specs, which are ordinary
// resize traffic.
type Sequencer struct {
	phase Phase
	hello ClientHello
}

func NewSequencer() *Sequencer {
	return &Sequencer{}
}

func (s *Sequencer) Phase() Phase {
	return s.phase
}

func (s *Sequencer) Established() bool {
	return s.phase == PhaseEstablished
}

// Hello returns the completed handshake result.
func (s *Sequencer) Hello() (ClientHello, bool) {
	if s.phase != PhaseEstablished {
		return ClientHello{}, false
	}
	return s.hello, true
}

// Admit runs one decoded message through the gate. Not safe for
// concurrent use; the session reader owns it.
func (s *Sequencer) Admit(m protocol.Message) Verdict {
	switch s.phase {
	case PhaseAwaitingUsername:
		if u, ok := m.(protocol.ClientUsername); ok {
			s.hello.Username = u.Username
			s.phase = PhaseAwaitingScreenSpec
			return VerdictConsumed
		}
		return VerdictDiscarded
	case PhaseAwaitingScreenSpec:
		if spec, ok := m.(protocol.ScreenSpec); ok {
			s.hello.Width = spec.Width
			s.hello.Height = spec.Height
			s.phase = PhaseEstablished
			return VerdictConsumed
		}
		return VerdictDiscarded
	default:
		return VerdictDeliver
	}
}
