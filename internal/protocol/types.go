package protocol

import "fmt"

// Message is one typed frame variant. Encode emits the full frame,
// leading tag byte included.
type Message interface {
	Encode() ([]byte, error)
}

// MessageType is the one-byte frame discriminant.
type MessageType byte

// Message tags from the wire contract. Tags 11-26 are unassigned in this
// protocol and decode as unknown.
const (
	MsgScreenSpec          MessageType = 1
	MsgPNGFrame            MessageType = 2
	MsgMouseMove           MessageType = 3
	MsgMouseButton         MessageType = 4
	MsgKeyboardInput       MessageType = 5
	MsgClipboardData       MessageType = 6
	MsgUsername            MessageType = 7
	MsgMouseWheel          MessageType = 8
	MsgErrorNotice         MessageType = 9
	MsgMFA                 MessageType = 10
	MsgPNGFrame2           MessageType = 27
	MsgNotification        MessageType = 28
	MsgFastPathPDU         MessageType = 29
	MsgResponsePDU         MessageType = 30
	MsgConnectionActivated MessageType = 31
	MsgSyncKeys            MessageType = 32
)

var typeNames = map[MessageType]string{
	MsgScreenSpec:          "screen_spec",
	MsgPNGFrame:            "png_frame",
	MsgMouseMove:           "mouse_move",
	MsgMouseButton:         "mouse_button",
	MsgKeyboardInput:       "keyboard_input",
	MsgClipboardData:       "clipboard_data",
	MsgUsername:            "client_username",
	MsgMouseWheel:          "mouse_wheel",
	MsgErrorNotice:         "error",
	MsgMFA:                 "mfa",
	MsgPNGFrame2:           "png_frame_v2",
	MsgNotification:        "notification",
	MsgFastPathPDU:         "fastpath_pdu",
	MsgResponsePDU:         "response_pdu",
	MsgConnectionActivated: "connection_activated",
	MsgSyncKeys:            "sync_keys",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// Known reports whether t is an assigned tag.
func (t MessageType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// TypeOf maps a decoded message back to its wire tag.
func TypeOf(m Message) MessageType {
	switch m.(type) {
	case ScreenSpec:
		return MsgScreenSpec
	case PNGFrame:
		return MsgPNGFrame
	case MouseMove:
		return MsgMouseMove
	case MouseButton:
		return MsgMouseButton
	case KeyboardInput:
		return MsgKeyboardInput
	case ClipboardData:
		return MsgClipboardData
	case ClientUsername:
		return MsgUsername
	case MouseWheel:
		return MsgMouseWheel
	case ErrorNotice:
		return MsgErrorNotice
	case MFA:
		return MsgMFA
	case PNGFrame2:
		return MsgPNGFrame2
	case Notification:
		return MsgNotification
	case FastPathPDU:
		return MsgFastPathPDU
	case ResponsePDU:
		return MsgResponsePDU
	case ConnectionActivated:
		return MsgConnectionActivated
	case SyncKeys:
		return MsgSyncKeys
	default:
		return 0
	}
}

// MouseButtonID selects the physical mouse button.
type MouseButtonID byte

const (
	ButtonLeft MouseButtonID = iota
	ButtonMiddle
	ButtonRight
)

// ButtonState is shared by mouse button and keyboard messages.
type ButtonState byte

const (
	ButtonReleased ButtonState = iota
	ButtonPressed
)

// WheelAxis selects the scroll direction of a mouse wheel message.
type WheelAxis byte

const (
	WheelVertical WheelAxis = iota
	WheelHorizontal
)

// Severity grades a notification message.
type Severity byte

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityFatal
)

// MFAType discriminates the challenge payload format of an MFA message.
type MFAType byte

const (
	MFATypeWebAuthn MFAType = 'n'
	MFATypeU2F      MFAType = 'u'
)

func (t MFAType) String() string {
	switch t {
	case MFATypeWebAuthn:
		return "webauthn"
	case MFATypeU2F:
		return "u2f"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// LockState is one modifier lock key state in a sync keys message.
type LockState byte

const (
	LockInactive LockState = iota
	LockActive
)

// ScreenSpec (tag 1) declares the client's render surface in pixels. The
// second frame of the client handshake; recurs after establishment on
// window resize.
type ScreenSpec struct {
	Width  uint32
	Height uint32
}

// PNGFrame (tag 2) carries one encoded image region. Coordinates address
// the destination rectangle; the payload bytes are opaque at this layer.
type PNGFrame struct {
	Left   uint32
	Top    uint32
	Right  uint32
	Bottom uint32
	Data   []byte
}

// MouseMove (tag 3) reports pointer position.
type MouseMove struct {
	X uint32
	Y uint32
}

// MouseButton (tag 4) reports a button press or release.
type MouseButton struct {
	Button MouseButtonID
	State  ButtonState
}

// KeyboardInput (tag 5) reports a key press or release.
type KeyboardInput struct {
	KeyCode uint32
	State   ButtonState
}

// ClipboardData (tag 6) transfers clipboard content in either direction.
type ClipboardData struct {
	Data []byte
}

// ClientUsername (tag 7) opens the client handshake.
type ClientUsername struct {
	Username string
}

// MouseWheel (tag 8) reports scroll movement along one axis.
type MouseWheel struct {
	Axis  WheelAxis
	Delta int16
}

// ErrorNotice (tag 9) is the legacy server-side error report, superseded
// by Notification but still decoded and delivered normally.
type ErrorNotice struct {
	Message string
}

// MFA (tag 10) carries an authentication challenge or its response; the
// JSON payload is opaque at this layer.
type MFA struct {
	Type MFAType
	JSON []byte
}

// PNGFrame2 (tag 27) is the image region frame with a leading payload
// length, letting receivers size the read before the coordinates.
type PNGFrame2 struct {
	Left   uint32
	Top    uint32
	Right  uint32
	Bottom uint32
	Data   []byte
}

// Notification (tag 28) is a graded user-facing message.
type Notification struct {
	Message  string
	Severity Severity
}

// FastPathPDU (tag 29) tunnels one opaque secondary-protocol output PDU.
type FastPathPDU struct {
	Data []byte
}

// ResponsePDU (tag 30) tunnels one opaque secondary-protocol input PDU.
type ResponsePDU struct {
	Data []byte
}

// ConnectionActivated (tag 31) reports secondary-protocol channel
// parameters after the desktop connection came up.
type ConnectionActivated struct {
	IOChannelID   uint16
	UserChannelID uint16
	ScreenWidth   uint16
	ScreenHeight  uint16
}

// SyncKeys (tag 32) synchronizes modifier lock key state.
type SyncKeys struct {
	ScrollLock LockState
	NumLock    LockState
	CapsLock   LockState
	KanaLock   LockState
}
