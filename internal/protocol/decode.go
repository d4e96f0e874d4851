package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/deskwire/internal/protocol/wire"
)

// DecodeMessage reads exactly one frame from r. A clean end of stream
// before the tag byte surfaces as io.EOF; once the tag has been read,
// every short read is ErrTruncated. Unknown tags are unrecoverable
// because the frame boundary cannot be computed without the layout.
func DecodeMessage(r io.Reader, limits wire.Limits) (Message, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrTruncated
	}
	return decodeBody(MessageType(tag[0]), r, limits)
}

// Decode parses one frame from a complete buffer.
func Decode(b []byte, limits wire.Limits) (Message, error) {
	if len(b) == 0 {
		return nil, ErrEmptyMessage
	}
	return DecodeMessage(bytes.NewReader(b), limits)
}

func decodeBody(t MessageType, r io.Reader, limits wire.Limits) (Message, error) {
	switch t {
	case MsgScreenSpec:
		return decodeScreenSpec(r)
	case MsgPNGFrame:
		return decodePNGFrame(r, limits)
	case MsgMouseMove:
		return decodeMouseMove(r)
	case MsgMouseButton:
		return decodeMouseButton(r)
	case MsgKeyboardInput:
		return decodeKeyboardInput(r)
	case MsgClipboardData:
		return decodeClipboardData(r, limits)
	case MsgUsername:
		return decodeClientUsername(r, limits)
	case MsgMouseWheel:
		return decodeMouseWheel(r)
	case MsgErrorNotice:
		return decodeErrorNotice(r, limits)
	case MsgMFA:
		return decodeMFA(r, limits)
	case MsgPNGFrame2:
		return decodePNGFrame2(r, limits)
	case MsgNotification:
		return decodeNotification(r, limits)
	case MsgFastPathPDU:
		return decodeFastPathPDU(r, limits)
	case MsgResponsePDU:
		return decodeResponsePDU(r, limits)
	case MsgConnectionActivated:
		return decodeConnectionActivated(r)
	case MsgSyncKeys:
		return decodeSyncKeys(r)
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownMessageType, byte(t))
	}
}

func decodeScreenSpec(r io.Reader) (Message, error) {
	var m ScreenSpec
	var err error
	if m.Width, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Height, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	return m, nil
}

func decodePNGFrame(r io.Reader, limits wire.Limits) (Message, error) {
	var m PNGFrame
	var err error
	if m.Left, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Top, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Right, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Bottom, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Data, err = wire.ReadBytes(r, limits); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeMouseMove(r io.Reader) (Message, error) {
	var m MouseMove
	var err error
	if m.X, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Y, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeMouseButton(r io.Reader) (Message, error) {
	var m MouseButton
	b, err := wire.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	s, err := wire.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	m.Button = MouseButtonID(b)
	m.State = ButtonState(s)
	return m, nil
}

func decodeKeyboardInput(r io.Reader) (Message, error) {
	var m KeyboardInput
	var err error
	if m.KeyCode, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	s, err := wire.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	m.State = ButtonState(s)
	return m, nil
}

func decodeClipboardData(r io.Reader, limits wire.Limits) (Message, error) {
	data, err := wire.ReadBytes(r, limits)
	if err != nil {
		return nil, err
	}
	return ClipboardData{Data: data}, nil
}

func decodeClientUsername(r io.Reader, limits wire.Limits) (Message, error) {
	username, err := wire.ReadString(r, limits)
	if err != nil {
		return nil, err
	}
	return ClientUsername{Username: username}, nil
}

func decodeMouseWheel(r io.Reader) (Message, error) {
	var m MouseWheel
	axis, err := wire.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	m.Axis = WheelAxis(axis)
	if m.Delta, err = wire.ReadInt16(r); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeErrorNotice(r io.Reader, limits wire.Limits) (Message, error) {
	msg, err := wire.ReadString(r, limits)
	if err != nil {
		return nil, err
	}
	return ErrorNotice{Message: msg}, nil
}

func decodeMFA(r io.Reader, limits wire.Limits) (Message, error) {
	var m MFA
	kind, err := wire.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	m.Type = MFAType(kind)
	if m.JSON, err = wire.ReadBytes(r, limits); err != nil {
		return nil, err
	}
	return m, nil
}

// decodePNGFrame2 reads the leading png_length, the four coordinates, then
// exactly png_length payload bytes; the payload carries no second prefix.
func decodePNGFrame2(r io.Reader, limits wire.Limits) (Message, error) {
	pngLen, err := wire.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if pngLen > limits.MaxVariableLen {
		return nil, ErrLengthOverflow
	}
	var m PNGFrame2
	if m.Left, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Top, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Right, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if m.Bottom, err = wire.ReadUint32(r); err != nil {
		return nil, err
	}
	if pngLen > 0 {
		m.Data = make([]byte, pngLen)
		if _, err := io.ReadFull(r, m.Data); err != nil {
			return nil, ErrTruncated
		}
	}
	return m, nil
}

func decodeNotification(r io.Reader, limits wire.Limits) (Message, error) {
	var m Notification
	var err error
	if m.Message, err = wire.ReadString(r, limits); err != nil {
		return nil, err
	}
	sev, err := wire.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	m.Severity = Severity(sev)
	return m, nil
}

func decodeFastPathPDU(r io.Reader, limits wire.Limits) (Message, error) {
	data, err := wire.ReadBytes(r, limits)
	if err != nil {
		return nil, err
	}
	return FastPathPDU{Data: data}, nil
}

func decodeResponsePDU(r io.Reader, limits wire.Limits) (Message, error) {
	data, err := wire.ReadBytes(r, limits)
	if err != nil {
		return nil, err
	}
	return ResponsePDU{Data: data}, nil
}

func decodeConnectionActivated(r io.Reader) (Message, error) {
	var m ConnectionActivated
	var err error
	if m.IOChannelID, err = wire.ReadUint16(r); err != nil {
		return nil, err
	}
	if m.UserChannelID, err = wire.ReadUint16(r); err != nil {
		return nil, err
	}
	if m.ScreenWidth, err = wire.ReadUint16(r); err != nil {
		return nil, err
	}
	if m.ScreenHeight, err = wire.ReadUint16(r); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeSyncKeys(r io.Reader) (Message, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, ErrTruncated
	}
	return SyncKeys{
		ScrollLock: LockState(buf[0]),
		NumLock:    LockState(buf[1]),
		CapsLock:   LockState(buf[2]),
		KanaLock:   LockState(buf[3]),
	}, nil
}
