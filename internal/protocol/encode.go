package protocol

import (
	"io"

	"github.com/danmuck/deskwire/internal/protocol/wire"
)

// WriteMessage encodes m and writes the whole frame with a single Write
// call. That single call is the atomicity unit the session writer relies
// on; concurrent writers must serialize around it.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := m.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func (m ScreenSpec) Encode() ([]byte, error) {
	buf := make([]byte, 0, 9)
	buf = wire.AppendUint8(buf, byte(MsgScreenSpec))
	buf = wire.AppendUint32(buf, m.Width)
	buf = wire.AppendUint32(buf, m.Height)
	return buf, nil
}

func (m PNGFrame) Encode() ([]byte, error) {
	if err := wire.CheckVariableLen(len(m.Data)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 17+4+len(m.Data))
	buf = wire.AppendUint8(buf, byte(MsgPNGFrame))
	buf = wire.AppendUint32(buf, m.Left)
	buf = wire.AppendUint32(buf, m.Top)
	buf = wire.AppendUint32(buf, m.Right)
	buf = wire.AppendUint32(buf, m.Bottom)
	buf = wire.AppendBytes(buf, m.Data)
	return buf, nil
}

func (m MouseMove) Encode() ([]byte, error) {
	buf := make([]byte, 0, 9)
	buf = wire.AppendUint8(buf, byte(MsgMouseMove))
	buf = wire.AppendUint32(buf, m.X)
	buf = wire.AppendUint32(buf, m.Y)
	return buf, nil
}

func (m MouseButton) Encode() ([]byte, error) {
	buf := make([]byte, 0, 3)
	buf = wire.AppendUint8(buf, byte(MsgMouseButton))
	buf = wire.AppendUint8(buf, byte(m.Button))
	buf = wire.AppendUint8(buf, byte(m.State))
	return buf, nil
}

func (m KeyboardInput) Encode() ([]byte, error) {
	buf := make([]byte, 0, 6)
	buf = wire.AppendUint8(buf, byte(MsgKeyboardInput))
	buf = wire.AppendUint32(buf, m.KeyCode)
	buf = wire.AppendUint8(buf, byte(m.State))
	return buf, nil
}

func (m ClipboardData) Encode() ([]byte, error) {
	if err := wire.CheckVariableLen(len(m.Data)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 5+len(m.Data))
	buf = wire.AppendUint8(buf, byte(MsgClipboardData))
	buf = wire.AppendBytes(buf, m.Data)
	return buf, nil
}

func (m ClientUsername) Encode() ([]byte, error) {
	if err := wire.CheckVariableLen(len(m.Username)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 5+len(m.Username))
	buf = wire.AppendUint8(buf, byte(MsgUsername))
	buf = wire.AppendString(buf, m.Username)
	return buf, nil
}

func (m MouseWheel) Encode() ([]byte, error) {
	buf := make([]byte, 0, 4)
	buf = wire.AppendUint8(buf, byte(MsgMouseWheel))
	buf = wire.AppendUint8(buf, byte(m.Axis))
	buf = wire.AppendInt16(buf, m.Delta)
	return buf, nil
}

func (m ErrorNotice) Encode() ([]byte, error) {
	if err := wire.CheckVariableLen(len(m.Message)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 5+len(m.Message))
	buf = wire.AppendUint8(buf, byte(MsgErrorNotice))
	buf = wire.AppendString(buf, m.Message)
	return buf, nil
}

func (m MFA) Encode() ([]byte, error) {
	if err := wire.CheckVariableLen(len(m.JSON)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 6+len(m.JSON))
	buf = wire.AppendUint8(buf, byte(MsgMFA))
	buf = wire.AppendUint8(buf, byte(m.Type))
	buf = wire.AppendBytes(buf, m.JSON)
	return buf, nil
}

// Encode leads with png_length covering only the data bytes; the four
// coordinates sit between the length and the data, which therefore carries
// no second prefix.
func (m PNGFrame2) Encode() ([]byte, error) {
	if err := wire.CheckVariableLen(len(m.Data)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 21+len(m.Data))
	buf = wire.AppendUint8(buf, byte(MsgPNGFrame2))
	buf = wire.AppendUint32(buf, uint32(len(m.Data)))
	buf = wire.AppendUint32(buf, m.Left)
	buf = wire.AppendUint32(buf, m.Top)
	buf = wire.AppendUint32(buf, m.Right)
	buf = wire.AppendUint32(buf, m.Bottom)
	buf = append(buf, m.Data...)
	return buf, nil
}

func (m Notification) Encode() ([]byte, error) {
	if err := wire.CheckVariableLen(len(m.Message)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 6+len(m.Message))
	buf = wire.AppendUint8(buf, byte(MsgNotification))
	buf = wire.AppendString(buf, m.Message)
	buf = wire.AppendUint8(buf, byte(m.Severity))
	return buf, nil
}

func (m FastPathPDU) Encode() ([]byte, error) {
	if err := wire.CheckVariableLen(len(m.Data)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 5+len(m.Data))
	buf = wire.AppendUint8(buf, byte(MsgFastPathPDU))
	buf = wire.AppendBytes(buf, m.Data)
	return buf, nil
}

func (m ResponsePDU) Encode() ([]byte, error) {
	if err := wire.CheckVariableLen(len(m.Data)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 5+len(m.Data))
	buf = wire.AppendUint8(buf, byte(MsgResponsePDU))
	buf = wire.AppendBytes(buf, m.Data)
	return buf, nil
}

func (m ConnectionActivated) Encode() ([]byte, error) {
	buf := make([]byte, 0, 9)
	buf = wire.AppendUint8(buf, byte(MsgConnectionActivated))
	buf = wire.AppendUint16(buf, m.IOChannelID)
	buf = wire.AppendUint16(buf, m.UserChannelID)
	buf = wire.AppendUint16(buf, m.ScreenWidth)
	buf = wire.AppendUint16(buf, m.ScreenHeight)
	return buf, nil
}

func (m SyncKeys) Encode() ([]byte, error) {
	buf := make([]byte, 0, 5)
	buf = wire.AppendUint8(buf, byte(MsgSyncKeys))
	buf = wire.AppendUint8(buf, byte(m.ScrollLock))
	buf = wire.AppendUint8(buf, byte(m.NumLock))
	buf = wire.AppendUint8(buf, byte(m.CapsLock))
	buf = wire.AppendUint8(buf, byte(m.KanaLock))
	return buf, nil
}
