package bridge

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/protocol/session"
	"github.com/danmuck/deskwire/internal/testutil/testlog"
)

type emitRecorder struct {
	msgs []protocol.Message
}

func (e *emitRecorder) emit(m protocol.Message) error {
	e.msgs = append(e.msgs, m)
	return nil
}

func startedDemo(t *testing.T, w, h uint32) (*DemoBackend, *emitRecorder) {
	t.Helper()
	d := NewDemoBackend()
	rec := &emitRecorder{}
	if err := d.Start(session.ClientHello{Username: "alice", Width: w, Height: h}, rec.emit); err != nil {
		t.Fatalf("backend start: %v", err)
	}
	return d, rec
}

func TestDemoBackendActivatesThenPaints(t *testing.T) {
	testlog.Start(t)

	_, rec := startedDemo(t, 320, 200)

	if len(rec.msgs) != 2 {
		t.Fatalf("messages after start got=%d want=2", len(rec.msgs))
	}
	act, ok := rec.msgs[0].(protocol.ConnectionActivated)
	if !ok {
		t.Fatalf("first message got=%T want ConnectionActivated", rec.msgs[0])
	}
	if act.IOChannelID != demoIOChannel || act.UserChannelID != demoUserChannel {
		t.Fatalf("channel ids got=%d/%d want=%d/%d", act.IOChannelID, act.UserChannelID, demoIOChannel, demoUserChannel)
	}
	if act.ScreenWidth != 320 || act.ScreenHeight != 200 {
		t.Fatalf("activation size got=%dx%d want=320x200", act.ScreenWidth, act.ScreenHeight)
	}

	frame, ok := rec.msgs[1].(protocol.PNGFrame2)
	if !ok {
		t.Fatalf("second message got=%T want PNGFrame2", rec.msgs[1])
	}
	if frame.Left != 0 || frame.Top != 0 || frame.Right != 320 || frame.Bottom != 200 {
		t.Fatalf("paint rect got=(%d,%d,%d,%d) want=(0,0,320,200)", frame.Left, frame.Top, frame.Right, frame.Bottom)
	}
	img, err := png.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		t.Fatalf("payload is not png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 200 {
		t.Fatalf("png size got=%dx%d want=320x200", b.Dx(), b.Dy())
	}
}

func TestDemoBackendZeroSurfaceSkipsPaint(t *testing.T) {
	testlog.Start(t)

	_, rec := startedDemo(t, 0, 0)
	if len(rec.msgs) != 1 {
		t.Fatalf("messages after start got=%d want only activation", len(rec.msgs))
	}
	if _, ok := rec.msgs[0].(protocol.ConnectionActivated); !ok {
		t.Fatalf("first message got=%T want ConnectionActivated", rec.msgs[0])
	}
}

func TestDemoBackendPaintsTileAtCursor(t *testing.T) {
	testlog.Start(t)

	d, rec := startedDemo(t, 320, 200)
	rec.msgs = nil

	if err := d.HandleInput(protocol.MouseMove{X: 300, Y: 190}); err != nil {
		t.Fatalf("mouse move: %v", err)
	}
	if err := d.HandleInput(protocol.MouseButton{Button: protocol.ButtonLeft, State: protocol.ButtonPressed}); err != nil {
		t.Fatalf("button press: %v", err)
	}
	if err := d.HandleInput(protocol.MouseButton{Button: protocol.ButtonLeft, State: protocol.ButtonReleased}); err != nil {
		t.Fatalf("button release: %v", err)
	}

	if len(rec.msgs) != 1 {
		t.Fatalf("frames after click got=%d want=1", len(rec.msgs))
	}
	frame := rec.msgs[0].(protocol.PNGFrame2)
	if frame.Left != 300 || frame.Top != 190 || frame.Right != 320 || frame.Bottom != 200 {
		t.Fatalf("tile rect not clamped to surface: (%d,%d,%d,%d)", frame.Left, frame.Top, frame.Right, frame.Bottom)
	}
	if x, y := d.Cursor(); x != 300 || y != 190 {
		t.Fatalf("cursor got=(%d,%d) want=(300,190)", x, y)
	}
}

func TestDemoBackendMirrorsClipboardAndFastPath(t *testing.T) {
	testlog.Start(t)

	d, rec := startedDemo(t, 100, 80)
	rec.msgs = nil

	if err := d.HandleInput(protocol.ClipboardData{Data: []byte("copy me")}); err != nil {
		t.Fatalf("clipboard: %v", err)
	}
	if err := d.HandleInput(protocol.ResponsePDU{Data: []byte{0x01, 0x02, 0x03}}); err != nil {
		t.Fatalf("response pdu: %v", err)
	}

	if len(rec.msgs) != 2 {
		t.Fatalf("mirrored frames got=%d want=2", len(rec.msgs))
	}
	clip, ok := rec.msgs[0].(protocol.ClipboardData)
	if !ok || string(clip.Data) != "copy me" {
		t.Fatalf("clipboard echo got=%#v", rec.msgs[0])
	}
	if string(d.Clipboard()) != "copy me" {
		t.Fatalf("stored clipboard got=%q", d.Clipboard())
	}
	fp, ok := rec.msgs[1].(protocol.FastPathPDU)
	if !ok || !bytes.Equal(fp.Data, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("fastpath echo got=%#v", rec.msgs[1])
	}
}

func TestDemoBackendResizeRepaints(t *testing.T) {
	testlog.Start(t)

	d, rec := startedDemo(t, 100, 80)
	rec.msgs = nil

	if err := d.HandleInput(protocol.ScreenSpec{Width: 64, Height: 48}); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if w, h := d.Size(); w != 64 || h != 48 {
		t.Fatalf("size after resize got=%dx%d want=64x48", w, h)
	}
	if len(rec.msgs) != 1 {
		t.Fatalf("frames after resize got=%d want=1", len(rec.msgs))
	}
	frame := rec.msgs[0].(protocol.PNGFrame2)
	if frame.Right != 64 || frame.Bottom != 48 {
		t.Fatalf("repaint rect got=(%d,%d,%d,%d) want full 64x48", frame.Left, frame.Top, frame.Right, frame.Bottom)
	}
}

func TestDemoBackendLocksAndStop(t *testing.T) {
	testlog.Start(t)

	d, rec := startedDemo(t, 100, 80)
	rec.msgs = nil

	if err := d.HandleInput(protocol.SyncKeys{CapsLock: protocol.LockActive}); err != nil {
		t.Fatalf("sync keys: %v", err)
	}
	if locks := d.Locks(); locks.CapsLock != protocol.LockActive || locks.NumLock != protocol.LockInactive {
		t.Fatalf("locks got=%+v", locks)
	}

	if err := d.HandleInput(protocol.PNGFrame2{}); err == nil {
		t.Fatalf("display frame fed back into backend should error")
	}

	d.Stop()
	if err := d.HandleInput(protocol.MouseButton{Button: protocol.ButtonLeft, State: protocol.ButtonPressed}); err != nil {
		t.Fatalf("input after stop should be dropped quietly, got %v", err)
	}
	if len(rec.msgs) != 0 {
		t.Fatalf("emissions after stop got=%d want=0", len(rec.msgs))
	}
}
