package bridge

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/protocol/session"
)

// Backend is the desktop-host boundary. The bridge starts one backend per
// established session, forwards client input into it, and relays whatever
// it emits back over the session.
type Backend interface {
	// Start runs once the handshake completes. emit hands backend output
	// to the session send queue and stays valid until Stop.
	Start(hello session.ClientHello, emit func(protocol.Message) error) error
	// HandleInput receives one established client frame.
	HandleInput(m protocol.Message) error
	// Stop releases backend resources. Called once, after the session's
	// read loop has returned.
	Stop()
}

// BackendFactory builds one Backend per session.
type BackendFactory func() Backend

const (
	demoIOChannel   = 1003
	demoUserChannel = 1004

	demoTile = 64
	// Render surface cap; keeps the demo allocation-bounded whatever the
	// client claims in its screen spec.
	maxRenderEdge = 4096
)

var demoPalette = []color.NRGBA{
	{R: 0x1e, G: 0x1e, B: 0x2e, A: 0xff},
	{R: 0x28, G: 0x6f, B: 0x8d, A: 0xff},
	{R: 0x9a, G: 0x48, B: 0x5a, A: 0xff},
	{R: 0x3a, G: 0x7d, B: 0x44, A: 0xff},
}

// DemoBackend is a loopback desktop host. It activates the secondary
// protocol with fixed channel ids, answers clicks and keypresses with
// solid-color display tiles, and mirrors clipboard and fast-path traffic
// back to the client. It lets a bridge run end to end without a real
// desktop behind it.
type DemoBackend struct {
	mu      sync.Mutex
	emit    func(protocol.Message) error
	width   uint32
	height  uint32
	cursorX uint32
	cursorY uint32
	locks   protocol.SyncKeys
	clip    []byte
	seq     int
}

func NewDemoBackend() *DemoBackend {
	return &DemoBackend{}
}

func (d *DemoBackend) Start(hello session.ClientHello, emit func(protocol.Message) error) error {
	d.mu.Lock()
	d.emit = emit
	d.width = clampEdge(hello.Width)
	d.height = clampEdge(hello.Height)
	d.mu.Unlock()

	if err := emit(protocol.ConnectionActivated{
		IOChannelID:   demoIOChannel,
		UserChannelID: demoUserChannel,
		ScreenWidth:   clampU16(hello.Width),
		ScreenHeight:  clampU16(hello.Height),
	}); err != nil {
		return err
	}
	return d.paintFull()
}

func (d *DemoBackend) HandleInput(m protocol.Message) error {
	switch msg := m.(type) {
	case protocol.MouseMove:
		d.mu.Lock()
		d.cursorX, d.cursorY = msg.X, msg.Y
		d.mu.Unlock()
		return nil
	case protocol.MouseButton:
		if msg.State != protocol.ButtonPressed {
			return nil
		}
		return d.paintAtCursor()
	case protocol.KeyboardInput:
		if msg.State != protocol.ButtonPressed {
			return nil
		}
		return d.paintAtCursor()
	case protocol.MouseWheel:
		return nil
	case protocol.ClipboardData:
		d.mu.Lock()
		d.clip = append([]byte(nil), msg.Data...)
		emit := d.emit
		d.mu.Unlock()
		if emit == nil {
			return nil
		}
		return emit(protocol.ClipboardData{Data: append([]byte(nil), msg.Data...)})
	case protocol.ScreenSpec:
		d.mu.Lock()
		d.width = clampEdge(msg.Width)
		d.height = clampEdge(msg.Height)
		d.mu.Unlock()
		return d.paintFull()
	case protocol.SyncKeys:
		d.mu.Lock()
		d.locks = msg
		d.mu.Unlock()
		return nil
	case protocol.ResponsePDU:
		d.mu.Lock()
		emit := d.emit
		d.mu.Unlock()
		if emit == nil {
			return nil
		}
		return emit(protocol.FastPathPDU{Data: append([]byte(nil), msg.Data...)})
	default:
		return fmt.Errorf("bridge: backend cannot handle %s", protocol.TypeOf(m))
	}
}

func (d *DemoBackend) Stop() {
	d.mu.Lock()
	d.emit = nil
	d.mu.Unlock()
}

// Cursor reports the last pointer position the backend saw.
func (d *DemoBackend) Cursor() (x, y uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursorX, d.cursorY
}

// Clipboard reports the last clipboard payload the backend stored.
func (d *DemoBackend) Clipboard() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.clip...)
}

// Locks reports the modifier lock state the client last synchronized.
func (d *DemoBackend) Locks() protocol.SyncKeys {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locks
}

// Size reports the current render surface dimensions.
func (d *DemoBackend) Size() (w, h uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

func (d *DemoBackend) paintFull() error {
	d.mu.Lock()
	w, h := d.width, d.height
	d.mu.Unlock()
	if w == 0 || h == 0 {
		return nil
	}
	return d.paint(0, 0, w, h)
}

func (d *DemoBackend) paintAtCursor() error {
	d.mu.Lock()
	x, y, w, h := d.cursorX, d.cursorY, d.width, d.height
	d.mu.Unlock()
	if w == 0 || h == 0 {
		return nil
	}
	if x >= w {
		x = w - 1
	}
	if y >= h {
		y = h - 1
	}
	right := x + demoTile
	bottom := y + demoTile
	if right > w {
		right = w
	}
	if bottom > h {
		bottom = h
	}
	return d.paint(x, y, right, bottom)
}

func (d *DemoBackend) paint(left, top, right, bottom uint32) error {
	d.mu.Lock()
	emit := d.emit
	d.seq++
	tone := demoPalette[d.seq%len(demoPalette)]
	d.mu.Unlock()
	if emit == nil {
		return nil
	}

	data, err := renderTile(int(right-left), int(bottom-top), tone)
	if err != nil {
		return fmt.Errorf("bridge: render %dx%d tile: %w", right-left, bottom-top, err)
	}
	return emit(protocol.PNGFrame2{
		Left:   left,
		Top:    top,
		Right:  right,
		Bottom: bottom,
		Data:   data,
	})
}

func renderTile(w, h int, tone color.NRGBA) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = tone.R
		img.Pix[i+1] = tone.G
		img.Pix[i+2] = tone.B
		img.Pix[i+3] = tone.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clampEdge(v uint32) uint32 {
	if v > maxRenderEdge {
		return maxRenderEdge
	}
	return v
}

func clampU16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
