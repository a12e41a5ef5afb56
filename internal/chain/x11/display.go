package x11

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

const (
	defaultDisplayWidth  = 1280
	defaultDisplayHeight = 720
	defaultBuffers       = 4
	defaultBufferSize    = 1920 * 1080 * 4
)

type displayConfig struct {
	Element    string `json:"element"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Title      string `json:"title"`
	Buffers    int    `json:"buffers"`
	BufferSize int    `json:"buffer_size"`
}

// display shows pushed frames in a window of its own
type display struct {
	name   string
	conn   *xgb.Conn
	window xproto.Window
	gc     xproto.Gcontext
	format zpixmapFormat
	width  int
	height int
	pool   *chain.Pool

	mu      sync.Mutex // guards scratch
	scratch []byte

	// put uploads an encoded ZPixmap to the window
	put func(img []byte) error
}

func newDisplay(conn *xgb.Conn, screen *xproto.ScreenInfo, f zpixmapFormat, cfg displayConfig) (*display, error) {
	width, height := cfg.Width, cfg.Height
	if width == 0 {
		width = defaultDisplayWidth
	}
	if height == 0 {
		height = defaultDisplayHeight
	}

	count := cfg.Buffers
	if count == 0 {
		count = defaultBuffers
	}
	size := cfg.BufferSize
	if size == 0 {
		size = defaultBufferSize
	}
	pool, err := chain.NewPool(count, size)
	if err != nil {
		return nil, err
	}

	d := &display{
		name:    cfg.Element,
		conn:    conn,
		format:  f,
		width:   width,
		height:  height,
		pool:    pool,
		scratch: make([]byte, f.stride(width)*height),
	}
	d.put = d.putImage

	if err := d.open(screen, cfg.Title); err != nil {
		return nil, err
	}
	logger.WithComponent("x11").Debug().
		Str("element", d.name).
		Int("buffers", pool.Count()).
		Int("buffer_size", pool.BufferSize()).
		Msg("Display ready")
	return d, nil
}

// open creates and maps the window and its graphics context
func (d *display) open(screen *xproto.ScreenInfo, title string) error {
	log := logger.WithComponent("x11")

	windowID, err := xproto.NewWindowId(d.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	d.window = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000, // Black background
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}

	err = xproto.CreateWindowChecked(
		d.conn,
		screen.RootDepth,
		d.window,
		screen.Root,
		0, 0,
		uint16(d.width), uint16(d.height),
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if title == "" {
		title = "FrameFilter - " + d.name
	}
	if err := d.setWindowTitle(title); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := d.setWindowClass("framefilter", "FrameFilter"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(d.conn, d.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(d.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	err = xproto.CreateGCChecked(
		d.conn,
		gc,
		xproto.Drawable(d.window),
		xproto.GcForeground|xproto.GcBackground,
		[]uint32{0xffffffff, 0x00000000},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	d.gc = gc
	d.conn.Sync()

	log.Info().
		Str("element", d.name).
		Int("width", d.width).
		Int("height", d.height).
		Uint32("window_id", uint32(d.window)).
		Msg("Display window created")
	return nil
}

// push draws the frame and returns the buffer to the pool
func (d *display) push(buf *frame.Buffer, meta frame.Metadata) error {
	if !d.pool.Owns(buf) {
		return fmt.Errorf("push to %s: %w", d.name, chain.ErrNotLeased)
	}

	v, err := frame.NewView(buf.Bytes(), meta)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := encodeZPixmap(d.scratch, v, d.width, d.height, d.format); err != nil {
		return err
	}
	if err := d.put(d.scratch); err != nil {
		return err
	}

	// the frame is on screen, the buffer is ours again
	return d.pool.Release(buf)
}

func (d *display) putImage(img []byte) error {
	err := xproto.PutImageChecked(
		d.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(d.window),
		d.gc,
		uint16(d.width),
		uint16(d.height),
		0, 0, // dst x, y
		0, // left pad
		d.format.depth,
		img,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to put image: %w", err)
	}
	return nil
}

func (d *display) close() {
	if d.gc != 0 {
		xproto.FreeGC(d.conn, d.gc)
	}
	if d.window != 0 {
		xproto.DestroyWindow(d.conn, d.window)
		d.conn.Sync()
	}
}

// setWindowTitle sets the window title
func (d *display) setWindowTitle(title string) error {
	titleAtom, err := d.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := d.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}

	return xproto.ChangePropertyChecked(
		d.conn,
		xproto.PropModeReplace,
		d.window,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

// setWindowClass sets the window class
func (d *display) setWindowClass(instance, class string) error {
	classAtom, err := d.getAtom("WM_CLASS")
	if err != nil {
		return err
	}

	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"

	return xproto.ChangePropertyChecked(
		d.conn,
		xproto.PropModeReplace,
		d.window,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

// getAtom gets an atom ID by name
func (d *display) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(d.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
