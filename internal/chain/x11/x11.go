// Package x11 is an X11 chain backend. Exporters grab a region of the root
// window, importers show frames in their own window.
package x11

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/config"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

// Kind is the chain "kind" served by this backend
const Kind = "x11"

type chainConfig struct {
	Exporters []grabberConfig `json:"exporters"`
	Importers []displayConfig `json:"importers"`
}

// Backend owns the X server connection shared by all x11 chains
type Backend struct {
	mu     sync.Mutex
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
}

// NewBackend creates the X11 backend. The connection is opened by Init.
func NewBackend() *Backend {
	return &Backend{}
}

// Name implements chain.Backend
func (b *Backend) Name() string {
	return Kind
}

// Init implements chain.Backend
func (b *Backend) Init(json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	b.conn = conn
	b.screen = setup.DefaultScreen(conn)

	logger.WithComponent("x11").Info().
		Uint16("width", b.screen.WidthInPixels).
		Uint16("height", b.screen.HeightInPixels).
		Uint8("depth", b.screen.RootDepth).
		Msg("Connected to X server")
	return nil
}

// Deinit implements chain.Backend
func (b *Backend) Deinit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

// format looks up the ZPixmap layout for the root depth
func (b *Backend) format() (zpixmapFormat, error) {
	depth := b.screen.RootDepth
	setup := xproto.Setup(b.conn)
	for _, f := range setup.PixmapFormats {
		if f.Depth == depth {
			return zpixmapFormat{
				depth:         depth,
				bytesPerPixel: int(f.BitsPerPixel) / 8,
				scanlinePad:   int(f.ScanlinePad) / 8,
			}, nil
		}
	}
	return zpixmapFormat{}, fmt.Errorf("no format found for depth %d", depth)
}

// NewChain implements chain.Backend
func (b *Backend) NewChain(def config.ChainConfig, _ chain.ErrorFunc) (chain.Chain, error) {
	var cfg chainConfig
	if len(def.Raw) > 0 {
		if err := json.Unmarshal(def.Raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid x11 chain: %w", err)
		}
	}

	b.mu.Lock()
	conn, screen := b.conn, b.screen
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("x11 backend not initialized")
	}

	f, err := b.format()
	if err != nil {
		return nil, err
	}

	c := &Chain{
		id:       def.ID,
		grabbers: make(map[string]*grabber),
		displays: make(map[string]*display),
	}

	for _, gc := range cfg.Exporters {
		g, err := newGrabber(conn, screen, f, gc)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("exporter %q: %w", gc.Element, err)
		}
		c.grabbers[gc.Element] = g
		c.exporterNames = append(c.exporterNames, gc.Element)
	}

	for _, dc := range cfg.Importers {
		d, err := newDisplay(conn, screen, f, dc)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("importer %q: %w", dc.Element, err)
		}
		c.displays[dc.Element] = d
		c.importerNames = append(c.importerNames, dc.Element)
	}

	for _, g := range c.grabbers {
		g.start()
	}

	logger.WithComponent("x11").Info().Str("chain", def.ID).Msg("Chain created")
	return c, nil
}

// Chain is a set of X11 grabbers and display windows
type Chain struct {
	id            string
	grabbers      map[string]*grabber
	displays      map[string]*display
	exporterNames []string
	importerNames []string

	mu     sync.RWMutex
	closed bool
}

// ID implements chain.Chain
func (c *Chain) ID() string { return c.id }

// Importers implements chain.Chain
func (c *Chain) Importers() []string { return c.importerNames }

// Exporters implements chain.Chain
func (c *Chain) Exporters() []string { return c.exporterNames }

func (c *Chain) display(element string) (*display, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, chain.ErrClosed
	}
	d, ok := c.displays[element]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrUnknownElement, element)
	}
	return d, nil
}

// LeaseBuffer implements chain.Chain
func (c *Chain) LeaseBuffer(element string) (*frame.Buffer, error) {
	d, err := c.display(element)
	if err != nil {
		return nil, err
	}
	return d.pool.Lease()
}

// ReleaseBuffer implements chain.Chain
func (c *Chain) ReleaseBuffer(element string, buf *frame.Buffer) error {
	d, err := c.display(element)
	if err != nil {
		return err
	}
	return d.pool.Release(buf)
}

// PushBuffer implements chain.Chain
func (c *Chain) PushBuffer(element string, buf *frame.Buffer, meta frame.Metadata) error {
	d, err := c.display(element)
	if err != nil {
		return err
	}
	return d.push(buf, meta)
}

// SetExportCallback implements chain.Chain
func (c *Chain) SetExportCallback(element string, fn chain.ExportFunc) (chain.Subscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, chain.ErrClosed
	}
	g, ok := c.grabbers[element]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrUnknownElement, element)
	}
	return g.sw.Subscribe(fn)
}

// Execute implements chain.Chain
func (c *Chain) Execute(command []byte, result chain.ResultFunc) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return chain.ErrClosed
	}
	switches := make(map[string]*chain.Switch, len(c.grabbers))
	for name, g := range c.grabbers {
		switches[name] = &g.sw
	}
	c.mu.RUnlock()

	res, err := chain.ApplyCommands(command, switches)
	if err != nil {
		return err
	}
	if result != nil {
		result(res)
	}
	return nil
}

// Close stops the grabbers and destroys the display windows
func (c *Chain) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for _, g := range c.grabbers {
		g.stop()
	}
	for _, d := range c.displays {
		d.close()
	}

	logger.WithComponent("x11").Info().Str("chain", c.id).Msg("Chain closed")
	return nil
}
