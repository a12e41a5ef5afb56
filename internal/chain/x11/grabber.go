package x11

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

type grabberConfig struct {
	Element string  `json:"element"`
	X       int     `json:"x"`
	Y       int     `json:"y"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
}

// grabber captures a region of the root window and exports it as RGB
type grabber struct {
	name   string
	conn   *xgb.Conn
	root   xproto.Window
	format zpixmapFormat
	x, y   int
	meta   frame.Metadata
	fps    float64
	sw     chain.Switch

	buf []byte
	seq uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newGrabber(conn *xgb.Conn, screen *xproto.ScreenInfo, f zpixmapFormat, cfg grabberConfig) (*grabber, error) {
	width, height := cfg.Width, cfg.Height
	if width == 0 {
		width = int(screen.WidthInPixels) - cfg.X
	}
	if height == 0 {
		height = int(screen.HeightInPixels) - cfg.Y
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("empty capture region %dx%d", width, height)
	}

	fps := cfg.FPS
	if fps <= 0 {
		fps = 10
	}

	meta := frame.Metadata{Width: uint32(width), Height: uint32(height), Format: frame.FormatRGB}
	return &grabber{
		name:   cfg.Element,
		conn:   conn,
		root:   screen.Root,
		format: f,
		x:      cfg.X,
		y:      cfg.Y,
		meta:   meta,
		fps:    fps,
		buf:    make([]byte, meta.FrameSize()),
		stopCh: make(chan struct{}),
	}, nil
}

func (g *grabber) start() {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		log := logger.WithComponent("x11")

		ticker := time.NewTicker(time.Duration(float64(time.Second) / g.fps))
		defer ticker.Stop()

		for {
			select {
			case <-g.stopCh:
				return
			case <-ticker.C:
				if !g.sw.On() || !g.sw.Subscribed() {
					continue
				}
				if err := g.grab(); err != nil {
					log.Warn().Err(err).Str("element", g.name).Msg("Capture failed")
				}
			}
		}
	}()
}

func (g *grabber) stop() {
	select {
	case <-g.stopCh:
	default:
		close(g.stopCh)
	}
	g.wg.Wait()
}

// grab captures one frame and delivers it
func (g *grabber) grab() error {
	width, height := int(g.meta.Width), int(g.meta.Height)

	reply, err := xproto.GetImage(
		g.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(g.root),
		int16(g.x), int16(g.y),
		uint16(width), uint16(height),
		0xffffffff,
	).Reply()
	if err != nil {
		return fmt.Errorf("failed to get image: %w", err)
	}

	if err := decodeZPixmap(g.buf, reply.Data, width, height, g.format); err != nil {
		return err
	}

	g.seq++
	meta := g.meta
	meta.Seq = g.seq
	meta.Timestamp = time.Now()
	g.sw.Deliver(g.buf, meta)
	return nil
}
