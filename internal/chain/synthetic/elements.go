package synthetic

import (
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

// exporter produces a moving gradient. With fps 0 frames are only produced
// by emit.
type exporter struct {
	name string
	meta frame.Metadata
	fps  float64
	sw   chain.Switch

	mu   sync.Mutex // guards buf and seq
	buf  []byte
	view *frame.View
	seq  uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newExporter(cfg exporterConfig) (*exporter, error) {
	format, err := frame.ParsePixelFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	meta := frame.Metadata{
		Width:   cfg.Width,
		Height:  cfg.Height,
		Padding: cfg.Padding,
		Format:  format,
	}
	if meta.Width == 0 {
		meta.Width = 640
	}
	if meta.Height == 0 {
		meta.Height = 480
	}

	fps := 30.0
	if cfg.FPS != nil {
		fps = *cfg.FPS
	}
	if fps < 0 {
		return nil, fmt.Errorf("fps must not be negative, got %v", fps)
	}

	buf := make([]byte, meta.FrameSize())
	view, err := frame.NewView(buf, meta)
	if err != nil {
		return nil, err
	}

	return &exporter{
		name:   cfg.Element,
		meta:   meta,
		fps:    fps,
		buf:    buf,
		view:   view,
		stopCh: make(chan struct{}),
	}, nil
}

func (e *exporter) start() {
	if e.fps == 0 {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(time.Duration(float64(time.Second) / e.fps))
		defer ticker.Stop()

		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.emit()
			}
		}
	}()

	logger.WithComponent("synthetic").Debug().Str("element", e.name).Float64("fps", e.fps).Msg("Generator started")
}

func (e *exporter) stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.wg.Wait()
}

// emit renders the next frame and delivers it while the exporter is on and
// someone listens. Unheard frames do not use up a sequence number.
func (e *exporter) emit() bool {
	if !e.sw.On() || !e.sw.Subscribed() {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	e.render(e.seq)

	meta := e.meta
	meta.Seq = e.seq
	meta.Timestamp = time.Now()
	return e.sw.Deliver(e.buf, meta)
}

func (e *exporter) render(seq uint64) {
	shift := int(seq)
	for y := 0; y < e.view.Height(); y++ {
		for x := 0; x < e.view.Width(); x++ {
			e.view.SetPixel(x, y, color.RGBA{
				R: uint8(x + shift),
				G: uint8(y + shift),
				B: 0x40,
				A: 0xff,
			})
		}
	}
}

// importer recycles pushed buffers through its pool
type importer struct {
	name   string
	pool   *chain.Pool
	pushed atomic.Uint64

	mu       sync.Mutex
	observer FrameFunc
}

func newImporter(cfg importerConfig) (*importer, error) {
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
	logger.WithComponent("synthetic").Debug().
		Str("element", cfg.Element).
		Int("buffers", pool.Count()).
		Int("buffer_size", pool.BufferSize()).
		Msg("Importer ready")
	return &importer{name: cfg.Element, pool: pool}, nil
}

func (im *importer) push(buf *frame.Buffer, meta frame.Metadata) error {
	if !im.pool.Owns(buf) {
		return fmt.Errorf("push to %s: %w", im.name, chain.ErrNotLeased)
	}

	im.mu.Lock()
	observer := im.observer
	im.mu.Unlock()

	if observer != nil {
		data := buf.Bytes()
		if size := meta.FrameSize(); size > 0 && size <= len(data) {
			data = data[:size]
		}
		observer(data, meta)
	}

	im.pushed.Add(1)
	return im.pool.Release(buf)
}
