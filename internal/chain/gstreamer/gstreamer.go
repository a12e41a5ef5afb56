// Package gstreamer builds chains from GStreamer launch strings. Exporters
// are appsink elements, importers are appsrc elements.
package gstreamer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/config"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

// Kind is the chain "kind" served by this backend
const Kind = "gstreamer"

const (
	defaultBuffers = 4
	pullTimeout    = 50 * time.Millisecond
)

type exporterConfig struct {
	Element string `json:"element"`
}

type importerConfig struct {
	Element    string `json:"element"`
	Buffers    int    `json:"buffers"`
	BufferSize int    `json:"buffer_size"`
}

type chainConfig struct {
	Pipeline  string           `json:"pipeline"`
	Exporters []exporterConfig `json:"exporters"`
	Importers []importerConfig `json:"importers"`
}

// Backend builds GStreamer chains
type Backend struct{}

// NewBackend creates the GStreamer backend
func NewBackend() *Backend {
	return &Backend{}
}

// Name implements chain.Backend
func (b *Backend) Name() string {
	return Kind
}

// Init implements chain.Backend
func (b *Backend) Init(json.RawMessage) error {
	gst.Init(nil)
	logger.WithComponent("gstreamer").Debug().Msg("GStreamer initialized")
	return nil
}

// Deinit implements chain.Backend
func (b *Backend) Deinit() error {
	gst.Deinit()
	return nil
}

// NewChain implements chain.Backend. The pipeline is set to PLAYING before
// it is returned.
func (b *Backend) NewChain(def config.ChainConfig, onError chain.ErrorFunc) (chain.Chain, error) {
	var cfg chainConfig
	if err := json.Unmarshal(def.Raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid gstreamer chain: %w", err)
	}
	if cfg.Pipeline == "" {
		return nil, fmt.Errorf("gstreamer chain %q: missing `pipeline`", def.ID)
	}

	log := logger.WithComponent("gstreamer")
	log.Debug().Str("chain", def.ID).Str("pipeline", cfg.Pipeline).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(cfg.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Chain{
		id:        def.ID,
		pipeline:  pipeline,
		onError:   onError,
		exporters: make(map[string]*exporter),
		importers: make(map[string]*importer),
		cancel:    cancel,
	}

	for _, ec := range cfg.Exporters {
		elem, err := pipeline.GetElementByName(ec.Element)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to get appsink %q: %w", ec.Element, err)
		}
		c.exporters[ec.Element] = &exporter{name: ec.Element, sink: app.SinkFromElement(elem)}
		c.exporterNames = append(c.exporterNames, ec.Element)
	}

	for _, ic := range cfg.Importers {
		elem, err := pipeline.GetElementByName(ic.Element)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to get appsrc %q: %w", ic.Element, err)
		}
		count := ic.Buffers
		if count == 0 {
			count = defaultBuffers
		}
		pool, err := chain.NewPool(count, ic.BufferSize)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("importer %q: %w", ic.Element, err)
		}
		log.Debug().
			Str("element", ic.Element).
			Int("buffers", pool.Count()).
			Int("buffer_size", pool.BufferSize()).
			Msg("Importer ready")
		c.importers[ic.Element] = &importer{name: ic.Element, src: app.SrcFromElement(elem), pool: pool}
		c.importerNames = append(c.importerNames, ic.Element)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	for _, e := range c.exporters {
		c.wg.Add(1)
		go func(e *exporter) {
			defer c.wg.Done()
			e.pullSamples(ctx)
		}(e)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.monitorBus(ctx)
	}()

	log.Info().Str("chain", def.ID).Msg("GStreamer pipeline started")
	return c, nil
}

// Chain is a running GStreamer pipeline
type Chain struct {
	id            string
	pipeline      *gst.Pipeline
	onError       chain.ErrorFunc
	exporters     map[string]*exporter
	importers     map[string]*importer
	exporterNames []string
	importerNames []string

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ID implements chain.Chain
func (c *Chain) ID() string { return c.id }

// Importers implements chain.Chain
func (c *Chain) Importers() []string { return c.importerNames }

// Exporters implements chain.Chain
func (c *Chain) Exporters() []string { return c.exporterNames }

func (c *Chain) importer(element string) (*importer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, chain.ErrClosed
	}
	im, ok := c.importers[element]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrUnknownElement, element)
	}
	return im, nil
}

// LeaseBuffer implements chain.Chain
func (c *Chain) LeaseBuffer(element string) (*frame.Buffer, error) {
	im, err := c.importer(element)
	if err != nil {
		return nil, err
	}
	return im.pool.Lease()
}

// ReleaseBuffer implements chain.Chain
func (c *Chain) ReleaseBuffer(element string, buf *frame.Buffer) error {
	im, err := c.importer(element)
	if err != nil {
		return err
	}
	return im.pool.Release(buf)
}

// PushBuffer implements chain.Chain. The frame bytes are copied into a
// GStreamer buffer and the pool buffer is released right away.
func (c *Chain) PushBuffer(element string, buf *frame.Buffer, meta frame.Metadata) error {
	im, err := c.importer(element)
	if err != nil {
		return err
	}
	return im.push(buf, meta)
}

// SetExportCallback implements chain.Chain
func (c *Chain) SetExportCallback(element string, fn chain.ExportFunc) (chain.Subscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, chain.ErrClosed
	}
	e, ok := c.exporters[element]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrUnknownElement, element)
	}
	return e.sw.Subscribe(fn)
}

// Execute implements chain.Chain
func (c *Chain) Execute(command []byte, result chain.ResultFunc) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return chain.ErrClosed
	}
	switches := make(map[string]*chain.Switch, len(c.exporters))
	for name, e := range c.exporters {
		switches[name] = &e.sw
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

// Close stops the pipeline
func (c *Chain) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	for _, im := range c.importers {
		im.src.EndStream()
	}
	if err := c.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop pipeline: %w", err)
	}

	logger.WithComponent("gstreamer").Info().Str("chain", c.id).Msg("GStreamer pipeline stopped")
	return nil
}

// monitorBus reports element errors until ctx is cancelled
func (c *Chain) monitorBus(ctx context.Context) {
	log := logger.WithComponent("gstreamer")
	bus := c.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(pullTimeout)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			log.Info().Str("chain", c.id).Msg("End of stream")

		case gst.MessageWarning:
			gwarn := msg.ParseWarning()
			logger.Log(logger.WarnLevel, "gstreamer",
				fmt.Sprintf("Chain `%s` element `%s` warned: %s", c.id, msg.Source(), gwarn.Error()))

		case gst.MessageError:
			gerr := msg.ParseError()
			code := classifyError(gerr.Error(), gerr.DebugString())
			log.Debug().
				Str("chain", c.id).
				Str("element", msg.Source()).
				Str("error", gerr.Error()).
				Str("debug", gerr.DebugString()).
				Msg("Pipeline error")
			if c.onError != nil {
				c.onError(msg.Source(), code)
			}
		}
	}
}

// exporter pulls samples from an appsink
type exporter struct {
	name string
	sink *app.Sink
	sw   chain.Switch
	seq  uint64
}

func (e *exporter) pullSamples(ctx context.Context) {
	log := logger.WithComponent("gstreamer")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("element", e.name).Msg("Sample polling stopped")
			return
		default:
		}

		sample := e.sink.TryPullSample(pullTimeout)
		if sample == nil {
			continue
		}
		e.processSample(sample)
	}
}

// processSample maps a sample and delivers it. The mapped bytes are only
// valid until Unmap, which matches the export callback contract.
func (e *exporter) processSample(sample *gst.Sample) {
	log := logger.WithComponent("gstreamer")

	buffer := sample.GetBuffer()
	if buffer == nil {
		return
	}
	caps := sample.GetCaps()
	if caps == nil {
		return
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	meta, err := metadataFromCaps(structure, len(data))
	if err != nil {
		log.Warn().Err(err).Str("element", e.name).Msg("Skipping sample")
		return
	}

	e.seq++
	meta.Seq = e.seq
	meta.Timestamp = time.Now()
	e.sw.Deliver(data, meta)
}

// importer feeds an appsrc from a pool of leased buffers
type importer struct {
	name string
	src  *app.Source
	pool *chain.Pool
}

func (im *importer) push(buf *frame.Buffer, meta frame.Metadata) error {
	return pushOwned(im.pool, im.name, buf, meta, func(data []byte) gst.FlowReturn {
		return im.src.PushBuffer(gst.NewBufferFromBytes(data))
	})
}

// pushOwned sends the frame held in buf and recycles buf once send accepted
// it. A refused frame leaves buf leased to the caller.
func pushOwned(pool *chain.Pool, name string, buf *frame.Buffer, meta frame.Metadata, send func([]byte) gst.FlowReturn) error {
	if !pool.Owns(buf) {
		return fmt.Errorf("push to %s: %w", name, chain.ErrNotLeased)
	}

	data := buf.Bytes()
	if size := meta.FrameSize(); size > 0 && size <= len(data) {
		data = data[:size]
	}
	if ret := send(data); ret != gst.FlowOK {
		return fmt.Errorf("push to %s: flow %v", name, ret)
	}
	return pool.Release(buf)
}
