// Package synthetic is an in-process chain backend. Its exporters generate a
// moving test pattern and its importers recycle pushed buffers, optionally
// showing each frame to an observer first.
package synthetic

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/config"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

// Kind is the chain "kind" served by this backend
const Kind = "synthetic"

const (
	defaultBuffers    = 4
	defaultBufferSize = 1920 * 1080 * 4
)

// FrameFunc observes a frame pushed into an importer. data is only valid
// for the duration of the call.
type FrameFunc func(data []byte, meta frame.Metadata)

type exporterConfig struct {
	Element string   `json:"element"`
	Width   uint32   `json:"width"`
	Height  uint32   `json:"height"`
	Padding uint32   `json:"padding"`
	Format  string   `json:"format"`
	FPS     *float64 `json:"fps"`
}

type importerConfig struct {
	Element    string `json:"element"`
	Buffers    int    `json:"buffers"`
	BufferSize int    `json:"buffer_size"`
}

type chainConfig struct {
	Exporters []exporterConfig `json:"exporters"`
	Importers []importerConfig `json:"importers"`
}

// Backend builds synthetic chains
type Backend struct {
	mu     sync.Mutex
	chains map[string]*Chain
}

// NewBackend creates the synthetic backend
func NewBackend() *Backend {
	return &Backend{chains: make(map[string]*Chain)}
}

// Name implements chain.Backend
func (b *Backend) Name() string {
	return Kind
}

// Init implements chain.Backend
func (b *Backend) Init(json.RawMessage) error {
	return nil
}

// Deinit implements chain.Backend
func (b *Backend) Deinit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chains = make(map[string]*Chain)
	return nil
}

// Chain returns a chain built by this backend
func (b *Backend) Chain(id string) (*Chain, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chains[id]
	return c, ok
}

// NewChain implements chain.Backend
func (b *Backend) NewChain(def config.ChainConfig, onError chain.ErrorFunc) (chain.Chain, error) {
	var cfg chainConfig
	if len(def.Raw) > 0 {
		if err := json.Unmarshal(def.Raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid synthetic chain: %w", err)
		}
	}

	c := &Chain{
		id:        def.ID,
		onError:   onError,
		exporters: make(map[string]*exporter),
		importers: make(map[string]*importer),
	}

	for _, ec := range cfg.Exporters {
		e, err := newExporter(ec)
		if err != nil {
			return nil, fmt.Errorf("exporter %q: %w", ec.Element, err)
		}
		if err := c.addName(ec.Element); err != nil {
			return nil, err
		}
		c.exporters[e.name] = e
		c.exporterNames = append(c.exporterNames, e.name)
	}

	for _, ic := range cfg.Importers {
		im, err := newImporter(ic)
		if err != nil {
			return nil, fmt.Errorf("importer %q: %w", ic.Element, err)
		}
		if err := c.addName(ic.Element); err != nil {
			return nil, err
		}
		c.importers[im.name] = im
		c.importerNames = append(c.importerNames, im.name)
	}

	for _, e := range c.exporters {
		e.start()
	}

	b.mu.Lock()
	b.chains[c.id] = c
	b.mu.Unlock()

	logger.WithComponent("synthetic").Info().
		Str("chain", c.id).
		Strs("exporters", c.exporterNames).
		Strs("importers", c.importerNames).
		Msg("Chain created")
	return c, nil
}

// Chain is a synthetic processing chain
type Chain struct {
	id            string
	onError       chain.ErrorFunc
	exporters     map[string]*exporter
	importers     map[string]*importer
	exporterNames []string
	importerNames []string

	mu     sync.RWMutex
	closed bool
}

func (c *Chain) addName(name string) error {
	if name == "" {
		return fmt.Errorf("chain %q: element without a name", c.id)
	}
	_, e := c.exporters[name]
	_, i := c.importers[name]
	if e || i {
		return fmt.Errorf("chain %q: duplicate element %q", c.id, name)
	}
	return nil
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

func (c *Chain) exporter(element string) (*exporter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, chain.ErrClosed
	}
	e, ok := c.exporters[element]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrUnknownElement, element)
	}
	return e, nil
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

// PushBuffer implements chain.Chain. The frame is shown to the observer,
// then the buffer goes back to the pool.
func (c *Chain) PushBuffer(element string, buf *frame.Buffer, meta frame.Metadata) error {
	im, err := c.importer(element)
	if err != nil {
		return err
	}
	return im.push(buf, meta)
}

// SetExportCallback implements chain.Chain
func (c *Chain) SetExportCallback(element string, fn chain.ExportFunc) (chain.Subscription, error) {
	e, err := c.exporter(element)
	if err != nil {
		return nil, err
	}
	return e.sw.Subscribe(fn)
}

// Execute implements chain.Chain. Commands apply synchronously.
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
	logger.WithComponent("synthetic").Debug().Str("chain", c.id).RawJSON("command", command).Str("result", res).Msg("Command executed")
	if result != nil {
		result(res)
	}
	return nil
}

// Emit generates one frame on an exporter and reports whether it reached
// a callback. It is how exporters with fps 0 are driven.
func (c *Chain) Emit(element string) (bool, error) {
	e, err := c.exporter(element)
	if err != nil {
		return false, err
	}
	return e.emit(), nil
}

// Observe sets the function that sees every frame pushed into an importer
func (c *Chain) Observe(element string, fn FrameFunc) error {
	im, err := c.importer(element)
	if err != nil {
		return err
	}
	im.mu.Lock()
	im.observer = fn
	im.mu.Unlock()
	return nil
}

// Pushed returns the number of frames pushed into an importer
func (c *Chain) Pushed(element string) uint64 {
	im, ok := c.importers[element]
	if !ok {
		return 0
	}
	return im.pushed.Load()
}

// Pool returns the buffer pool behind an importer
func (c *Chain) Pool(element string) (*chain.Pool, bool) {
	im, ok := c.importers[element]
	if !ok {
		return nil, false
	}
	return im.pool, true
}

// Fault reports an element error through the chain's error callback, the
// way a real chain reports asynchronous failures
func (c *Chain) Fault(element string, code int) {
	if c.onError != nil {
		c.onError(element, code)
	}
}

// Close implements chain.Chain
func (c *Chain) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for _, e := range c.exporters {
		e.stop()
	}

	logger.WithComponent("synthetic").Info().Str("chain", c.id).Msg("Chain closed")
	return nil
}
