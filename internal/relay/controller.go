package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/config"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
	"github.com/bryanchriswhite/FrameFilter/internal/queue"
)

// Runtime is the chain subsystem. *chain.Runtime implements it.
type Runtime interface {
	Initialize(global json.RawMessage) error
	NewChain(def config.ChainConfig, onError chain.ErrorFunc) (chain.Chain, error)
	Finalize() error
}

// Options name the chains and elements the relay connects
type Options struct {
	ImportChain    string
	ExportChain    string
	Importer       string
	Exporter       string
	CommandTimeout time.Duration
}

// DefaultOptions returns the element names used by the stock pipeline file
func DefaultOptions() Options {
	return Options{
		ImportChain:    "import",
		ExportChain:    "export",
		Importer:       "importer",
		Exporter:       "exporter",
		CommandTimeout: 5 * time.Second,
	}
}

// Controller states
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateStopped = "stopped"
)

// ChainInfo describes one constructed chain
type ChainInfo struct {
	ID        string   `json:"id"`
	Importers []string `json:"importers"`
	Exporters []string `json:"exporters"`
}

// Controller owns the relay lifecycle. Start and Shutdown each run their
// steps strictly in order.
type Controller struct {
	runtime   Runtime
	pipeline  *config.Pipeline
	transform Transformer
	opts      Options
	stats     Stats
	runID     string
	log       zerolog.Logger

	mu         sync.Mutex
	state      string
	startedAt  time.Time
	registry   *chain.Registry
	queue      *queue.Queue[Entry]
	export     *chain.ExportPort
	sub        chain.Subscription
	workerDone chan struct{}
}

// NewController prepares a relay for the given pipeline
func NewController(rt Runtime, p *config.Pipeline, transform Transformer, opts Options) *Controller {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultOptions().CommandTimeout
	}
	runID := uuid.New().String()
	return &Controller{
		runtime:   rt,
		pipeline:  p,
		transform: transform,
		opts:      opts,
		runID:     runID,
		log:       logger.WithComponent("relay").With().Str("run_id", runID).Logger(),
		state:     StateIdle,
	}
}

// RunID identifies this controller in logs and stats
func (c *Controller) RunID() string {
	return c.runID
}

// Start initializes the runtime, builds the chains, starts the worker,
// subscribes to the exporter and switches it on. On failure everything
// already set up is torn down again.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("controller is %s", c.state)
	}

	if err := c.runtime.Initialize(c.pipeline.IFF); err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}

	chains := make([]chain.Chain, 0, len(c.pipeline.Chains))
	for _, def := range c.pipeline.Chains {
		ch, err := c.runtime.NewChain(def, c.onElementError)
		if err != nil {
			c.rollback(chains)
			return err
		}
		chains = append(chains, ch)
		c.log.Info().Str("chain", def.ID).Msg("Chain created")
	}

	registry, err := chain.NewRegistry(chains...)
	if err != nil {
		c.rollback(chains)
		return err
	}

	importer, err := registry.ImportPort(c.opts.ImportChain, c.opts.Importer)
	if err != nil {
		c.rollback(chains)
		return fmt.Errorf("resolve importer: %w", err)
	}
	export, err := registry.ExportPort(c.opts.ExportChain, c.opts.Exporter)
	if err != nil {
		c.rollback(chains)
		return fmt.Errorf("resolve exporter: %w", err)
	}

	q := queue.New[Entry]()
	rx, err := q.Receiver()
	if err != nil {
		c.rollback(chains)
		return err
	}

	worker := NewWorker(rx, importer, c.transform, &c.stats)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run()
	}()

	stopWorker := func() {
		q.Stop()
		<-workerDone
	}

	handoff := NewHandoff(importer, q.Sender(), &c.stats)
	sub, err := export.Subscribe(handoff.OnFrame)
	if err != nil {
		stopWorker()
		c.rollback(chains)
		return fmt.Errorf("register export callback: %w", err)
	}

	if err := c.command(ctx, export, chain.CommandOn); err != nil {
		sub.Cancel()
		stopWorker()
		c.rollback(chains)
		return fmt.Errorf("switch exporter on: %w", err)
	}

	c.registry = registry
	c.queue = q
	c.export = export
	c.sub = sub
	c.workerDone = workerDone
	c.startedAt = time.Now()
	c.state = StateRunning

	c.log.Info().
		Str("import", c.opts.ImportChain+"/"+c.opts.Importer).
		Str("export", c.opts.ExportChain+"/"+c.opts.Exporter).
		Msg("Relay started")
	return nil
}

// rollback closes chains built by a failed Start and finalizes the runtime
func (c *Controller) rollback(chains []chain.Chain) {
	for i := len(chains) - 1; i >= 0; i-- {
		if err := chains[i].Close(); err != nil {
			c.log.Warn().Err(err).Str("chain", chains[i].ID()).Msg("Failed to close chain")
		}
	}
	if err := c.runtime.Finalize(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to finalize runtime")
	}
}

// command sends cmd to the exporter and waits for its result, the
// command timeout or ctx, whichever comes first
func (c *Controller) command(ctx context.Context, export *chain.ExportPort, cmd string) error {
	done := make(chan string, 1)
	if err := export.Command(cmd, func(result string) {
		select {
		case done <- result:
		default:
		}
	}); err != nil {
		return err
	}

	timer := time.NewTimer(c.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case result := <-done:
		c.log.Debug().Str("command", cmd).Str("result", result).Msg("Exporter command applied")
		return nil
	case <-timer.C:
		return fmt.Errorf("exporter command %q: no result after %v", cmd, c.opts.CommandTimeout)
	case <-ctx.Done():
		return fmt.Errorf("exporter command %q: %w", cmd, ctx.Err())
	}
}

func (c *Controller) onElementError(element string, code int) {
	c.stats.ElementErrors.Add(1)
	c.log.Error().
		Str("element", element).
		Int("code", code).
		Msgf("Chain element `%s` reported an error: %d", element, code)
}

// Shutdown stops the exporter, cancels the export callback, drains the
// queue, waits for the worker, closes the chains and finalizes the
// runtime. A missing "off" result only delays the remaining steps; they
// always run. Calling Shutdown again is a no-op.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		if c.state == StateIdle {
			c.state = StateStopped
		}
		return nil
	}
	c.state = StateStopped

	var errs []error

	if err := c.command(ctx, c.export, chain.CommandOff); err != nil {
		c.log.Warn().Err(err).Msg("Exporter did not confirm off")
		errs = append(errs, err)
	}
	c.sub.Cancel()
	c.log.Debug().Msg("Export callback cancelled")

	c.queue.Stop()
	<-c.workerDone
	c.log.Debug().Uint64("processed", c.stats.Processed.Load()).Msg("Worker drained")

	if err := c.registry.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to close chains")
		errs = append(errs, err)
	}
	c.registry.Clear()

	if err := c.runtime.Finalize(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to finalize runtime")
		errs = append(errs, err)
	}

	snap := c.snapshot()
	c.log.Info().
		Uint64("received", snap.Received).
		Uint64("forwarded", snap.Forwarded).
		Uint64("dropped", snap.Dropped()).
		Msg("Relay stopped")
	return errors.Join(errs...)
}

// Stats returns the current counters
func (c *Controller) Stats() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() Snapshot {
	snap := c.stats.Snapshot()
	snap.RunID = c.runID
	snap.State = c.state
	snap.StartedAt = c.startedAt
	if c.queue != nil {
		snap.QueueDepth = c.queue.Len()
	}
	return snap
}

// State returns idle, running or stopped
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Chains describes the chains built by Start
func (c *Controller) Chains() []ChainInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry == nil {
		return nil
	}
	var infos []ChainInfo
	for _, id := range c.registry.IDs() {
		ch, ok := c.registry.Get(id)
		if !ok {
			continue
		}
		infos = append(infos, ChainInfo{ID: id, Importers: ch.Importers(), Exporters: ch.Exporters()})
	}
	return infos
}
