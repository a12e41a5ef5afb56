package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

// Registry maps chain ids to constructed chains. It is filled once at
// startup and only cleared at teardown.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]Chain
	order  []string
}

// NewRegistry indexes chains by id. Duplicate ids are an error.
func NewRegistry(chains ...Chain) (*Registry, error) {
	r := &Registry{chains: make(map[string]Chain, len(chains))}
	for _, c := range chains {
		if _, exists := r.chains[c.ID()]; exists {
			return nil, fmt.Errorf("duplicate chain id %q", c.ID())
		}
		r.chains[c.ID()] = c
		r.order = append(r.order, c.ID())
	}
	return r, nil
}

// Get returns the chain with the given id
func (r *Registry) Get(id string) (Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[id]
	return c, ok
}

// IDs returns chain ids in construction order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ImportPort resolves an import element once so per-frame calls need no lookup
func (r *Registry) ImportPort(chainID, element string) (*ImportPort, error) {
	c, ok := r.Get(chainID)
	if !ok {
		return nil, fmt.Errorf("chain %q not found", chainID)
	}
	if !HasElement(c.Importers(), element) {
		return nil, fmt.Errorf("chain %q: %w %q", chainID, ErrUnknownElement, element)
	}
	return &ImportPort{chain: c, element: element}, nil
}

// ExportPort resolves an export element
func (r *Registry) ExportPort(chainID, element string) (*ExportPort, error) {
	c, ok := r.Get(chainID)
	if !ok {
		return nil, fmt.Errorf("chain %q not found", chainID)
	}
	if !HasElement(c.Exporters(), element) {
		return nil, fmt.Errorf("chain %q: %w %q", chainID, ErrUnknownElement, element)
	}
	return &ExportPort{chain: c, element: element}, nil
}

// Close closes every chain in reverse construction order
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		if err := r.chains[r.order[i]].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chain %q: %w", r.order[i], err))
		}
	}
	return errors.Join(errs...)
}

// Clear drops every chain
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains = make(map[string]Chain)
	r.order = nil
}

// Len returns the number of registered chains
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}

// ImportPort is a resolved import element
type ImportPort struct {
	chain   Chain
	element string
}

// ChainID returns the id of the owning chain
func (p *ImportPort) ChainID() string { return p.chain.ID() }

// Element returns the element name
func (p *ImportPort) Element() string { return p.element }

// Lease takes a free buffer without waiting
func (p *ImportPort) Lease() (*frame.Buffer, error) {
	return p.chain.LeaseBuffer(p.element)
}

// Release returns an unused buffer
func (p *ImportPort) Release(buf *frame.Buffer) error {
	return p.chain.ReleaseBuffer(p.element, buf)
}

// Push hands a filled buffer to the chain
func (p *ImportPort) Push(buf *frame.Buffer, meta frame.Metadata) error {
	return p.chain.PushBuffer(p.element, buf, meta)
}

// ExportPort is a resolved export element
type ExportPort struct {
	chain   Chain
	element string
}

// ChainID returns the id of the owning chain
func (p *ExportPort) ChainID() string { return p.chain.ID() }

// Element returns the element name
func (p *ExportPort) Element() string { return p.element }

// Subscribe registers the export callback
func (p *ExportPort) Subscribe(fn ExportFunc) (Subscription, error) {
	return p.chain.SetExportCallback(p.element, fn)
}

// Command sends cmd to the exporter; result receives the result payload
func (p *ExportPort) Command(cmd string, result ResultFunc) error {
	return p.chain.Execute(EncodeCommand(p.element, cmd), result)
}
