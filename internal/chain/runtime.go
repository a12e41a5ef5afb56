package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bryanchriswhite/FrameFilter/internal/config"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

// DefaultKind is used for chains without a "kind" when the IFF section
// names no default_kind
const DefaultKind = "gstreamer"

// Runtime owns the chain backends for the life of the process. Backends
// are initialised on first use and deinitialised in reverse order.
type Runtime struct {
	mu          sync.Mutex
	backends    map[string]Backend
	active      []Backend
	global      json.RawMessage
	defaultKind string
	initialized bool
}

// NewRuntime registers the available backends
func NewRuntime(backends ...Backend) *Runtime {
	r := &Runtime{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

// Initialize stores the subsystem-global section. It must be called
// before any chain is built.
func (r *Runtime) Initialize(global json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return fmt.Errorf("runtime already initialized")
	}

	var opts struct {
		DefaultKind string `json:"default_kind"`
	}
	if len(global) > 0 {
		if err := json.Unmarshal(global, &opts); err != nil {
			return fmt.Errorf("invalid IFF section: %w", err)
		}
	}

	r.global = global
	r.defaultKind = opts.DefaultKind
	if r.defaultKind == "" {
		r.defaultKind = DefaultKind
	}
	r.initialized = true

	logger.WithComponent("runtime").Info().Str("default_kind", r.defaultKind).Msg("Runtime initialized")
	return nil
}

// NewChain builds a chain with the backend its kind selects
func (r *Runtime) NewChain(def config.ChainConfig, onError ErrorFunc) (Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, fmt.Errorf("runtime not initialized")
	}

	kind := def.Kind
	if kind == "" {
		kind = r.defaultKind
	}
	b, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("chain %q: unknown kind %q", def.ID, kind)
	}

	if !r.isActive(b) {
		if err := b.Init(r.global); err != nil {
			return nil, fmt.Errorf("init %s backend: %w", kind, err)
		}
		r.active = append(r.active, b)
		logger.WithComponent("runtime").Debug().Str("kind", kind).Msg("Backend initialized")
	}

	c, err := b.NewChain(def, onError)
	if err != nil {
		return nil, fmt.Errorf("create chain %q: %w", def.ID, err)
	}
	return c, nil
}

func (r *Runtime) isActive(b Backend) bool {
	for _, a := range r.active {
		if a == b {
			return true
		}
	}
	return false
}

// Finalize deinitialises every backend that was used. It is safe to call
// more than once.
func (r *Runtime) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.active) - 1; i >= 0; i-- {
		if err := r.active[i].Deinit(); err != nil {
			errs = append(errs, fmt.Errorf("deinit %s backend: %w", r.active[i].Name(), err))
		}
	}
	r.active = nil
	r.initialized = false

	logger.WithComponent("runtime").Info().Msg("Runtime finalized")
	return errors.Join(errs...)
}

// Kinds returns the sorted names of the registered backends
func (r *Runtime) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]string, 0, len(r.backends))
	for name := range r.backends {
		kinds = append(kinds, name)
	}
	sort.Strings(kinds)
	return kinds
}
