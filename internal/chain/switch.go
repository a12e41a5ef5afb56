package chain

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

// Switch is the on/off state and callback slot of one exporter. Backends
// call Deliver for each produced frame; it reaches the callback only while
// the exporter is on and subscribed.
type Switch struct {
	on atomic.Bool

	mu  sync.RWMutex
	fn  ExportFunc
	gen uint64
}

// Subscribe registers fn. Only one callback may be registered at a time.
func (s *Switch) Subscribe(fn ExportFunc) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("export callback must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fn != nil {
		return nil, ErrSubscribed
	}
	s.gen++
	s.fn = fn
	return &subscription{s: s, gen: s.gen}, nil
}

// SetOn turns frame delivery on or off
func (s *Switch) SetOn(on bool) {
	s.on.Store(on)
}

// On reports whether the exporter is on
func (s *Switch) On() bool {
	return s.on.Load()
}

// Apply executes an exporter command
func (s *Switch) Apply(cmd string) error {
	switch cmd {
	case CommandOn:
		s.SetOn(true)
	case CommandOff:
		s.SetOn(false)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// Deliver hands a frame to the callback and reports whether it was called
func (s *Switch) Deliver(data []byte, meta frame.Metadata) bool {
	if !s.on.Load() {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fn == nil {
		return false
	}
	s.fn(data, meta)
	return true
}

// Subscribed reports whether a callback is registered
func (s *Switch) Subscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fn != nil
}

type subscription struct {
	s    *Switch
	gen  uint64
	once sync.Once
}

// Cancel waits for an in-flight delivery to return, then clears the slot
func (sub *subscription) Cancel() {
	sub.once.Do(func() {
		sub.s.mu.Lock()
		defer sub.s.mu.Unlock()
		if sub.s.gen == sub.gen {
			sub.s.fn = nil
		}
	})
}
