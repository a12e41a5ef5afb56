package chain

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

// Pool is a fixed set of pre-allocated import buffers. Lease never waits:
// when every buffer is out it fails with ErrNoBuffer and the caller drops
// the frame.
type Pool struct {
	mu         sync.Mutex
	free       []*frame.Buffer
	leased     map[uint64]*frame.Buffer
	count      int
	bufferSize int
}

// NewPool allocates count buffers of size bytes each
func NewPool(count, size int) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("buffer count must be positive, got %d", count)
	}
	if size <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", size)
	}

	p := &Pool{
		free:       make([]*frame.Buffer, 0, count),
		leased:     make(map[uint64]*frame.Buffer, count),
		count:      count,
		bufferSize: size,
	}
	for i := 0; i < count; i++ {
		p.free = append(p.free, frame.NewBuffer(uint64(i), make([]byte, size)))
	}
	return p, nil
}

// Lease takes a free buffer
func (p *Pool) Lease() (*frame.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return nil, ErrNoBuffer
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	p.leased[buf.ID()] = buf
	return buf, nil
}

// Release returns a leased buffer. Unknown buffers and double releases
// fail with ErrNotLeased.
func (p *Pool) Release(buf *frame.Buffer) error {
	if buf == nil {
		return ErrNotLeased
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.leased[buf.ID()] != buf {
		return fmt.Errorf("release of buffer %d: %w", buf.ID(), ErrNotLeased)
	}
	delete(p.leased, buf.ID())
	p.free = append(p.free, buf)
	return nil
}

// Owns reports whether buf is currently leased from this pool
func (p *Pool) Owns(buf *frame.Buffer) bool {
	if buf == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leased[buf.ID()] == buf
}

// Leased returns the number of buffers currently out
func (p *Pool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

// Count returns the total number of buffers
func (p *Pool) Count() int {
	return p.count
}

// BufferSize returns the capacity of each buffer
func (p *Pool) BufferSize() int {
	return p.bufferSize
}
