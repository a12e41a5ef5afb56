package frame

// Buffer is a handle to memory owned by an import-side pool. Whoever holds
// the handle is its only user until it is pushed or released.
type Buffer struct {
	id   uint64
	data []byte
}

// NewBuffer wraps data as a buffer with the given pool-local id
func NewBuffer(id uint64, data []byte) *Buffer {
	return &Buffer{id: id, data: data}
}

// ID returns the pool-local identifier
func (b *Buffer) ID() uint64 {
	return b.id
}

// Cap returns the number of bytes the buffer can hold
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Bytes returns the backing memory
func (b *Buffer) Bytes() []byte {
	return b.data
}
