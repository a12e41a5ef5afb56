// Package relay moves frames from the export chain to the import chain:
// the hand-off copies each exported frame into a leased import buffer, the
// worker transforms queued buffers and pushes them on, and the controller
// starts and stops the whole thing in a fixed order.
package relay

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
	"github.com/bryanchriswhite/FrameFilter/internal/queue"
)

// Entry is a filled import buffer waiting for the worker. The queue, then
// the worker, is its only owner.
type Entry struct {
	Buffer *frame.Buffer
	Meta   frame.Metadata
}

// Importer is the import side of the relay. *chain.ImportPort implements it.
type Importer interface {
	Lease() (*frame.Buffer, error)
	Release(buf *frame.Buffer) error
	Push(buf *frame.Buffer, meta frame.Metadata) error
}

// CapacityError reports an import buffer smaller than the exported frame
type CapacityError struct {
	Capacity int
	Size     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("import buffer too small: capacity %d bytes, frame %d bytes", e.Capacity, e.Size)
}

// Handoff is the export callback. It never blocks on the worker: a frame
// that cannot be placed in an import buffer is dropped.
type Handoff struct {
	importer Importer
	queue    queue.Sender[Entry]
	stats    *Stats
}

// NewHandoff creates the export callback target
func NewHandoff(importer Importer, q queue.Sender[Entry], stats *Stats) *Handoff {
	return &Handoff{importer: importer, queue: q, stats: stats}
}

// OnFrame copies data into a leased import buffer and queues it. data is
// not retained after OnFrame returns.
func (h *Handoff) OnFrame(data []byte, meta frame.Metadata) {
	h.stats.Received.Add(1)

	buf, err := h.importer.Lease()
	if err != nil {
		log := logger.WithComponent("relay")
		if errors.Is(err, chain.ErrNoBuffer) {
			h.stats.DroppedNoBuffer.Add(1)
			log.Warn().Uint64("seq", meta.Seq).Msg("No free import buffer, dropping frame")
		} else {
			h.stats.LeaseErrors.Add(1)
			log.Error().Err(err).Uint64("seq", meta.Seq).Msg("Import buffer lease failed, dropping frame")
		}
		return
	}

	if buf.Cap() < len(data) {
		h.release(buf)
		h.stats.DroppedCapacity.Add(1)
		err := &CapacityError{Capacity: buf.Cap(), Size: len(data)}
		logger.WithComponent("relay").Error().
			Err(err).
			Int("capacity", err.Capacity).
			Int("size", err.Size).
			Msg("Frame does not fit the import buffer, dropping frame")
		return
	}

	copy(buf.Bytes(), data)

	if !h.queue.Push(Entry{Buffer: buf, Meta: meta}) {
		h.release(buf)
		h.stats.DroppedStopped.Add(1)
		logger.WithComponent("relay").Debug().Uint64("seq", meta.Seq).Msg("Queue stopped, dropping frame")
		return
	}
	h.stats.Enqueued.Add(1)
}

func (h *Handoff) release(buf *frame.Buffer) {
	if err := h.importer.Release(buf); err != nil {
		logger.WithComponent("relay").Error().Err(err).Uint64("buffer", buf.ID()).Msg("Failed to release import buffer")
	}
}
