package relay

import (
	"errors"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
	"github.com/bryanchriswhite/FrameFilter/internal/queue"
)

// Transformer edits a frame in place. *overlay.Manager implements it.
type Transformer interface {
	Transform(data []byte, meta frame.Metadata) error
}

// Worker is the single consumer of the transfer queue
type Worker struct {
	rx        *queue.Receiver[Entry]
	importer  Importer
	transform Transformer
	stats     *Stats
}

// NewWorker creates a worker. A nil transform forwards frames unchanged.
func NewWorker(rx *queue.Receiver[Entry], importer Importer, transform Transformer, stats *Stats) *Worker {
	return &Worker{rx: rx, importer: importer, transform: transform, stats: stats}
}

// Run processes entries in arrival order until the queue is stopped and
// empty
func (w *Worker) Run() {
	log := logger.WithComponent("relay")
	log.Debug().Msg("Worker started")
	w.rx.Run(w.process)
	log.Debug().Msg("Worker stopped")
}

func (w *Worker) process(e Entry) {
	log := logger.WithComponent("relay")
	w.stats.Processed.Add(1)

	if w.transform != nil {
		if err := w.transform.Transform(e.Buffer.Bytes(), e.Meta); err != nil {
			w.stats.TransformErrors.Add(1)
			log.Warn().Err(err).Uint64("seq", e.Meta.Seq).Msg("Transform failed, forwarding frame unchanged")
		}
	}

	if err := w.importer.Push(e.Buffer, e.Meta); err != nil {
		w.stats.ForwardErrors.Add(1)
		log.Error().Err(err).Uint64("seq", e.Meta.Seq).Msg("Failed to forward frame")
		if errors.Is(err, chain.ErrNotLeased) {
			// the importer never held it, so there is nothing to return
			return
		}
		if err := w.importer.Release(e.Buffer); err != nil {
			log.Debug().Err(err).Uint64("buffer", e.Buffer.ID()).Msg("Buffer not returned after failed push")
		}
		return
	}
	w.stats.Forwarded.Add(1)
}
