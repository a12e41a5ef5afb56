package relay

import (
	"sync/atomic"
	"time"
)

// Stats counts what happened to frames on their way through the relay
type Stats struct {
	Received        atomic.Uint64
	Enqueued        atomic.Uint64
	DroppedNoBuffer atomic.Uint64
	LeaseErrors     atomic.Uint64
	DroppedCapacity atomic.Uint64
	DroppedStopped  atomic.Uint64
	Processed       atomic.Uint64
	TransformErrors atomic.Uint64
	Forwarded       atomic.Uint64
	ForwardErrors   atomic.Uint64
	ElementErrors   atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	RunID           string    `json:"run_id"`
	State           string    `json:"state"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	QueueDepth      int       `json:"queue_depth"`
	Received        uint64    `json:"received"`
	Enqueued        uint64    `json:"enqueued"`
	DroppedNoBuffer uint64    `json:"dropped_no_buffer"`
	LeaseErrors     uint64    `json:"lease_errors"`
	DroppedCapacity uint64    `json:"dropped_capacity"`
	DroppedStopped  uint64    `json:"dropped_stopped"`
	Processed       uint64    `json:"processed"`
	TransformErrors uint64    `json:"transform_errors"`
	Forwarded       uint64    `json:"forwarded"`
	ForwardErrors   uint64    `json:"forward_errors"`
	ElementErrors   uint64    `json:"element_errors"`
}

// Snapshot copies the counters
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Received:        s.Received.Load(),
		Enqueued:        s.Enqueued.Load(),
		DroppedNoBuffer: s.DroppedNoBuffer.Load(),
		LeaseErrors:     s.LeaseErrors.Load(),
		DroppedCapacity: s.DroppedCapacity.Load(),
		DroppedStopped:  s.DroppedStopped.Load(),
		Processed:       s.Processed.Load(),
		TransformErrors: s.TransformErrors.Load(),
		Forwarded:       s.Forwarded.Load(),
		ForwardErrors:   s.ForwardErrors.Load(),
		ElementErrors:   s.ElementErrors.Load(),
	}
}

// Dropped is the number of frames that never reached the queue
func (s Snapshot) Dropped() uint64 {
	return s.DroppedNoBuffer + s.LeaseErrors + s.DroppedCapacity + s.DroppedStopped
}
