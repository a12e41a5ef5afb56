package relay

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/FrameFilter/internal/chain"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/queue"
)

// ledgerImporter tracks who owns every buffer and records any operation
// on a buffer the relay does not hold
type ledgerImporter struct {
	pool *chain.Pool

	mu         sync.Mutex
	held       map[*frame.Buffer]bool
	pushed     []frame.Metadata
	violations []string
	pushErr    error
}

func newLedgerImporter(t *testing.T, count, size int) *ledgerImporter {
	t.Helper()
	pool, err := chain.NewPool(count, size)
	if err != nil {
		t.Fatal(err)
	}
	return &ledgerImporter{pool: pool, held: make(map[*frame.Buffer]bool)}
}

func (l *ledgerImporter) Lease() (*frame.Buffer, error) {
	buf, err := l.pool.Lease()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[buf] {
		l.violations = append(l.violations, fmt.Sprintf("buffer %d leased twice", buf.ID()))
	}
	l.held[buf] = true
	return buf, nil
}

func (l *ledgerImporter) Release(buf *frame.Buffer) error {
	l.mu.Lock()
	if !l.held[buf] {
		l.violations = append(l.violations, fmt.Sprintf("release of unheld buffer %d", buf.ID()))
	}
	delete(l.held, buf)
	l.mu.Unlock()
	return l.pool.Release(buf)
}

func (l *ledgerImporter) Push(buf *frame.Buffer, meta frame.Metadata) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pushErr != nil {
		return l.pushErr
	}
	if !l.held[buf] {
		l.violations = append(l.violations, fmt.Sprintf("push of unheld buffer %d", buf.ID()))
	}
	delete(l.held, buf)
	l.pushed = append(l.pushed, meta)
	// the chain consumes the frame and recycles the buffer
	return l.pool.Release(buf)
}

func (l *ledgerImporter) Violations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.violations...)
}

type transformFunc func(data []byte, meta frame.Metadata) error

func (f transformFunc) Transform(data []byte, meta frame.Metadata) error { return f(data, meta) }

func TestHandoffCopiesAndQueues(t *testing.T) {
	imp := newLedgerImporter(t, 2, 8)
	q := queue.New[Entry]()
	var stats Stats
	h := NewHandoff(imp, q.Sender(), &stats)

	data := []byte{1, 2, 3, 4}
	h.OnFrame(data, frame.Metadata{Seq: 9})
	data[0] = 99 // the exporter reuses its memory

	rx, _ := q.Receiver()
	q.Stop()
	var entries []Entry
	rx.Run(func(e Entry) { entries = append(entries, e) })

	if len(entries) != 1 {
		t.Fatalf("queued %d entries", len(entries))
	}
	if got := entries[0].Buffer.Bytes()[:4]; string(got) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("buffer holds %v", got)
	}
	if entries[0].Meta.Seq != 9 {
		t.Errorf("meta = %s", entries[0].Meta)
	}
	if s := stats.Snapshot(); s.Received != 1 || s.Enqueued != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHandoffBackPressureDrops(t *testing.T) {
	imp := newLedgerImporter(t, 1, 8)
	q := queue.New[Entry]()
	var stats Stats
	h := NewHandoff(imp, q.Sender(), &stats)

	h.OnFrame([]byte{1}, frame.Metadata{Seq: 1})
	h.OnFrame([]byte{2}, frame.Metadata{Seq: 2})

	s := stats.Snapshot()
	if s.Enqueued != 1 || s.DroppedNoBuffer != 1 {
		t.Errorf("stats = %+v", s)
	}
	if q.Len() != 1 {
		t.Errorf("queue length = %d", q.Len())
	}
}

type failingLease struct {
	*ledgerImporter
	err error
}

func (f failingLease) Lease() (*frame.Buffer, error) { return nil, f.err }

func TestHandoffLeaseFailureKinds(t *testing.T) {
	tests := []struct {
		name                string
		err                 error
		noBuffer, leaseErrs uint64
	}{
		{name: "pool empty", err: fmt.Errorf("lease: %w", chain.ErrNoBuffer), noBuffer: 1},
		{name: "chain closed", err: chain.ErrClosed, leaseErrs: 1},
		{name: "unknown element", err: fmt.Errorf("lease: %w", chain.ErrUnknownElement), leaseErrs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.New[Entry]()
			var stats Stats
			h := NewHandoff(failingLease{newLedgerImporter(t, 1, 8), tt.err}, q.Sender(), &stats)

			h.OnFrame([]byte{1}, frame.Metadata{})

			s := stats.Snapshot()
			if s.DroppedNoBuffer != tt.noBuffer || s.LeaseErrors != tt.leaseErrs {
				t.Errorf("no buffer = %d, lease errors = %d", s.DroppedNoBuffer, s.LeaseErrors)
			}
			if s.Dropped() != 1 || q.Len() != 0 {
				t.Errorf("dropped = %d, queued = %d", s.Dropped(), q.Len())
			}
		})
	}
}

func TestHandoffCapacityMismatch(t *testing.T) {
	imp := newLedgerImporter(t, 1, 4)
	q := queue.New[Entry]()
	var stats Stats
	h := NewHandoff(imp, q.Sender(), &stats)

	h.OnFrame(make([]byte, 5), frame.Metadata{})

	if s := stats.Snapshot(); s.DroppedCapacity != 1 || s.Enqueued != 0 {
		t.Errorf("stats = %+v", s)
	}
	if imp.pool.Leased() != 0 {
		t.Error("buffer not released after capacity mismatch")
	}
	if q.Len() != 0 {
		t.Error("undersized frame queued")
	}

	err := error(&CapacityError{Capacity: 4, Size: 5})
	var capErr *CapacityError
	if !errors.As(err, &capErr) || capErr.Error() != "import buffer too small: capacity 4 bytes, frame 5 bytes" {
		t.Errorf("CapacityError = %v", err)
	}
}

func TestHandoffAfterStopReleases(t *testing.T) {
	imp := newLedgerImporter(t, 1, 8)
	q := queue.New[Entry]()
	q.Stop()
	var stats Stats
	h := NewHandoff(imp, q.Sender(), &stats)

	h.OnFrame([]byte{1}, frame.Metadata{})

	if s := stats.Snapshot(); s.DroppedStopped != 1 {
		t.Errorf("stats = %+v", s)
	}
	if imp.pool.Leased() != 0 {
		t.Error("buffer kept after queue stopped")
	}
	if v := imp.Violations(); len(v) != 0 {
		t.Errorf("ownership violations: %v", v)
	}
}

func TestWorkerTransformFailureForwardsUnchanged(t *testing.T) {
	imp := newLedgerImporter(t, 1, 4)
	q := queue.New[Entry]()
	rx, _ := q.Receiver()
	var stats Stats

	buf, _ := imp.Lease()
	copy(buf.Bytes(), []byte{7, 7, 7, 7})
	q.Push(Entry{Buffer: buf, Meta: frame.Metadata{Seq: 1}})
	q.Stop()

	w := NewWorker(rx, imp, transformFunc(func([]byte, frame.Metadata) error {
		return errors.New("bad frame")
	}), &stats)
	w.Run()

	s := stats.Snapshot()
	if s.TransformErrors != 1 || s.Forwarded != 1 {
		t.Errorf("stats = %+v", s)
	}
	if string(buf.Bytes()) != string([]byte{7, 7, 7, 7}) {
		t.Errorf("frame changed: %v", buf.Bytes())
	}
}

func TestWorkerPushFailureReleases(t *testing.T) {
	imp := newLedgerImporter(t, 1, 4)
	imp.pushErr = errors.New("downstream gone")
	q := queue.New[Entry]()
	rx, _ := q.Receiver()
	var stats Stats

	buf, _ := imp.Lease()
	q.Push(Entry{Buffer: buf})
	q.Stop()

	NewWorker(rx, imp, nil, &stats).Run()

	if s := stats.Snapshot(); s.ForwardErrors != 1 || s.Forwarded != 0 {
		t.Errorf("stats = %+v", s)
	}
	if imp.pool.Leased() != 0 {
		t.Error("buffer not released after failed push")
	}
}

func TestWorkerLeavesDisownedBufferAlone(t *testing.T) {
	imp := newLedgerImporter(t, 1, 4)
	imp.pushErr = fmt.Errorf("push to sink: %w", chain.ErrNotLeased)
	q := queue.New[Entry]()
	rx, _ := q.Receiver()
	var stats Stats

	buf, _ := imp.Lease()
	q.Push(Entry{Buffer: buf})
	q.Stop()

	NewWorker(rx, imp, nil, &stats).Run()

	if s := stats.Snapshot(); s.ForwardErrors != 1 {
		t.Errorf("stats = %+v", s)
	}
	// no second release was attempted
	if imp.pool.Leased() != 1 {
		t.Errorf("leased = %d, want 1", imp.pool.Leased())
	}
	if v := imp.Violations(); len(v) != 0 {
		t.Errorf("ownership violations: %v", v)
	}
}

func TestBufferHasOneOwnerUnderLoad(t *testing.T) {
	imp := newLedgerImporter(t, 3, 16)
	q := queue.New[Entry]()
	rx, _ := q.Receiver()
	var stats Stats

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(rx, imp, transformFunc(func(data []byte, _ frame.Metadata) error {
			data[0]++
			return nil
		}), &stats).Run()
	}()

	h := NewHandoff(imp, q.Sender(), &stats)
	var g errgroup.Group
	for p := 0; p < 4; p++ {
		g.Go(func() error {
			for i := 0; i < 500; i++ {
				h.OnFrame([]byte{byte(i), 1, 2, 3}, frame.Metadata{Seq: uint64(i)})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	q.Stop()
	<-done

	if v := imp.Violations(); len(v) != 0 {
		t.Fatalf("ownership violations: %v", v)
	}
	s := stats.Snapshot()
	if s.Received != 2000 {
		t.Errorf("received = %d", s.Received)
	}
	if s.Enqueued+s.Dropped() != s.Received {
		t.Errorf("enqueued %d + dropped %d != received %d", s.Enqueued, s.Dropped(), s.Received)
	}
	if s.Forwarded != s.Enqueued {
		t.Errorf("forwarded %d != enqueued %d", s.Forwarded, s.Enqueued)
	}
	if imp.pool.Leased() != 0 {
		t.Errorf("%d buffers leaked", imp.pool.Leased())
	}
}
