package exec

import (
	"sync"

	"github.com/lanl/halo-exchange/device"
)

// streamEvents provides events recorded on a device stream.
type streamEvents struct {
	stream *device.Stream
}

func (s streamEvents) CreateEvent() *Event      { return &Event{} }
func (s streamEvents) RecordEvent(e *Event)     { e.bind(s.stream.Record()) }
func (s streamEvents) QueryEvent(e *Event) bool { return e.query() }
func (s streamEvents) WaitEvent(e *Event)       { e.wait() }
func (s streamEvents) DestroyEvent(e *Event)    { e.destroy() }

// Stream launches each loop as one unit of work on a device stream.
type Stream struct {
	loops
	noLaunch
	streamEvents
}

// NewStream returns a context bound to s.
func NewStream(s *device.Stream) *Stream {
	c := &Stream{streamEvents: streamEvents{stream: s}}
	c.loops = loops{forAll: c.ForAll}
	return c
}

// Kind identifies the variant.
func (*Stream) Kind() Kind { return KindStream }

// Stream returns the bound stream.
func (c *Stream) Stream() *device.Stream { return c.stream }

// ForAll launches body over [begin, end) and returns without waiting.
func (c *Stream) ForAll(begin, end int, body func(i int)) {
	if end <= begin {
		return
	}
	c.stream.Launch(func() {
		for i := begin; i < end; i++ {
			body(i)
		}
	})
}

// Synchronize blocks until the stream has drained.
func (c *Stream) Synchronize() {
	c.stream.Synchronize()
}

// DefaultBatchSize is the number of loops a Batch defers before launching
// them on its own.
const DefaultBatchSize = 256

// Batch defers loops and launches them together as a single unit of stream
// work, trading launch latency for fewer launches.
type Batch struct {
	loops
	stream *device.Stream
	limit  int

	mu      sync.Mutex
	pending []func()
	seq     uint64 // Number of batches launched so far
}

// batchMark completes when the batch entry recorded for it runs.
type batchMark struct {
	c     *Batch
	batch uint64 // Value of c.seq when the mark was recorded
	done  chan struct{}
}

func (m *batchMark) Query() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Wait launches the batch holding the mark if that has not happened yet.
func (m *batchMark) Wait() {
	m.c.mu.Lock()
	launched := m.c.seq > m.batch
	m.c.mu.Unlock()
	if !launched {
		m.c.BatchLaunch()
	}
	<-m.done
}

// NewBatch returns a batching context on s.  A non-positive limit selects
// DefaultBatchSize.
func NewBatch(s *device.Stream, limit int) *Batch {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	c := &Batch{stream: s, limit: limit}
	c.loops = loops{forAll: c.ForAll}
	return c
}

// Kind identifies the variant.
func (*Batch) Kind() Kind { return KindBatch }

// Stream returns the bound stream.
func (c *Batch) Stream() *device.Stream { return c.stream }

// Pending returns the number of deferred entries.
func (c *Batch) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ForAll defers body over [begin, end) into the current batch.  A full
// batch is launched immediately.
func (c *Batch) ForAll(begin, end int, body func(i int)) {
	if end <= begin {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, func() {
		for i := begin; i < end; i++ {
			body(i)
		}
	})
	full := len(c.pending) >= c.limit
	c.mu.Unlock()
	if full {
		c.BatchLaunch()
	}
}

// BatchLaunch launches every deferred entry as one unit of stream work.
func (c *Batch) BatchLaunch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launchLocked()
}

func (c *Batch) launchLocked() {
	if len(c.pending) == 0 {
		return
	}
	work := c.pending
	c.pending = nil
	c.seq++
	c.stream.Launch(func() {
		for _, fn := range work {
			fn()
		}
	})
}

// PersistentLaunch does nothing for a batch context.
func (*Batch) PersistentLaunch() {}

// PersistentStop does nothing for a batch context.
func (*Batch) PersistentStop() {}

// Synchronize launches the current batch and waits for the stream.
func (c *Batch) Synchronize() {
	c.BatchLaunch()
	c.stream.Synchronize()
}

// CreateEvent returns an unrecorded event.
func (*Batch) CreateEvent() *Event { return &Event{} }

// RecordEvent places e behind every deferred entry of the current batch.
func (c *Batch) RecordEvent(e *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		e.bind(c.stream.Record())
		return
	}
	m := &batchMark{c: c, batch: c.seq, done: make(chan struct{})}
	c.pending = append(c.pending, func() { close(m.done) })
	e.bind(m)
}

// QueryEvent reports whether e has completed.
func (*Batch) QueryEvent(e *Event) bool { return e.query() }

// WaitEvent blocks until e has completed, launching its batch if needed.
func (*Batch) WaitEvent(e *Event) { e.wait() }

// DestroyEvent releases e.
func (*Batch) DestroyEvent(e *Event) { e.destroy() }
