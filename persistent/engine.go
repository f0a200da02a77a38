// Package persistent implements a persistent-launch engine: a resident kernel
// that occupies a device stream and polls a lock-free work queue, so many
// small units of work share one launch.
//
// Work may be enqueued while the kernel is not resident.  It stays queued
// and runs, in enqueue order, after the next Launch.
package persistent

import (
	"runtime"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iox"
	"go.uber.org/zap"

	"github.com/lanl/halo-exchange/device"
	"github.com/lanl/halo-exchange/internal/contract"
)

// DefaultCapacity is the queue size used when none is given.
const DefaultCapacity = 1024

// idleSpins is how many empty polls the kernel makes before yielding.
const idleSpins = 64

// A Marker completes when the resident kernel reaches its position in the
// queue, i.e. once every task enqueued before it has run.  A marker recorded
// with nothing queued rides the stream instead.
type Marker struct {
	once   sync.Once
	done   chan struct{}
	queued bool // Completed by the kernel rather than the stream
}

func newMarker(queued bool) *Marker {
	return &Marker{done: make(chan struct{}), queued: queued}
}

func (m *Marker) complete() {
	m.once.Do(func() { close(m.done) })
}

// Query reports whether the marker has been reached without blocking.
func (m *Marker) Query() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the marker has been reached.
func (m *Marker) Wait() {
	<-m.done
}

// An Engine owns the resident kernel for one stream.
type Engine struct {
	stream *device.Stream
	q      *queue
	log    *zap.Logger

	mu      sync.Mutex // Serializes Launch and Stop
	running atomic.Bool
	stop    atomic.Bool
	exited  chan struct{}
}

// NewEngine creates an engine for the given stream with room for capacity
// outstanding tasks.
func NewEngine(stream *device.Stream, capacity int) *Engine {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Engine{
		stream: stream,
		q:      newQueue(capacity),
		log:    zap.L().Named("persistent").With(zap.Int("stream", stream.ID())),
	}
}

// Stream returns the stream the engine launches onto.
func (e *Engine) Stream() *device.Stream {
	return e.stream
}

// Capacity returns the number of tasks the queue can hold.
func (e *Engine) Capacity() int {
	return e.q.capacity()
}

// Running reports whether the resident kernel has been launched and not
// yet stopped.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Pending returns an estimate of the number of queued tasks.
func (e *Engine) Pending() int {
	return e.q.len()
}

// Launch ensures the resident kernel is running.  The kernel is launched on
// the stream, so ordinary work launched on the stream earlier finishes first.
func (e *Engine) Launch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return
	}
	e.stop.Store(false)
	exited := make(chan struct{})
	e.exited = exited
	e.running.Store(true)
	e.log.Debug("launching persistent kernel", zap.Int("pending", e.q.len()))
	e.stream.Launch(func() { e.kernel(exited) })
}

// Stop signals the resident kernel to exit after draining the queue and
// blocks until it has.  Stopping an idle engine does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Load() {
		return
	}
	e.stop.Store(true)
	<-e.exited
	e.running.Store(false)
	e.log.Debug("persistent kernel stopped")
}

// kernel is the resident polling loop.
func (e *Engine) kernel(exited chan struct{}) {
	defer close(exited)
	spins := 0
	for {
		if t, ok := e.q.tryPop(); ok {
			run(t)
			spins = 0
			continue
		}
		if e.stop.Load() {
			// Anything published before the stop flag is visible now.
			for {
				t, ok := e.q.tryPop()
				if !ok {
					return
				}
				run(t)
			}
		}
		if spins++; spins >= idleSpins {
			runtime.Gosched()
			spins = 0
		}
	}
}

func run(t task) {
	if t.marker != nil {
		t.marker.complete()
		return
	}
	for i := t.begin; i < t.end; i++ {
		t.body(i)
	}
}

// push enqueues t, backing off while the running kernel drains a full
// queue.  An idle engine never drains, so overflowing it violates the
// engine's contract.
func (e *Engine) push(t task) {
	var bo iox.Backoff
	for !e.q.tryPush(t) {
		if !e.running.Load() {
			contract.Fail("persistent: deferred work exceeds queue capacity %d", e.q.capacity())
		}
		bo.Wait()
	}
}

// ForAll enqueues body over [begin, end).  It does not wait for the work.
func (e *Engine) ForAll(begin, end int, body func(i int)) {
	if end <= begin {
		return
	}
	contract.Require(body != nil, "persistent: nil body")
	e.push(task{begin: begin, end: end, body: body})
}

// Record returns a marker placed behind every task enqueued so far.
func (e *Engine) Record() *Marker {
	if !e.running.Load() && e.q.len() == 0 {
		// Nothing persistent is outstanding, so only ordinary stream
		// work can precede the marker.
		m := newMarker(false)
		e.stream.Launch(m.complete)
		return m
	}
	m := newMarker(true)
	e.push(task{marker: m})
	return m
}

// Synchronize blocks until every task enqueued so far has run and all
// ordinary stream work has finished.  While the kernel is not resident,
// deferred tasks are left queued and only the stream is synchronized.
func (e *Engine) Synchronize() {
	if e.running.Load() {
		m := newMarker(true)
		e.push(task{marker: m})
		m.Wait()
		return
	}
	e.stream.Synchronize()
}

// WaitMarker blocks until m is reached.  Waiting on a queued marker while
// the kernel is not resident could never return, so it violates the
// engine's contract.  Markers riding the stream may always be waited on.
func (e *Engine) WaitMarker(m *Marker) {
	if m.queued && !m.Query() && !e.running.Load() {
		contract.Fail("persistent: waiting on work deferred until the next launch")
	}
	m.Wait()
}
