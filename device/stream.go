// Package device emulates accelerator streams.  A Stream executes launched
// work strictly in launch order on its own goroutine, so work launched on one
// stream overlaps with the launching goroutine and with other streams exactly
// as kernels on separate device streams would.
package device

import (
	"sync"

	"go.uber.org/zap"
)

// A Stream is an in-order work queue with a dedicated executor.
type Stream struct {
	id int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewStream creates a stream and starts its executor.
func NewStream(id int) *Stream {
	s := &Stream{id: id, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// ID returns the stream's identifier.
func (s *Stream) ID() int {
	return s.id
}

// run executes queued work until the stream is closed and drained.
func (s *Stream) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}

// Launch enqueues fn behind all previously launched work.  Launch never
// blocks on the work itself.
func (s *Stream) Launch(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		zap.L().Named("device").Panic("launch on closed stream", zap.Int("stream", s.id))
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
}

// Record returns an event that becomes complete once every piece of work
// launched before the call has finished.
func (s *Stream) Record() *Event {
	e := newEvent()
	s.Launch(e.complete)
	return e
}

// Synchronize blocks until all work launched before the call has finished.
func (s *Stream) Synchronize() {
	s.Record().Wait()
}

// Close drains the stream and stops its executor.  Work launched after
// Close panics.
func (s *Stream) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Signal()
	}
	s.mu.Unlock()
	<-s.done
}

// An Event marks a point in a stream's work sequence.
type Event struct {
	once sync.Once
	done chan struct{}
}

func newEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// CompletedEvent returns an event that is already complete.
func CompletedEvent() *Event {
	e := newEvent()
	e.complete()
	return e
}

func (e *Event) complete() {
	e.once.Do(func() { close(e.done) })
}

// Query reports whether the event has completed without blocking.
func (e *Event) Query() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the event has completed.
func (e *Event) Wait() {
	<-e.done
}
