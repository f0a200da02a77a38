package exec

import "github.com/lanl/halo-exchange/persistent"

// An Engine is the persistent-launch machinery a Persistent context drives.
// *persistent.Engine satisfies it.
type Engine interface {
	Launch()
	Stop()
	Running() bool
	ForAll(begin, end int, body func(i int))
	Record() *persistent.Marker
	WaitMarker(m *persistent.Marker)
	Synchronize()
}

// Persistent enqueues loops on a resident kernel instead of launching them.
//
// The context is Idle until PersistentLaunch and Running until
// PersistentStop.  Loops submitted while Idle are accepted and deferred to
// the next PersistentLaunch; Synchronize never reports them complete before
// that.  BatchLaunch is a no-op, since the resident kernel already amortizes
// launch cost.
type Persistent struct {
	loops
	noBatch
	engine Engine
}

type noBatch struct{}

func (noBatch) BatchLaunch() {}

// markerWait completes through the engine so a wait on deferred work is
// caught instead of hanging.
type markerWait struct {
	engine Engine
	m      *persistent.Marker
}

func (w markerWait) Query() bool { return w.m.Query() }
func (w markerWait) Wait()       { w.engine.WaitMarker(w.m) }

// NewPersistent returns a context driving engine.
func NewPersistent(engine Engine) *Persistent {
	c := &Persistent{engine: engine}
	c.loops = loops{forAll: c.ForAll}
	return c
}

// Kind identifies the variant.
func (*Persistent) Kind() Kind { return KindPersistent }

// Running reports whether the resident kernel is up.
func (c *Persistent) Running() bool { return c.engine.Running() }

// ForAll enqueues body over [begin, end) and returns without waiting.
func (c *Persistent) ForAll(begin, end int, body func(i int)) {
	c.engine.ForAll(begin, end, body)
}

// Synchronize blocks until all work enqueued while Running, and all ordinary
// stream work, has completed.
func (c *Persistent) Synchronize() { c.engine.Synchronize() }

// PersistentLaunch moves the context to Running.
func (c *Persistent) PersistentLaunch() { c.engine.Launch() }

// PersistentStop drains the queue, retires the kernel and moves the context
// to Idle.
func (c *Persistent) PersistentStop() { c.engine.Stop() }

// CreateEvent returns an unrecorded event.
func (*Persistent) CreateEvent() *Event { return &Event{} }

// RecordEvent binds e to the work enqueued so far.
func (c *Persistent) RecordEvent(e *Event) {
	e.bind(markerWait{engine: c.engine, m: c.engine.Record()})
}

// QueryEvent polls e.
func (*Persistent) QueryEvent(e *Event) bool { return e.query() }

// WaitEvent blocks until e has completed.
func (*Persistent) WaitEvent(e *Event) { e.wait() }

// DestroyEvent releases e.  The work it guarded is unaffected.
func (*Persistent) DestroyEvent(e *Event) { e.destroy() }
