package exec

import (
	"runtime"
	"sync"
)

// noLaunch provides the launch controls for contexts that have nothing to
// launch.
type noLaunch struct{}

func (noLaunch) PersistentLaunch() {}
func (noLaunch) PersistentStop()   {}
func (noLaunch) BatchLaunch()      {}

// immediateEvents provides events for contexts whose work is complete when
// ForAll returns.
type immediateEvents struct{}

func (immediateEvents) CreateEvent() *Event      { return &Event{} }
func (immediateEvents) RecordEvent(e *Event)     { e.bind(done{}) }
func (immediateEvents) QueryEvent(e *Event) bool { return e.query() }
func (immediateEvents) WaitEvent(e *Event)       { e.wait() }
func (immediateEvents) DestroyEvent(e *Event)    { e.destroy() }

// Seq runs every loop inline on the calling goroutine.
type Seq struct {
	loops
	noLaunch
	immediateEvents
}

// NewSeq returns a sequential host context.
func NewSeq() *Seq {
	c := &Seq{}
	c.loops = loops{forAll: c.ForAll}
	return c
}

// Kind identifies the variant.
func (*Seq) Kind() Kind { return KindSeq }

// ForAll runs body for every i in [begin, end) before returning.
func (*Seq) ForAll(begin, end int, body func(i int)) {
	for i := begin; i < end; i++ {
		body(i)
	}
}

// Synchronize does nothing; sequential work is complete on return.
func (*Seq) Synchronize() {}

// NativeType is a sequential host context whose presence tells messages to
// hand packing to the transport's native datatypes instead of copy loops.
type NativeType struct {
	Seq
}

// NewNativeType returns a native-datatype context.
func NewNativeType() *NativeType {
	c := &NativeType{}
	c.loops = loops{forAll: c.ForAll}
	return c
}

// Kind identifies the variant.
func (*NativeType) Kind() Kind { return KindNativeType }

// Parallel splits each loop across host goroutines and returns once every
// goroutine has finished its share.
type Parallel struct {
	loops
	noLaunch
	immediateEvents
	workers int
	grain   int
}

// NewParallel returns a host-parallel context.  A non-positive workers count
// selects GOMAXPROCS.
func NewParallel(workers int) *Parallel {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	c := &Parallel{workers: workers, grain: 1024}
	c.loops = loops{forAll: c.ForAll}
	return c
}

// Kind identifies the variant.
func (*Parallel) Kind() Kind { return KindParallel }

// Workers returns the number of goroutines a loop is split across.
func (c *Parallel) Workers() int { return c.workers }

// ForAll runs body for every i in [begin, end).  Ranges smaller than the
// grain size run inline.
func (c *Parallel) ForAll(begin, end int, body func(i int)) {
	n := end - begin
	if n <= 0 {
		return
	}
	if n <= c.grain || c.workers == 1 {
		for i := begin; i < end; i++ {
			body(i)
		}
		return
	}

	// Hand each worker a contiguous chunk.
	chunk := (n + c.workers - 1) / c.workers
	var wg sync.WaitGroup
	for lo := begin; lo < end; lo += chunk {
		hi := lo + chunk
		if hi > end {
			hi = end
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				body(i)
			}
		}(lo, hi)
	}
	wg.Wait()
}

// Synchronize does nothing; parallel loops are complete on return.
func (*Parallel) Synchronize() {}
