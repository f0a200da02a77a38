// Package exec provides the execution contexts that pack and unpack work is
// dispatched through.  A context is bound to one execution resource and
// decides where and when a ForAll body runs: inline on the caller, across
// host goroutines, on a device stream, inside a persistent kernel, or in a
// deferred batch.
package exec

import "github.com/lanl/halo-exchange/internal/contract"

// A Kind identifies an execution-context variant.
type Kind int

const (
	KindSeq        Kind = iota // Inline on the calling goroutine
	KindParallel               // Split across host goroutines
	KindNativeType             // Inline, with packing delegated to the transport's datatypes
	KindStream                 // Launched on a device stream
	KindPersistent             // Enqueued on a persistent kernel
	KindBatch                  // Deferred into a batch launched on a device stream
)

var kindNames = map[Kind]string{
	KindSeq:        "seq",
	KindParallel:   "parallel",
	KindNativeType: "native",
	KindStream:     "stream",
	KindPersistent: "persistent",
	KindBatch:      "batch",
}

func (k Kind) String() string {
	str, ok := kindNames[k]
	if !ok {
		return "unknown Kind"
	}
	return str
}

// Async reports whether ForAll may return before its body has run.
func (k Kind) Async() bool {
	return k == KindStream || k == KindPersistent || k == KindBatch
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindSeq, false
}

// A Context is an execution environment for parallel loops.
type Context interface {
	// Kind identifies the variant.
	Kind() Kind

	// ForAll runs body for every i in [begin, end).
	ForAll(begin, end int, body func(i int))

	// ForAll2D runs body over a two-dimensional index space, first
	// dimension slowest.
	ForAll2D(begin0, end0, begin1, end1 int, body func(i, j int))

	// ForAll3D runs body over a three-dimensional index space, first
	// dimension slowest.
	ForAll3D(begin0, end0, begin1, end1, begin2, end2 int, body func(i, j, k int))

	// Synchronize blocks until all work submitted through the context
	// has completed.
	Synchronize()

	// PersistentLaunch ensures a persistent kernel is resident.  Only
	// persistent contexts act on it.
	PersistentLaunch()

	// PersistentStop retires a resident persistent kernel.  Only
	// persistent contexts act on it.
	PersistentStop()

	// BatchLaunch launches deferred work.  Only batch contexts act on it.
	BatchLaunch()

	CreateEvent() *Event
	RecordEvent(e *Event)
	QueryEvent(e *Event) bool
	WaitEvent(e *Event)
	DestroyEvent(e *Event)
}

// completion is the context-specific part of an event.
type completion interface {
	Query() bool
	Wait()
}

// An Event is a completion token.  It is created by a context, recorded to
// capture the work submitted so far, then queried or waited, and finally
// destroyed.  Recording an event again rebinds it to the new point.
type Event struct {
	c         completion
	destroyed bool
}

func (e *Event) check(op string) {
	contract.Require(e != nil, "exec: %s on nil event", op)
	contract.Require(!e.destroyed, "exec: %s on destroyed event", op)
}

func (e *Event) bind(c completion) {
	e.check("record")
	e.c = c
}

func (e *Event) query() bool {
	e.check("query")
	contract.Require(e.c != nil, "exec: query of an event that was never recorded")
	return e.c.Query()
}

func (e *Event) wait() {
	e.check("wait")
	contract.Require(e.c != nil, "exec: wait on an event that was never recorded")
	e.c.Wait()
}

func (e *Event) destroy() {
	e.check("destroy")
	e.destroyed = true
	e.c = nil
}

// done is a completion that is always complete.
type done struct{}

func (done) Query() bool { return true }
func (done) Wait()       {}

// flatten2D maps a 2-D body onto a linear index range.
func flatten2D(begin0, end0, begin1, end1 int, body func(i, j int)) (int, func(int)) {
	len0, len1 := end0-begin0, end1-begin1
	if len0 <= 0 || len1 <= 0 {
		return 0, nil
	}
	return len0 * len1, func(idx int) {
		i := idx / len1
		body(begin0+i, begin1+idx-i*len1)
	}
}

// flatten3D maps a 3-D body onto a linear index range.
func flatten3D(begin0, end0, begin1, end1, begin2, end2 int, body func(i, j, k int)) (int, func(int)) {
	len0, len1, len2 := end0-begin0, end1-begin1, end2-begin2
	if len0 <= 0 || len1 <= 0 || len2 <= 0 {
		return 0, nil
	}
	len12 := len1 * len2
	return len0 * len12, func(idx int) {
		i := idx / len12
		rem := idx - i*len12
		j := rem / len2
		body(begin0+i, begin1+j, begin2+rem-j*len2)
	}
}

// loops supplies the multi-dimensional loops of a context in terms of its
// one-dimensional ForAll.
type loops struct {
	forAll func(begin, end int, body func(i int))
}

func (l loops) ForAll2D(begin0, end0, begin1, end1 int, body func(i, j int)) {
	if n, fn := flatten2D(begin0, end0, begin1, end1, body); n > 0 {
		l.forAll(0, n, fn)
	}
}

func (l loops) ForAll3D(begin0, end0, begin1, end1, begin2, end2 int, body func(i, j, k int)) {
	if n, fn := flatten3D(begin0, end0, begin1, end1, begin2, end2, body); n > 0 {
		l.forAll(0, n, fn)
	}
}
