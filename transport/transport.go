// Package transport defines the point-to-point boundary that messages are
// moved across: a communicator with nonblocking send and receive, single-use
// request handles, and datatypes describing structured memory layouts.
//
// Implementations live in subpackages.  local connects goroutines in one
// process and mpi wraps MPI_COMM_WORLD.
package transport

import (
	"errors"

	"go.uber.org/multierr"

	"github.com/lanl/halo-exchange/internal/contract"
)

var (
	// ErrTruncate reports a buffer too small for the data directed at it.
	ErrTruncate = errors.New("transport: message truncated")

	// ErrRank reports a peer rank outside the communicator.
	ErrRank = errors.New("transport: rank out of range")
)

// A Comm is a communicator among a fixed set of ranks.
type Comm interface {
	// Rank returns the caller's rank.
	Rank() int

	// Size returns the number of ranks.
	Size() int

	// Isend starts sending count elements of dt laid out in buf to rank
	// dest and binds the operation to req.
	Isend(buf []byte, count int, dt *Datatype, dest, tag int, req *Request) error

	// Irecv starts receiving up to count elements of dt into buf from rank
	// src and binds the operation to req.
	Irecv(buf []byte, count int, dt *Datatype, src, tag int, req *Request) error

	// Pack appends count elements of dt read from in to out at *pos and
	// advances *pos.
	Pack(in []byte, count int, dt *Datatype, out []byte, pos *int) error

	// Unpack reads count elements of dt from in at *pos into out and
	// advances *pos.
	Unpack(in []byte, pos *int, out []byte, count int, dt *Datatype) error

	// PackSize returns the bytes Pack needs for count elements of dt.
	PackSize(count int, dt *Datatype) int
}

// A Pending is an operation in flight that a Request tracks.
type Pending interface {
	// Test reports whether the operation has finished without blocking.
	Test() (bool, error)

	// Wait blocks until the operation has finished.
	Wait() error
}

// A Request is a single-use handle for one nonblocking operation.  The zero
// value is inactive.  A request becomes active when an operation is started
// on it and inactive again once Wait or a successful Test observes
// completion.
type Request struct {
	p Pending
}

// Start binds p to r.  Starting an operation on an active request violates
// the request's contract.
func (r *Request) Start(p Pending) {
	contract.Require(r != nil, "transport: start on nil request")
	contract.Require(r.p == nil, "transport: request is already active")
	r.p = p
}

// Active reports whether r tracks an unfinished operation.
func (r *Request) Active() bool {
	return r.p != nil
}

// Wait blocks until r's operation has finished.  Waiting on an inactive
// request returns immediately.
func (r *Request) Wait() error {
	if r.p == nil {
		return nil
	}
	p := r.p
	r.p = nil
	return p.Wait()
}

// Test reports whether r's operation has finished.  An inactive request has.
func (r *Request) Test() (bool, error) {
	if r.p == nil {
		return true, nil
	}
	done, err := r.p.Test()
	if done {
		r.p = nil
	}
	return done, err
}

// WaitAll waits on every request and returns all of their errors combined.
func WaitAll(reqs []*Request) error {
	var err error
	for _, r := range reqs {
		err = multierr.Append(err, r.Wait())
	}
	return err
}

// Completed is a Pending that has already finished with the given error.
type Completed struct {
	Err error
}

func (c Completed) Test() (bool, error) { return true, c.Err }
func (c Completed) Wait() error         { return c.Err }

// A Deferred is a Pending whose underlying operation is issued later,
// typically from a device stream.  It finishes when the operation passed to
// Resolve does.
type Deferred struct {
	ready chan struct{}
	inner Pending
	err   error
}

// NewDeferred returns an unresolved Deferred.
func NewDeferred() *Deferred {
	return &Deferred{ready: make(chan struct{})}
}

// Resolve supplies the issued operation, or the error that prevented issuing
// it.  It must be called exactly once.
func (d *Deferred) Resolve(p Pending, err error) {
	d.inner, d.err = p, err
	close(d.ready)
}

// Test reports whether the operation has been issued and has finished.
func (d *Deferred) Test() (bool, error) {
	select {
	case <-d.ready:
	default:
		return false, nil
	}
	if d.err != nil {
		return true, d.err
	}
	return d.inner.Test()
}

// Wait blocks until the operation has been issued and has finished.
func (d *Deferred) Wait() error {
	<-d.ready
	if d.err != nil {
		return d.err
	}
	return d.inner.Wait()
}
